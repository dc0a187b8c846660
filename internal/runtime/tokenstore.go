package runtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const (
	keyringService = "mailgate"
	// DefaultTokenKey is the keyring item holding the gateway's OAuth token.
	DefaultTokenKey = "gmail-oauth-token"
)

// ErrNoToken means no token has been stored yet.
var ErrNoToken = errors.New("no stored token")

// TokenStore persists an OAuth token between runs.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}

// KeyringConfig selects where tokens are kept. Empty fields fall back to the
// platform keychains with an encrypted file as the last resort.
type KeyringConfig struct {
	Backend      string
	Dir          string
	FilePassword string
	Key          string
}

// KeyringTokenStore keeps the token as JSON in a single keyring item.
type KeyringTokenStore struct {
	ring keyring.Keyring
	key  string
}

var _ TokenStore = (*KeyringTokenStore)(nil)

// OpenKeyringTokenStore opens the configured keyring.
func OpenKeyringTokenStore(cfg KeyringConfig) (*KeyringTokenStore, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if cfg.Backend != "" {
		backends = []keyring.BackendType{keyring.BackendType(cfg.Backend)}
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "~/.config/mailgate/keyring"
	}
	password := cfg.FilePassword
	if password == "" {
		password = "mailgate-file-key"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              keyringService,
		AllowedBackends:          backends,
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(password),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewTokenStore(ring, cfg.Key), nil
}

// NewTokenStore stores tokens under key in ring.
func NewTokenStore(ring keyring.Keyring, key string) *KeyringTokenStore {
	if key == "" {
		key = DefaultTokenKey
	}
	return &KeyringTokenStore{ring: ring, key: key}
}

func (s *KeyringTokenStore) Load() (*oauth2.Token, error) {
	item, err := s.ring.Get(s.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("getting token %q: %w", s.key, ErrNoToken)
	}
	if err != nil {
		return nil, fmt.Errorf("getting token %q: %w", s.key, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return nil, fmt.Errorf("parse token %q: %w", s.key, err)
	}
	return &tok, nil
}

func (s *KeyringTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:         s.key,
		Data:        data,
		Label:       "mailgate Gmail token",
		Description: "OAuth token used by the mailgate gateway",
	})
	if err != nil {
		return fmt.Errorf("storing token %q: %w", s.key, err)
	}
	return nil
}
