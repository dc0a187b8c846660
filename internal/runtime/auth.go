// internal/runtime/auth.go
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GatewayScope covers listing, raw reads, trashing and sending.
const GatewayScope = gmail.GmailModifyScope

// LoadOAuthConfig reads a Google client secret JSON file.
func LoadOAuthConfig(path string, scopes ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	if len(scopes) == 0 {
		scopes = []string{GatewayScope}
	}
	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	return cfg, nil
}

// Credential is the bearer credential handed to the Gmail facade. Refreshed
// tokens are written back to the store they were loaded from.
type Credential struct {
	src oauth2.TokenSource
}

// NewCredential loads the stored token and wraps it in a refreshing source.
func NewCredential(ctx context.Context, cfg *oauth2.Config, store TokenStore, logger *slog.Logger) (*Credential, error) {
	if logger == nil {
		logger = DefaultLogger()
	}
	tok, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load token (run mailgate-token first): %w", err)
	}
	return &Credential{src: &persistingSource{
		base:   cfg.TokenSource(ctx, tok),
		store:  store,
		last:   tok.AccessToken,
		logger: logger,
	}}, nil
}

// StaticCredential never refreshes.
func StaticCredential(tok *oauth2.Token) *Credential {
	return &Credential{src: oauth2.StaticTokenSource(tok)}
}

// TokenSource returns the source backing c.
func (c *Credential) TokenSource() oauth2.TokenSource {
	return c.src
}

// Token returns a valid token, refreshing it if needed.
func (c *Credential) Token() (*oauth2.Token, error) {
	return c.src.Token()
}

type persistingSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	store  TokenStore
	last   string
	logger *slog.Logger
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last {
		if err := p.store.Save(tok); err != nil {
			p.logger.Warn("could not persist refreshed token", "error", err)
		} else {
			p.logger.Debug("persisted refreshed token", "expiry", tok.Expiry)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}

// NewGmailStore builds the facade authenticated with cred. Extra client
// options are appended after the credential.
func NewGmailStore(ctx context.Context, cred *Credential, opts StoreOptions, extra ...option.ClientOption) (*GmailStore, error) {
	clientOpts := append([]option.ClientOption{option.WithTokenSource(cred.TokenSource())}, extra...)
	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGoogleAPIStore(svc, opts), nil
}

// AuthOptions locates the OAuth client secret and the stored token.
type AuthOptions struct {
	ClientSecret string
	Keyring      KeyringConfig
}

// OpenGatewayStore loads the client secret and keyring token and returns a
// facade authenticated for the full gateway scope.
func OpenGatewayStore(ctx context.Context, auth AuthOptions, opts StoreOptions, logger *slog.Logger) (*GmailStore, error) {
	if auth.ClientSecret == "" {
		return nil, fmt.Errorf("client secret path must be set")
	}
	oauthCfg, err := LoadOAuthConfig(auth.ClientSecret)
	if err != nil {
		return nil, err
	}
	tokens, err := OpenKeyringTokenStore(auth.Keyring)
	if err != nil {
		return nil, err
	}
	cred, err := NewCredential(ctx, oauthCfg, tokens, logger)
	if err != nil {
		return nil, err
	}
	return NewGmailStore(ctx, cred, opts)
}

// NewGmailctlStore reuses the authorization of an existing gmailctl config
// directory. Its token is scoped for gmailctl's own needs, so only listing
// and metadata reads should be expected to work.
func NewGmailctlStore(ctx context.Context, cfgDir string, opts StoreOptions) (*GmailStore, error) {
	svc, err := (localcred.Provider{}).Service(ctx, cfgDir)
	if err != nil {
		return nil, fmt.Errorf("gmailctl credentials in %s: %w", cfgDir, err)
	}
	return NewGoogleAPIStore(svc, opts), nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewLogger returns a stderr text logger at level ("debug", "info", "warn",
// "error"). An empty level means info.
func NewLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
