package runtime

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	store := NewTokenStore(keyring.NewArrayKeyring(nil), "")

	if _, err := store.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}

	want := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || !got.Expiry.Equal(want.Expiry) {
		t.Fatalf("unexpected token %+v", got)
	}
}

type memoryTokenStore struct {
	tok   *oauth2.Token
	saves int
}

func (m *memoryTokenStore) Load() (*oauth2.Token, error) {
	if m.tok == nil {
		return nil, ErrNoToken
	}
	return m.tok, nil
}

func (m *memoryTokenStore) Save(tok *oauth2.Token) error {
	m.saves++
	m.tok = tok
	return nil
}

type sequenceSource struct {
	tokens []string
	n      int
}

func (s *sequenceSource) Token() (*oauth2.Token, error) {
	tok := &oauth2.Token{AccessToken: s.tokens[s.n]}
	if s.n < len(s.tokens)-1 {
		s.n++
	}
	return tok, nil
}

func TestPersistingSourceSavesRefreshes(t *testing.T) {
	store := &memoryTokenStore{}
	src := &persistingSource{
		base:   &sequenceSource{tokens: []string{"first", "first", "second", "second"}},
		store:  store,
		last:   "first",
		logger: slogDiscard(),
	}
	for range 4 {
		if _, err := src.Token(); err != nil {
			t.Fatalf("token failed: %v", err)
		}
	}
	if store.saves != 1 || store.tok.AccessToken != "second" {
		t.Fatalf("unexpected saves %d (%+v)", store.saves, store.tok)
	}
}

func TestStaticCredential(t *testing.T) {
	cred := StaticCredential(&oauth2.Token{AccessToken: "fixed"})
	tok, err := cred.Token()
	if err != nil || tok.AccessToken != "fixed" {
		t.Fatalf("unexpected token %+v (%v)", tok, err)
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "debug", "INFO", "warn", "error"} {
		if _, err := NewLogger(level); err != nil {
			t.Fatalf("level %q rejected: %v", level, err)
		}
	}
	if _, err := NewLogger("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
