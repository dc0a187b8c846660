package smtpfront

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/joshsymonds/mailgate/internal/gateway"
	"github.com/joshsymonds/mailgate/internal/gmail"
)

type submission struct {
	env  gateway.Envelope
	data string
}

type fakeSubmitter struct {
	mu   sync.Mutex
	err  error
	subs []submission
}

func (f *fakeSubmitter) StoreIncomingMessage(ctx context.Context, env gateway.Envelope, data []byte) (gmail.MessageID, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, submission{env: env, data: string(data)})
	if f.err != nil {
		return "", f.err
	}
	return "sent-1", nil
}

func (f *fakeSubmitter) submissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.subs...)
}

func startServer(t *testing.T, cfg Config, sub *fakeSubmitter) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(context.Background(), cfg, func(*slog.Logger) Submitter { return sub }, slogDiscard(), nil)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return ln.Addr().String()
}

func deliver(c *smtp.Client, from string, to []string, msg string) error {
	if err := c.Mail(from, nil); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, msg); err != nil {
		return err
	}
	return w.Close()
}

const testMessage = "From: a@example.com\r\nTo: b@example.com\r\nSubject: hi\r\n\r\nhello\r\n"

func TestSubmitWithoutAuth(t *testing.T) {
	sub := &fakeSubmitter{}
	addr := startServer(t, Config{}, sub)

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.Hello("client.example.com"); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if err := deliver(c, "a@example.com", []string{"b@example.com", "hidden@example.com"}, testMessage); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := c.Quit(); err != nil {
		t.Fatalf("quit: %v", err)
	}

	subs := sub.submissions()
	if len(subs) != 1 {
		t.Fatalf("expected one submission, got %d", len(subs))
	}
	got := subs[0]
	if got.env.From != "a@example.com" || strings.Join(got.env.To, ",") != "b@example.com,hidden@example.com" {
		t.Fatalf("unexpected envelope %+v", got.env)
	}
	if got.data != testMessage {
		t.Fatalf("unexpected data %q", got.data)
	}
}

func TestSendFailureIsTransient(t *testing.T) {
	sub := &fakeSubmitter{err: gmail.ErrSendFailed}
	addr := startServer(t, Config{}, sub)

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	err = deliver(c, "a@example.com", []string{"b@example.com"}, testMessage)
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 451 {
		t.Fatalf("expected 451, got %v", err)
	}

	// The session stays usable after a failed send.
	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()
	if err := deliver(c, "a@example.com", []string{"b@example.com"}, testMessage); err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if n := len(sub.submissions()); n != 2 {
		t.Fatalf("unexpected submission count %d", n)
	}
}

func TestAuthRequired(t *testing.T) {
	sub := &fakeSubmitter{}
	addr := startServer(t, Config{Username: "gate", Password: "secret"}, sub)

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.Mail("a@example.com", nil); err == nil {
		t.Fatalf("MAIL accepted without auth")
	}
	if err := c.Auth(sasl.NewPlainClient("", "gate", "wrong")); err == nil {
		t.Fatalf("wrong password accepted")
	}
	if err := c.Auth(sasl.NewPlainClient("", "gate", "secret")); err != nil {
		t.Fatalf("auth failed: %v", err)
	}
	if err := deliver(c, "a@example.com", []string{"b@example.com"}, testMessage); err != nil {
		t.Fatalf("deliver after auth: %v", err)
	}
	if n := len(sub.submissions()); n != 1 {
		t.Fatalf("unexpected submission count %d", n)
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
