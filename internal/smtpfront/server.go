// Package smtpfront accepts SMTP submissions and hands them to the gateway
// for sending through Gmail.
package smtpfront

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/joshsymonds/mailgate/internal/gateway"
	"github.com/joshsymonds/mailgate/internal/gmail"
	"github.com/joshsymonds/mailgate/internal/metrics"
)

const defaultDomain = "mailgate"

// Submitter sends one submitted message.
type Submitter interface {
	StoreIncomingMessage(ctx context.Context, env gateway.Envelope, data []byte) (gmail.MessageID, error)
}

// Config describes the listener. PLAIN auth is required only when both
// Username and Password are set.
type Config struct {
	Addr            string
	Domain          string
	Username        string
	Password        string
	MaxMessageBytes int64
	SubmitTimeout   time.Duration
}

// Server wraps a go-smtp server whose sessions submit through Open.
type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

// New builds a server. ctx bounds every submission made by its sessions.
func New(ctx context.Context, cfg Config, open func(logger *slog.Logger) Submitter, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	b := &backend{
		ctx:           ctx,
		open:          open,
		logger:        logger,
		metrics:       m,
		authEnabled:   cfg.Username != "" && cfg.Password != "",
		authUsername:  cfg.Username,
		authPassword:  cfg.Password,
		submitTimeout: cfg.SubmitTimeout,
	}
	domain := cfg.Domain
	if domain == "" {
		domain = defaultDomain
	}
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		// Gmail refuses raw sends above 35 MB.
		maxBytes = 35 << 20
	}
	server := smtp.NewServer(b)
	server.Addr = cfg.Addr
	server.Domain = domain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 60 * time.Second
	server.WriteTimeout = 60 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = maxBytes

	return &Server{smtp: server, logger: logger}
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("smtp server listening", "addr", ln.Addr().String())
	return s.smtp.Serve(ln)
}

// Shutdown stops accepting and waits for open sessions until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.smtp.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	ctx           context.Context
	open          func(logger *slog.Logger) Submitter
	logger        *slog.Logger
	metrics       *metrics.Metrics
	authEnabled   bool
	authUsername  string
	authPassword  string
	submitTimeout time.Duration
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	logger := b.logger.With(
		slog.String("session", uuid.NewString()),
		slog.String("protocol", "smtp"),
	)
	if nc := c.Conn(); nc != nil {
		logger = logger.With(slog.String("remote", nc.RemoteAddr().String()))
	}
	logger.Debug("client connected")
	return &session{
		backend: b,
		logger:  logger,
		sub:     b.open(logger),
		release: b.metrics.SessionOpened("smtp"),
	}, nil
}

type session struct {
	backend       *backend
	logger        *slog.Logger
	sub           Submitter
	release       func()
	from          string
	to            []string
	authenticated bool
}

var _ smtp.AuthSession = (*session)(nil)

func (s *session) AuthMechanisms() []string {
	if s.backend.authEnabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.authEnabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.backend.authUsername)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.backend.authPassword)) == 1
		if userOK && passOK {
			s.authenticated = true
			return nil
		}
		s.logger.Warn("authentication failed", "user", username)
		return smtp.ErrAuthFailed
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = strings.TrimSpace(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.to = append(s.to, strings.TrimSpace(to))
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read message data: %w", err)
	}
	ctx := s.backend.ctx
	if s.backend.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.backend.submitTimeout)
		defer cancel()
	}
	env := gateway.Envelope{From: s.from, To: append([]string(nil), s.to...)}
	if _, err := s.sub.StoreIncomingMessage(ctx, env, data); err != nil {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 4, 0},
			Message:      "Message could not be relayed, try again later",
		}
	}
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	s.release()
	s.logger.Debug("client disconnected")
	return nil
}
