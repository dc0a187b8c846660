// Package pop3 serves a Gmail-backed maildrop to RFC 1939 clients.
package pop3

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/mailgate/internal/gmail"
	"github.com/joshsymonds/mailgate/internal/mailbox"
	"github.com/joshsymonds/mailgate/internal/metrics"
)

// DefaultReadTimeout bounds how long an idle client may hold a connection.
// RFC 1939 asks for at least ten minutes.
const DefaultReadTimeout = 10 * time.Minute

// Maildrop is what one POP3 connection needs from the gateway.
type Maildrop interface {
	ListMessages(ctx context.Context) ([]mailbox.Entry, error)
	GetMessage(ctx context.Context, seq int) ([]byte, error)
	DeleteMessage(ctx context.Context, id gmail.MessageID) error
}

// Server accepts POP3 connections and opens one Maildrop per connection.
type Server struct {
	Addr        string
	Username    string
	Password    string
	Open        func(logger *slog.Logger) Maildrop
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	ReadTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// ListenAndServe listens on s.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen pop3 on %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Close is called.
// It waits for open sessions to finish before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if s.Open == nil {
		return errors.New("pop3 server has no maildrop opener")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.Logger.Info("pop3 listening", "addr", ln.Addr().String())
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.wg.Wait()
				return nil
			}
			s.Logger.Warn("pop3 accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, nc)
		}()
	}
}

// Close stops accepting connections and drops open ones. Deletions marked in
// a dropped session are discarded, as RFC 1939 requires without a QUIT.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for nc := range s.conns {
		_ = nc.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) track(nc net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.conns, nc)
		return true
	}
	if s.closed {
		return false
	}
	if s.conns == nil {
		s.conns = map[net.Conn]struct{}{}
	}
	s.conns[nc] = struct{}{}
	return true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) checkCredentials(user, pass string) bool {
	if s.Username == "" && s.Password == "" {
		return true
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.Password)) == 1
	return userOK && passOK
}

func (s *Server) handle(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	if !s.track(nc, true) {
		return
	}
	defer s.track(nc, false)
	defer s.Metrics.SessionOpened("pop3")()

	logger := s.Logger.With(
		slog.String("session", uuid.NewString()),
		slog.String("protocol", "pop3"),
		slog.String("remote", nc.RemoteAddr().String()),
	)
	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	c := &conn{
		srv:     s,
		nc:      nc,
		tp:      textproto.NewConn(nc),
		log:     logger,
		timeout: timeout,
		deleted: map[int]bool{},
	}
	logger.Debug("client connected")
	if err := c.serve(ctx); err != nil {
		logger.Debug("session ended", "error", err)
		return
	}
	logger.Debug("session closed")
}
