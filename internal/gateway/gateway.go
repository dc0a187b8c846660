// Package gateway implements the operations a POP3/SMTP front end invokes,
// translating sequence-numbered client requests into Gmail calls.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joshsymonds/mailgate/internal/gmail"
	"github.com/joshsymonds/mailgate/internal/mailbox"
	"github.com/joshsymonds/mailgate/internal/metrics"
)

const (
	// DefaultLabel is the listing filter used when none is configured.
	DefaultLabel gmail.LabelID = "UNREAD"
	// DefaultMaxResults caps a listing; there is no paging beyond it.
	DefaultMaxResults = 1000
)

// Hooks are the four synchronous calls a protocol server makes. The server
// is responsible for calling them in a valid session order.
type Hooks interface {
	ListMessages(ctx context.Context) ([]mailbox.Entry, error)
	GetMessage(ctx context.Context, seq int) ([]byte, error)
	DeleteMessage(ctx context.Context, id gmail.MessageID) error
	StoreIncomingMessage(ctx context.Context, env Envelope, data []byte) (gmail.MessageID, error)
}

// Options configures a Service.
type Options struct {
	Label      gmail.LabelID
	MaxResults int
}

// Service holds what sessions share. It keeps no per-session state and is
// safe for concurrent use.
type Service struct {
	Store      gmail.Store
	Fetcher    *mailbox.Fetcher
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Label      gmail.LabelID
	MaxResults int
}

// NewService constructs a Service with defaults for unset options.
func NewService(store gmail.Store, logger *slog.Logger, m *metrics.Metrics, opts Options) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	label := opts.Label
	if label == "" {
		label = DefaultLabel
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Service{
		Store:      store,
		Fetcher:    mailbox.NewFetcher(store),
		Logger:     logger,
		Metrics:    m,
		Label:      label,
		MaxResults: maxResults,
	}
}

// NewSession starts a client session with an empty view.
func (s *Service) NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = s.Logger
	}
	return &Session{svc: s, log: logger, view: mailbox.NewView(nil)}
}

// Session is one client connection's view of the mailbox. It must not be
// shared between connections.
type Session struct {
	svc  *Service
	log  *slog.Logger
	view *mailbox.View
}

var _ Hooks = (*Session)(nil)

// ListMessages lists the configured label and makes the result the
// session's current numbering.
func (s *Session) ListMessages(ctx context.Context) ([]mailbox.Entry, error) {
	view, err := mailbox.BuildFromQuery(ctx, s.svc.Fetcher, s.svc.Label, s.svc.MaxResults)
	s.svc.Metrics.Observe("list", err)
	if err != nil {
		s.log.WarnContext(ctx, "list failed", "label", s.svc.Label, "error", err)
		return nil, err
	}
	s.view = view
	s.log.InfoContext(ctx, "listed mailbox",
		slog.String("label", string(s.svc.Label)),
		slog.Int("count", view.Len()),
		slog.Int64("octets", view.TotalSize()),
	)
	return view.Entries(), nil
}

// View returns the numbering built by the last ListMessages.
func (s *Session) View() *mailbox.View {
	return s.view
}

// Resolve maps seq to a message id using the current view.
func (s *Session) Resolve(seq int) (gmail.MessageID, error) {
	return s.view.Resolve(seq)
}

// Stat reports the message count and total size of the current view.
func (s *Session) Stat() (int, int64) {
	return s.view.Len(), s.view.TotalSize()
}

// GetMessage returns the RFC 822 bytes of message seq.
func (s *Session) GetMessage(ctx context.Context, seq int) ([]byte, error) {
	data, err := s.getMessage(ctx, seq)
	s.svc.Metrics.Observe("retrieve", err)
	if err != nil {
		s.log.WarnContext(ctx, "retrieve failed", "seq", seq, "error", err)
		return nil, err
	}
	return data, nil
}

func (s *Session) getMessage(ctx context.Context, seq int) ([]byte, error) {
	id, err := s.view.Resolve(seq)
	if err != nil {
		return nil, err
	}
	raw, err := s.svc.Fetcher.GetRawEncoded(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := raw.Bytes()
	if err != nil {
		return nil, fmt.Errorf("decode raw %s: %w: %w", id, gmail.ErrRetrievalFailed, err)
	}
	s.log.DebugContext(ctx, "retrieved message", "seq", seq, "id", id, "octets", len(data))
	return data, nil
}

// DeleteMessage moves id to the trash. The current view is left as is.
func (s *Session) DeleteMessage(ctx context.Context, id gmail.MessageID) error {
	err := s.svc.Store.Trash(ctx, id)
	if err != nil {
		err = fmt.Errorf("trash %s: %w: %w", id, gmail.ErrPartialFailure, err)
	}
	s.svc.Metrics.Observe("delete", err)
	if err != nil {
		s.log.WarnContext(ctx, "trash failed", "id", id, "error", err)
		return err
	}
	s.log.InfoContext(ctx, "trashed message", "id", id)
	return nil
}

// StoreIncomingMessage sends a message submitted by the client.
func (s *Session) StoreIncomingMessage(ctx context.Context, env Envelope, data []byte) (gmail.MessageID, error) {
	return s.svc.Submit(ctx, s.log, env, data)
}

// Submit sends data through the store after making sure every envelope
// recipient is addressed by a header. It returns once the single send call
// has completed.
func (s *Service) Submit(ctx context.Context, logger *slog.Logger, env Envelope, data []byte) (gmail.MessageID, error) {
	if logger == nil {
		logger = s.Logger
	}
	prepared, info, err := prepare(data, env)
	if err != nil {
		// Send the bytes untouched; Gmail will reject them if they are unusable.
		logger.WarnContext(ctx, "could not read submitted header", "error", err)
		prepared = data
	}
	if len(info.addedBcc) > 0 {
		logger.DebugContext(ctx, "added envelope recipients as bcc", "count", len(info.addedBcc))
	}

	id, err := s.Store.Send(ctx, gmail.NewRawMessage(prepared))
	if err != nil {
		err = fmt.Errorf("send from %s: %w: %w", env.From, gmail.ErrSendFailed, err)
	}
	s.Metrics.Observe("submit", err)
	if err != nil {
		logger.ErrorContext(ctx, "error sending new message",
			"from", env.From, "recipients", len(env.To), "subject", info.subject, "error", err)
		return "", err
	}
	logger.InfoContext(ctx, "sent new message",
		"id", id, "from", env.From, "recipients", len(env.To), "subject", info.subject)
	return id, nil
}
