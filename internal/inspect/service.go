// Package inspect reports on a single Gmail message: its summary headers,
// plain-text body and attachment catalogue.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joshsymonds/mailgate/internal/gmail"
	"github.com/joshsymonds/mailgate/internal/mailbox"
	"github.com/joshsymonds/mailgate/internal/mime"
)

const (
	previewSubjectDisplayLimit = 60
	textPreviewLines           = 20
)

// Service inspects messages through a mailbox.Fetcher.
type Service struct {
	Fetcher *mailbox.Fetcher
	Logger  *slog.Logger
	Clock   func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(fetcher *mailbox.Fetcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Fetcher: fetcher,
		Logger:  logger,
		Clock:   time.Now,
	}
}

// Report describes one message.
type Report struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	Summary      gmail.MessageSummary `json:"summary"`
	SenderDomain string               `json:"sender_domain"`
	Text         string               `json:"text"`
	Attachments  []gmail.Attachment   `json:"attachments"`
	ParseErrors  []string             `json:"parse_errors,omitempty"`
	Saved        []SavedAttachment    `json:"saved,omitempty"`
}

// SavedAttachment records where an attachment was written.
type SavedAttachment struct {
	AttachmentID string `json:"attachment_id"`
	Path         string `json:"path"`
	Bytes        int    `json:"bytes"`
}

// Run fetches metadata and the full part tree of id and parses the body.
func (s *Service) Run(ctx context.Context, id gmail.MessageID) (Report, error) {
	if id == "" {
		return Report{}, errors.New("message id must not be empty")
	}
	s.Logger.InfoContext(ctx, "inspecting message", slog.String("id", string(id)))

	summary, err := s.Fetcher.GetMetadata(ctx, id)
	if err != nil {
		return Report{}, err
	}
	msg, err := s.Fetcher.GetFull(ctx, id)
	if err != nil {
		return Report{}, err
	}
	parsed := mime.Parse(msg.Payload, id)

	rep := Report{
		GeneratedAt:  s.Clock(),
		Summary:      summary,
		SenderDomain: domainOf(summary.From),
		Text:         parsed.Text,
		Attachments:  parsed.Attachments,
	}
	for _, perr := range parsed.Errors {
		s.Logger.WarnContext(ctx, "undecodable text part", "id", id, "error", perr)
		rep.ParseErrors = append(rep.ParseErrors, perr.Error())
	}
	return rep, nil
}

// SaveAttachments downloads every attachment of rep into dir. Files are
// named with SafeFilename and never overwrite each other.
func (s *Service) SaveAttachments(ctx context.Context, rep *Report, dir string) error {
	if len(rep.Attachments) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	used := map[string]bool{}
	for i, att := range rep.Attachments {
		data, err := s.Fetcher.GetAttachment(ctx, att)
		if err != nil {
			return err
		}
		name := uniqueName(SafeFilename(att.Filename, i), used)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		s.Logger.InfoContext(ctx, "saved attachment", "path", path, "bytes", len(data))
		rep.Saved = append(rep.Saved, SavedAttachment{AttachmentID: att.ID, Path: path, Bytes: len(data)})
	}
	return nil
}

// PrintHuman writes a readable report to the provided writer.
func PrintHuman(rep Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "message %s (%d octets)\n", rep.Summary.ID, rep.Summary.Size)
	fmt.Fprintf(&builder, "  From:    %s\n", rep.Summary.From)
	fmt.Fprintf(&builder, "  To:      %s\n", rep.Summary.To)
	if rep.Summary.Cc != "" {
		fmt.Fprintf(&builder, "  Cc:      %s\n", rep.Summary.Cc)
	}
	fmt.Fprintf(&builder, "  Subject: %s\n", rep.Summary.Subject)
	fmt.Fprintf(&builder, "  Date:    %s\n", rep.Summary.Date)
	if rep.Summary.ContentType != "" {
		fmt.Fprintf(&builder, "  Type:    %s\n", rep.Summary.ContentType)
	}

	if strings.TrimSpace(rep.Text) != "" {
		builder.WriteString("\nText:\n")
		lines := strings.Split(strings.TrimRight(rep.Text, "\n"), "\n")
		for i, line := range lines {
			if i == textPreviewLines {
				fmt.Fprintf(&builder, "  ... %d more lines\n", len(lines)-textPreviewLines)
				break
			}
			fmt.Fprintf(&builder, "  %s\n", line)
		}
	}
	if len(rep.Attachments) > 0 {
		builder.WriteString("\nAttachments:\n")
		for _, att := range rep.Attachments {
			fmt.Fprintf(&builder, "  %-40s %s\n", truncate(att.Filename, 40), att.ID)
		}
	}
	if len(rep.Saved) > 0 {
		builder.WriteString("\nSaved:\n")
		for _, sv := range rep.Saved {
			fmt.Fprintf(&builder, "  %s (%d bytes)\n", sv.Path, sv.Bytes)
		}
	}
	if len(rep.ParseErrors) > 0 {
		builder.WriteString("\nParse errors:\n")
		for _, perr := range rep.ParseErrors {
			fmt.Fprintf(&builder, "  %s\n", perr)
		}
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}
	return nil
}

// PrintListing writes the numbered maildrop as a POP3 client would see it.
func PrintListing(view *mailbox.View, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	for _, e := range view.Entries() {
		fmt.Fprintf(
			&builder,
			"%4d  %-18s %8d  %-30s %s\n",
			e.Seq,
			e.Summary.ID,
			e.Summary.Size,
			truncate(e.Summary.From, 30),
			truncate(e.Summary.Subject, previewSubjectDisplayLimit),
		)
	}
	fmt.Fprintf(&builder, "+OK %d %d\n", view.Len(), view.TotalSize())
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write listing: %w", err)
	}
	return nil
}

// WriteJSON serializes the report to a path relative to the working directory.
func WriteJSON(rep Report, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(rep); encodeErr != nil {
		return fmt.Errorf("encode report: %w", encodeErr)
	}
	return nil
}
