// Package mailbox turns Gmail listings into the numbered maildrop a legacy
// client expects and fetches message content in the forms the gateway needs.
package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/joshsymonds/mailgate/internal/b64url"
	"github.com/joshsymonds/mailgate/internal/gmail"
)

// SummaryHeaders is the header projection requested for metadata fetches.
func SummaryHeaders() []string {
	return []string{"content-type", "from", "to", "cc", "subject", "date"}
}

// Fetcher retrieves message metadata and content from a gmail.Store.
type Fetcher struct {
	Store gmail.Store
}

// NewFetcher wraps store.
func NewFetcher(store gmail.Store) *Fetcher {
	return &Fetcher{Store: store}
}

// GetMetadata fetches the summary headers of one message.
func (f *Fetcher) GetMetadata(ctx context.Context, id gmail.MessageID) (gmail.MessageSummary, error) {
	meta, err := f.Store.GetMetadata(ctx, id, SummaryHeaders())
	if err != nil {
		return gmail.MessageSummary{}, fmt.Errorf("get metadata %s: %w: %w", id, gmail.ErrRetrievalFailed, err)
	}
	return summarize(id, meta), nil
}

// GetRawEncoded returns the message as Gmail sent it, still URL-safe base64.
func (f *Fetcher) GetRawEncoded(ctx context.Context, id gmail.MessageID) (gmail.RawMessage, error) {
	raw, err := f.Store.GetRaw(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get raw %s: %w: %w", id, gmail.ErrRetrievalFailed, err)
	}
	return raw, nil
}

// GetFull returns the message with its full part tree.
func (f *Fetcher) GetFull(ctx context.Context, id gmail.MessageID) (gmail.Message, error) {
	msg, err := f.Store.GetFull(ctx, id)
	if err != nil {
		return gmail.Message{}, fmt.Errorf("get full %s: %w: %w", id, gmail.ErrRetrievalFailed, err)
	}
	return msg, nil
}

// GetAttachment downloads and decodes one attachment body.
func (f *Fetcher) GetAttachment(ctx context.Context, att gmail.Attachment) ([]byte, error) {
	raw, err := f.Store.GetAttachment(ctx, att.MessageID, att.ID)
	if err != nil {
		return nil, fmt.Errorf("get attachment %s/%s: %w: %w", att.MessageID, att.ID, gmail.ErrRetrievalFailed, err)
	}
	data, err := b64url.Decode(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s/%s: %w", att.MessageID, att.ID, err)
	}
	return data, nil
}

// ListByLabel lists up to maxResults messages under label and fetches a
// summary for each, preserving the order Gmail returned. Any failed fetch
// fails the whole listing so numbering never has gaps.
func (f *Fetcher) ListByLabel(ctx context.Context, label gmail.LabelID, maxResults int) ([]gmail.MessageSummary, error) {
	ids, err := f.Store.ListByLabel(ctx, label, maxResults)
	if err != nil {
		return nil, fmt.Errorf("list label %s: %w: %w", label, gmail.ErrRetrievalFailed, err)
	}
	summaries := make([]gmail.MessageSummary, 0, len(ids))
	for _, id := range ids {
		sum, err := f.GetMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

func summarize(id gmail.MessageID, meta gmail.MessageMeta) gmail.MessageSummary {
	sum := gmail.MessageSummary{ID: id, Size: meta.Size}
	fields := map[string]*string{
		"content-type": &sum.ContentType,
		"from":         &sum.From,
		"to":           &sum.To,
		"cc":           &sum.Cc,
		"subject":      &sum.Subject,
		"date":         &sum.Date,
	}
	seen := make(map[string]bool, len(fields))
	for _, h := range meta.Headers {
		key := strings.ToLower(strings.TrimSpace(h.Name))
		dst, ok := fields[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		*dst = h.Value
	}
	return sum
}
