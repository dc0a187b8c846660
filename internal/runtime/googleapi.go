// internal/runtime/googleapi.go adapts *gmail.Service to the gc.Store seam.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/mailgate/internal/gmail"
	"github.com/joshsymonds/mailgate/internal/rate"
)

// StoreOptions tunes the facade. The zero value talks to the authenticated
// user with no pacing and no per-call deadline.
type StoreOptions struct {
	User    string
	Limiter rate.Limiter
	Timeout time.Duration
}

// GmailStore is the Gmail implementation of gc.Store. Every method issues
// exactly one API request.
type GmailStore struct {
	svc     *gmail.Service
	user    string
	limiter rate.Limiter
	timeout time.Duration
}

var _ gc.Store = (*GmailStore)(nil)

// NewGoogleAPIStore wraps an already authenticated service.
func NewGoogleAPIStore(svc *gmail.Service, opts StoreOptions) *GmailStore {
	user := opts.User
	if user == "" {
		user = "me"
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	return &GmailStore{svc: svc, user: user, limiter: limiter, timeout: opts.Timeout}
}

func (g *GmailStore) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	if g.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

func (g *GmailStore) ListByLabel(ctx context.Context, label gc.LabelID, maxResults int) ([]gc.MessageID, error) {
	ctx, cancel, err := g.begin(ctx)
	if err != nil {
		return nil, classify("list messages", err)
	}
	defer cancel()

	call := g.svc.Users.Messages.List(g.user).LabelIds(string(label))
	if maxResults > 0 {
		call = call.MaxResults(int64(maxResults))
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classify("list messages", err)
	}
	ids := make([]gc.MessageID, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, gc.MessageID(m.Id))
	}
	return ids, nil
}

func (g *GmailStore) GetMetadata(ctx context.Context, id gc.MessageID, headers []string) (gc.MessageMeta, error) {
	ctx, cancel, err := g.begin(ctx)
	if err != nil {
		return gc.MessageMeta{}, classify("get metadata", err)
	}
	defer cancel()

	msg, err := g.svc.Users.Messages.Get(g.user, string(id)).Format("metadata").MetadataHeaders(headers...).Context(ctx).Do()
	if err != nil {
		return gc.MessageMeta{}, classify("get metadata", err)
	}
	meta := gc.MessageMeta{ID: id, Size: msg.SizeEstimate}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			meta.Headers = append(meta.Headers, gc.Header{Name: h.Name, Value: h.Value})
		}
	}
	return meta, nil
}

func (g *GmailStore) GetFull(ctx context.Context, id gc.MessageID) (gc.Message, error) {
	ctx, cancel, err := g.begin(ctx)
	if err != nil {
		return gc.Message{}, classify("get message", err)
	}
	defer cancel()

	msg, err := g.svc.Users.Messages.Get(g.user, string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return gc.Message{}, classify("get message", err)
	}
	return gc.Message{ID: id, Size: msg.SizeEstimate, Payload: toPart(msg.Payload)}, nil
}

func (g *GmailStore) GetRaw(ctx context.Context, id gc.MessageID) (gc.RawMessage, error) {
	ctx, cancel, err := g.begin(ctx)
	if err != nil {
		return "", classify("get raw message", err)
	}
	defer cancel()

	msg, err := g.svc.Users.Messages.Get(g.user, string(id)).Format("raw").Context(ctx).Do()
	if err != nil {
		return "", classify("get raw message", err)
	}
	return gc.RawMessage(msg.Raw), nil
}

func (g *GmailStore) GetAttachment(ctx context.Context, id gc.MessageID, attachmentID string) (gc.RawMessage, error) {
	ctx, cancel, err := g.begin(ctx)
	if err != nil {
		return "", classify("get attachment", err)
	}
	defer cancel()

	body, err := g.svc.Users.Messages.Attachments.Get(g.user, string(id), attachmentID).Context(ctx).Do()
	if err != nil {
		return "", classify("get attachment", err)
	}
	return gc.RawMessage(body.Data), nil
}

func (g *GmailStore) Trash(ctx context.Context, id gc.MessageID) error {
	ctx, cancel, err := g.begin(ctx)
	if err != nil {
		return classify("trash message", err)
	}
	defer cancel()

	if _, err := g.svc.Users.Messages.Trash(g.user, string(id)).Context(ctx).Do(); err != nil {
		return classify("trash message", err)
	}
	return nil
}

func (g *GmailStore) Send(ctx context.Context, raw gc.RawMessage) (gc.MessageID, error) {
	ctx, cancel, err := g.begin(ctx)
	if err != nil {
		return "", classify("send message", err)
	}
	defer cancel()

	sent, err := g.svc.Users.Messages.Send(g.user, &gmail.Message{Raw: string(raw)}).Context(ctx).Do()
	if err != nil {
		return "", classify("send message", err)
	}
	return gc.MessageID(sent.Id), nil
}

func (g *GmailStore) ListLabels(ctx context.Context) ([]gc.Label, error) {
	ctx, cancel, err := g.begin(ctx)
	if err != nil {
		return nil, classify("list labels", err)
	}
	defer cancel()

	lr, err := g.svc.Users.Labels.List(g.user).Context(ctx).Do()
	if err != nil {
		return nil, classify("list labels", err)
	}
	labels := make([]gc.Label, 0, len(lr.Labels))
	for _, l := range lr.Labels {
		labels = append(labels, gc.Label{ID: gc.LabelID(l.Id), Name: l.Name, Type: l.Type})
	}
	return labels, nil
}

// classify tags err as not-found when Gmail answered 404 and as a transport
// failure otherwise.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", op, gc.ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w: %w", op, gc.ErrTransport, err)
}

func toPart(p *gmail.MessagePart) *gc.Part {
	if p == nil {
		return nil
	}
	part := &gc.Part{MimeType: p.MimeType, Filename: p.Filename}
	if len(p.Headers) > 0 {
		part.Headers = make(map[string]string, len(p.Headers))
		for _, h := range p.Headers {
			if _, dup := part.Headers[h.Name]; !dup {
				part.Headers[h.Name] = h.Value
			}
		}
	}
	if p.Body != nil {
		part.Body = gc.PartBody{Data: p.Body.Data, AttachmentID: p.Body.AttachmentId, Size: p.Body.Size}
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, toPart(child))
	}
	return part
}
