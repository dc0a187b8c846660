package gmail

import "context"

// Store is the narrow mailbox surface the gateway needs from Gmail. Each
// method is a single remote call; implementations do not retry.
type Store interface {
	ListByLabel(ctx context.Context, label LabelID, maxResults int) ([]MessageID, error)
	GetMetadata(ctx context.Context, id MessageID, headers []string) (MessageMeta, error)
	GetFull(ctx context.Context, id MessageID) (Message, error)
	GetRaw(ctx context.Context, id MessageID) (RawMessage, error)
	GetAttachment(ctx context.Context, id MessageID, attachmentID string) (RawMessage, error)
	Trash(ctx context.Context, id MessageID) error
	Send(ctx context.Context, raw RawMessage) (MessageID, error)
	ListLabels(ctx context.Context) ([]Label, error)
}
