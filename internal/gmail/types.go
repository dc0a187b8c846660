package gmail

import (
	"strings"

	"github.com/joshsymonds/mailgate/internal/b64url"
)

// MessageID is Gmail's opaque message identifier.
type MessageID string

// LabelID identifies a Gmail label. System labels use their name as id (e.g. UNREAD).
type LabelID string

type Header struct {
	Name  string
	Value string
}

// MessageMeta is the result of a metadata-format get.
type MessageMeta struct {
	ID      MessageID
	Size    int64
	Headers []Header // in the order Gmail returned them
}

// MessageSummary is the per-message information a listing exposes.
type MessageSummary struct {
	ID          MessageID `json:"id"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Cc          string    `json:"cc"`
	Subject     string    `json:"subject"`
	Date        string    `json:"date"`
}

// Part is one node of a message's MIME tree.
type Part struct {
	MimeType string
	Filename string
	Headers  map[string]string
	Parts    []*Part
	Body     PartBody
}

// PartBody holds either inline URL-safe base64 data or a reference to an
// attachment stored separately.
type PartBody struct {
	Data         string
	AttachmentID string
	Size         int64
}

// Message is a full-format message.
type Message struct {
	ID      MessageID
	Size    int64
	Payload *Part
}

// Attachment describes an attachment referenced by a message part.
type Attachment struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MessageID MessageID `json:"message_id"`
}

type Label struct {
	ID   LabelID
	Name string
	Type string // "system" or "user"
}

// RawMessage is a complete RFC 822 message in URL-safe base64.
type RawMessage string

// NewRawMessage encodes an RFC 822 byte stream.
func NewRawMessage(b []byte) RawMessage {
	return RawMessage(b64url.Encode(b))
}

// Bytes decodes the message.
func (r RawMessage) Bytes() ([]byte, error) {
	return b64url.Decode(string(r))
}

// HeaderValue returns the first header named name, compared case-insensitively.
func (m MessageMeta) HeaderValue(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
