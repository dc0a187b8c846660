// Package mime extracts the plain-text body and the attachment catalogue from
// a Gmail message part tree.
package mime

import (
	"fmt"
	"strings"

	"github.com/joshsymonds/mailgate/internal/b64url"
	"github.com/joshsymonds/mailgate/internal/gmail"
)

const textPlain = "text/plain"

// Result is what a subtree contributes.
type Result struct {
	Text        string
	Attachments []gmail.Attachment
	// Errors lists leaves that could not be decoded. Those leaves contribute
	// empty text; the rest of the tree is still parsed.
	Errors []error
}

// Parse walks node depth-first. Children's texts are joined with a newline,
// including empty ones, and attachments keep encounter order. Every
// attachment is stamped with messageID.
func Parse(node *gmail.Part, messageID gmail.MessageID) Result {
	if node == nil {
		return Result{}
	}
	if len(node.Parts) > 0 {
		return parseChildren(node.Parts, messageID)
	}
	return parseLeaf(node, messageID)
}

func parseChildren(children []*gmail.Part, messageID gmail.MessageID) Result {
	var (
		out   Result
		texts = make([]string, 0, len(children))
	)
	for _, child := range children {
		res := Parse(child, messageID)
		texts = append(texts, res.Text)
		out.Attachments = append(out.Attachments, res.Attachments...)
		out.Errors = append(out.Errors, res.Errors...)
	}
	out.Text = strings.Join(texts, "\n")
	return out
}

func parseLeaf(node *gmail.Part, messageID gmail.MessageID) Result {
	body := node.Body
	switch {
	case body.AttachmentID == "" && body.Data != "" && isPlainText(node.MimeType):
		text, err := b64url.DecodeString(body.Data)
		if err != nil {
			return Result{Errors: []error{fmt.Errorf("decode %s part: %w", node.MimeType, err)}}
		}
		return Result{Text: text}
	case body.AttachmentID != "":
		return Result{Attachments: []gmail.Attachment{{
			ID:        body.AttachmentID,
			Filename:  node.Filename,
			MessageID: messageID,
		}}}
	default:
		return Result{}
	}
}

func isPlainText(mimeType string) bool {
	return strings.EqualFold(strings.TrimSpace(mimeType), textPlain)
}
