package mime

import (
	"errors"
	"testing"

	"github.com/joshsymonds/mailgate/internal/b64url"
	"github.com/joshsymonds/mailgate/internal/gmail"
)

func textLeaf(s string) *gmail.Part {
	return &gmail.Part{MimeType: "text/plain", Body: gmail.PartBody{Data: b64url.Encode([]byte(s))}}
}

func attachmentLeaf(id, name string) *gmail.Part {
	return &gmail.Part{
		MimeType: "application/pdf",
		Filename: name,
		Body:     gmail.PartBody{AttachmentID: id, Size: 1024},
	}
}

func multipart(children ...*gmail.Part) *gmail.Part {
	return &gmail.Part{MimeType: "multipart/mixed", Parts: children}
}

func TestParseTwoTextLeaves(t *testing.T) {
	res := Parse(multipart(textLeaf("A"), textLeaf("B")), "m1")
	if res.Text != "A\nB" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
	if len(res.Attachments) != 0 {
		t.Fatalf("unexpected attachments: %+v", res.Attachments)
	}
}

func TestParseTextAndAttachment(t *testing.T) {
	res := Parse(textLeaf("hello"), "m1")
	if res.Text != "hello" {
		t.Fatalf("unexpected text: %q", res.Text)
	}

	res = Parse(multipart(textLeaf("hello"), attachmentLeaf("att-1", "report.pdf")), "m1")
	if len(res.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(res.Attachments))
	}
	want := gmail.Attachment{ID: "att-1", Filename: "report.pdf", MessageID: "m1"}
	if res.Attachments[0] != want {
		t.Fatalf("unexpected attachment: %+v", res.Attachments[0])
	}
	// The attachment child still occupies a (blank) line.
	if res.Text != "hello\n" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}

func TestParseAttachmentOrderAndOwner(t *testing.T) {
	root := multipart(
		multipart(
			attachmentLeaf("a1", "one.txt"),
			multipart(attachmentLeaf("a2", "two.txt")),
		),
		textLeaf("body"),
		attachmentLeaf("a3", "three.txt"),
	)
	res := Parse(root, "owner")
	wantIDs := []string{"a1", "a2", "a3"}
	if len(res.Attachments) != len(wantIDs) {
		t.Fatalf("unexpected attachment count: %+v", res.Attachments)
	}
	for i, att := range res.Attachments {
		if att.ID != wantIDs[i] {
			t.Fatalf("attachment %d: got %q want %q", i, att.ID, wantIDs[i])
		}
		if att.MessageID != "owner" {
			t.Fatalf("attachment %d carries message id %q", i, att.MessageID)
		}
	}
}

func TestParseDropsOtherLeaves(t *testing.T) {
	html := &gmail.Part{MimeType: "text/html", Body: gmail.PartBody{Data: b64url.Encode([]byte("<p>x</p>"))}}
	empty := &gmail.Part{MimeType: "text/plain"}
	res := Parse(multipart(html, textLeaf("plain"), empty), "m1")
	if res.Text != "\nplain\n" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
	if len(res.Attachments) != 0 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseTextPlainWithAttachmentIDIsAttachment(t *testing.T) {
	leaf := &gmail.Part{
		MimeType: "text/plain",
		Filename: "notes.txt",
		Body:     gmail.PartBody{Data: b64url.Encode([]byte("ignored")), AttachmentID: "att-9"},
	}
	res := Parse(leaf, "m1")
	if res.Text != "" {
		t.Fatalf("expected no text, got %q", res.Text)
	}
	if len(res.Attachments) != 1 || res.Attachments[0].ID != "att-9" {
		t.Fatalf("unexpected attachments: %+v", res.Attachments)
	}
}

func TestParseIsolatesMalformedLeaf(t *testing.T) {
	bad := &gmail.Part{MimeType: "text/plain", Body: gmail.PartBody{Data: "!!not base64!!"}}
	res := Parse(multipart(textLeaf("A"), bad, textLeaf("C"), attachmentLeaf("a1", "f")), "m1")
	if res.Text != "A\n\nC\n" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], gmail.ErrDecode) {
		t.Fatalf("expected one decode error, got %+v", res.Errors)
	}
	if len(res.Attachments) != 1 {
		t.Fatalf("walk stopped early: %+v", res.Attachments)
	}
}

func TestParseNil(t *testing.T) {
	res := Parse(nil, "m1")
	if res.Text != "" || res.Attachments != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}
