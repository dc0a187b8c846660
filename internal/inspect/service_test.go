package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joshsymonds/mailgate/internal/b64url"
	"github.com/joshsymonds/mailgate/internal/gmail"
	"github.com/joshsymonds/mailgate/internal/mailbox"
)

type fakeInspectStore struct {
	meta        gmail.MessageMeta
	full        gmail.Message
	attachments map[string]string
	fullErr     error
}

func (f *fakeInspectStore) ListByLabel(ctx context.Context, label gmail.LabelID, maxResults int) ([]gmail.MessageID, error) {
	_ = ctx
	_ = label
	_ = maxResults
	return nil, nil
}

func (f *fakeInspectStore) GetMetadata(ctx context.Context, id gmail.MessageID, headers []string) (gmail.MessageMeta, error) {
	_ = ctx
	_ = id
	_ = headers
	return f.meta, nil
}

func (f *fakeInspectStore) GetFull(ctx context.Context, id gmail.MessageID) (gmail.Message, error) {
	_ = ctx
	_ = id
	return f.full, f.fullErr
}

func (f *fakeInspectStore) GetRaw(ctx context.Context, id gmail.MessageID) (gmail.RawMessage, error) {
	_ = ctx
	_ = id
	return "", nil
}

func (f *fakeInspectStore) GetAttachment(ctx context.Context, id gmail.MessageID, attachmentID string) (gmail.RawMessage, error) {
	_ = ctx
	_ = id
	data, ok := f.attachments[attachmentID]
	if !ok {
		return "", gmail.ErrNotFound
	}
	return gmail.RawMessage(data), nil
}

func (f *fakeInspectStore) Trash(ctx context.Context, id gmail.MessageID) error {
	_ = ctx
	_ = id
	return nil
}

func (f *fakeInspectStore) Send(ctx context.Context, raw gmail.RawMessage) (gmail.MessageID, error) {
	_ = ctx
	_ = raw
	return "", nil
}

func (f *fakeInspectStore) ListLabels(ctx context.Context) ([]gmail.Label, error) {
	_ = ctx
	return nil, nil
}

func sampleStore() *fakeInspectStore {
	return &fakeInspectStore{
		meta: gmail.MessageMeta{ID: "m1", Size: 512, Headers: []gmail.Header{
			{Name: "From", Value: "Alice <alice@Example.org>"},
			{Name: "To", Value: "bob@example.com"},
			{Name: "Subject", Value: "Quarterly numbers"},
		}},
		full: gmail.Message{ID: "m1", Payload: &gmail.Part{
			MimeType: "multipart/mixed",
			Parts: []*gmail.Part{
				{MimeType: "text/plain", Body: gmail.PartBody{Data: b64url.Encode([]byte("see attached"))}},
				{MimeType: "application/pdf", Filename: "../../etc/report.pdf", Body: gmail.PartBody{AttachmentID: "a1"}},
				{MimeType: "application/pdf", Filename: "..\\..\\etc\\report.pdf", Body: gmail.PartBody{AttachmentID: "a2"}},
			},
		}},
		attachments: map[string]string{
			"a1": b64url.Encode([]byte("%PDF-1")),
			"a2": b64url.Encode([]byte("%PDF-2")),
		},
	}
}

func newTestService(store gmail.Store) *Service {
	svc := NewService(mailbox.NewFetcher(store), slogDiscard())
	svc.Clock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc
}

func TestRunBuildsReport(t *testing.T) {
	svc := newTestService(sampleStore())
	rep, err := svc.Run(context.Background(), "m1")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rep.Summary.Subject != "Quarterly numbers" || rep.SenderDomain != "example.org" {
		t.Fatalf("unexpected summary %+v / %q", rep.Summary, rep.SenderDomain)
	}
	if rep.Text != "see attached\n\n" {
		t.Fatalf("unexpected text %q", rep.Text)
	}
	if len(rep.Attachments) != 2 || rep.Attachments[0].MessageID != "m1" || rep.Attachments[1].ID != "a2" {
		t.Fatalf("unexpected attachments %+v", rep.Attachments)
	}
	if len(rep.ParseErrors) != 0 {
		t.Fatalf("unexpected parse errors %v", rep.ParseErrors)
	}
}

func TestRunPropagatesRetrievalFailure(t *testing.T) {
	store := sampleStore()
	store.fullErr = gmail.ErrTransport
	if _, err := newTestService(store).Run(context.Background(), "m1"); !errors.Is(err, gmail.ErrRetrievalFailed) {
		t.Fatalf("expected ErrRetrievalFailed, got %v", err)
	}
	if _, err := newTestService(store).Run(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestSaveAttachmentsStaysInDir(t *testing.T) {
	svc := newTestService(sampleStore())
	rep, err := svc.Run(context.Background(), "m1")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	dir := t.TempDir()
	if err := svc.SaveAttachments(context.Background(), &rep, dir); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if len(rep.Saved) != 2 {
		t.Fatalf("unexpected saved entries %+v", rep.Saved)
	}
	seen := map[string]bool{}
	for i, sv := range rep.Saved {
		if filepath.Dir(sv.Path) != dir {
			t.Fatalf("attachment written outside dir: %s", sv.Path)
		}
		if seen[sv.Path] {
			t.Fatalf("attachments overwrote each other at %s", sv.Path)
		}
		seen[sv.Path] = true
		data, err := os.ReadFile(sv.Path)
		if err != nil {
			t.Fatalf("read saved file: %v", err)
		}
		if want := []string{"%PDF-1", "%PDF-2"}[i]; string(data) != want {
			t.Fatalf("unexpected content %q", data)
		}
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		index int
		want  string
	}{
		{name: "plain", in: "report.pdf", want: "report.pdf"},
		{name: "unix traversal", in: "../../etc/passwd", want: "_.._etc_passwd"},
		{name: "windows separators", in: `C:\temp\a.txt`, want: "C:_temp_a.txt"},
		{name: "control characters", in: "a\x00b\nc.txt", want: "abc.txt"},
		{name: "empty", in: "", index: 2, want: "attachment-3"},
		{name: "only dots", in: "..", index: 0, want: "attachment-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeFilename(tt.in, tt.index); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
	long := strings.Repeat("x", 300) + ".pdf"
	if got := SafeFilename(long, 0); len(got) > maxFilenameLen || !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("long name not shortened correctly: %d %q", len(got), got[len(got)-8:])
	}
}

func TestPrintHuman(t *testing.T) {
	svc := newTestService(sampleStore())
	rep, err := svc.Run(context.Background(), "m1")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var buf bytes.Buffer
	if err := PrintHuman(rep, &buf); err != nil {
		t.Fatalf("print failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"message m1 (512 octets)", "Subject: Quarterly numbers", "see attached", "a2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintListing(t *testing.T) {
	view := mailbox.NewView([]gmail.MessageSummary{
		{ID: "m1", Size: 100, From: "a@example.com", Subject: "one"},
		{ID: "m2", Size: 200, From: "b@example.com", Subject: strings.Repeat("long ", 30)},
	})
	var buf bytes.Buffer
	if err := PrintListing(view, &buf); err != nil {
		t.Fatalf("print failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("unexpected listing:\n%s", buf.String())
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[1]), "2  m2") || !strings.HasSuffix(lines[1], "…") {
		t.Fatalf("unexpected row %q", lines[1])
	}
	if lines[2] != "+OK 2 300" {
		t.Fatalf("unexpected totals %q", lines[2])
	}
}

func TestWriteJSON(t *testing.T) {
	t.Chdir(t.TempDir())
	rep := Report{Summary: gmail.MessageSummary{ID: "m1"}, Text: "hi"}
	if err := WriteJSON(rep, "out/../report.json"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, err := os.ReadFile("report.json")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil || decoded.Summary.ID != "m1" {
		t.Fatalf("unexpected json %s (%v)", data, err)
	}
	for _, bad := range []string{"", "/tmp/report.json", "../report.json"} {
		if err := WriteJSON(rep, bad); err == nil {
			t.Fatalf("path %q accepted", bad)
		}
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
