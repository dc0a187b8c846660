package mailbox

import (
	"context"
	"fmt"

	"github.com/joshsymonds/mailgate/internal/gmail"
)

// Lister produces ordered message summaries for a label.
type Lister interface {
	ListByLabel(ctx context.Context, label gmail.LabelID, maxResults int) ([]gmail.MessageSummary, error)
}

// Entry pairs a sequence number with its message.
type Entry struct {
	Seq     int
	Summary gmail.MessageSummary
}

// View is a session-scoped numbering of a listing. Sequence numbers run
// 1..N in the order the store returned the messages. A View never changes
// after it is built; deleting a message does not renumber it.
type View struct {
	entries []Entry
}

// BuildFromQuery lists label once, capped at maxResults, and numbers the
// result. There is no paging: messages past the cap are not visible.
func BuildFromQuery(ctx context.Context, lister Lister, label gmail.LabelID, maxResults int) (*View, error) {
	summaries, err := lister.ListByLabel(ctx, label, maxResults)
	if err != nil {
		return nil, fmt.Errorf("build mailbox view: %w", err)
	}
	return NewView(summaries), nil
}

// NewView numbers summaries in order.
func NewView(summaries []gmail.MessageSummary) *View {
	entries := make([]Entry, len(summaries))
	for i, sum := range summaries {
		entries[i] = Entry{Seq: i + 1, Summary: sum}
	}
	return &View{entries: entries}
}

// Len is N.
func (v *View) Len() int {
	if v == nil {
		return 0
	}
	return len(v.entries)
}

// Entries returns a copy of the numbered listing.
func (v *View) Entries() []Entry {
	if v == nil {
		return nil
	}
	return append([]Entry(nil), v.entries...)
}

// Entry returns the entry numbered seq.
func (v *View) Entry(seq int) (Entry, error) {
	if seq < 1 || seq > v.Len() {
		return Entry{}, fmt.Errorf("message %d: %w", seq, gmail.ErrNotFound)
	}
	return v.entries[seq-1], nil
}

// Resolve maps seq to its message id without contacting the store.
func (v *View) Resolve(seq int) (gmail.MessageID, error) {
	e, err := v.Entry(seq)
	if err != nil {
		return "", err
	}
	return e.Summary.ID, nil
}

// TotalSize sums the size of every message in the view.
func (v *View) TotalSize() int64 {
	var total int64
	for _, e := range v.Entries() {
		total += e.Summary.Size
	}
	return total
}
