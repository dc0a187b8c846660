package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/joshsymonds/mailgate/internal/gmail"
)

// LabelLister is the part of gmail.Store ResolveLabel uses.
type LabelLister interface {
	ListLabels(ctx context.Context) ([]gmail.Label, error)
}

// ResolveLabel accepts either a label id or a label name and returns the id.
// An exact id match wins over a case-insensitive name match.
func ResolveLabel(ctx context.Context, store LabelLister, nameOrID string) (gmail.LabelID, error) {
	want := strings.TrimSpace(nameOrID)
	if want == "" {
		return "", fmt.Errorf("resolve label: empty label: %w", gmail.ErrNotFound)
	}
	labels, err := store.ListLabels(ctx)
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	var byName gmail.LabelID
	for _, l := range labels {
		if string(l.ID) == want {
			return l.ID, nil
		}
		if byName == "" && strings.EqualFold(l.Name, want) {
			byName = l.ID
		}
	}
	if byName != "" {
		return byName, nil
	}
	return "", fmt.Errorf("resolve label %q: %w", want, gmail.ErrNotFound)
}
