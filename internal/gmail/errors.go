package gmail

import (
	"errors"

	"github.com/joshsymonds/mailgate/internal/b64url"
)

// Failure kinds. Callers match them with errors.Is; the underlying cause stays
// wrapped alongside.
var (
	// ErrTransport covers network and authorization failures reaching Gmail.
	ErrTransport = errors.New("transport error")
	// ErrNotFound is returned for sequence numbers or ids that do not resolve.
	ErrNotFound = errors.New("not found")
	ErrDecode   = b64url.ErrDecode
	// ErrPartialFailure marks a trash call the store rejected.
	ErrPartialFailure  = errors.New("partial failure")
	ErrRetrievalFailed = errors.New("retrieval failed")
	ErrSendFailed      = errors.New("send failed")
)
