package ledger

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrNotFound is returned by FirstTransaction when the address has no history
var ErrNotFound = errors.New("no transactions found")

// APIError is a non-success reply from the indexer.
// Message and Result carry the upstream text verbatim.
type APIError struct {
	Action     string
	Message    string
	Result     string
	HTTPStatus int
}

func (e *APIError) Error() string {
	if e.HTTPStatus != 0 && e.HTTPStatus != http.StatusOK {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Action, e.HTTPStatus, e.Message)
	}
	if e.Result != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Action, e.Message, e.Result)
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// IsRateLimited reports whether the upstream rejected the call for pacing
func (e *APIError) IsRateLimited() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || containsFold(e.Result, "rate limit") || containsFold(e.Message, "rate limit")
}

// isTransient decides whether a failed attempt is worth retrying.
// Transport failures, including the client's own request timeout, are
// transient; whether the caller gave up is decided from its context.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRateLimited() || apiErr.HTTPStatus >= http.StatusInternalServerError
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
