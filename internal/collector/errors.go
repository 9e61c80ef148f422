package collector

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Collection error taxonomy. Per-node errors never abort a cycle; they
// degrade the affected node only.
var (
	// ErrNodeUnreachable marks a transient failure (timeout, connection
	// reset). Retried with backoff before the node goes down for the cycle.
	ErrNodeUnreachable = errors.New("node unreachable")

	// ErrAuthentication marks a credential failure. Never retried;
	// surfaced as a high-severity alert.
	ErrAuthentication = errors.New("authentication failure")
)

// CategoryError records a partial collection failure: one data category
// failed on an otherwise reachable node.
type CategoryError struct {
	Category string
	Err      error
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("category %s: %v", e.Category, e.Err)
}

func (e *CategoryError) Unwrap() error { return e.Err }

// IsTransient reports whether a collection failure is worth retrying.
// Authentication failures and caller cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthentication) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
