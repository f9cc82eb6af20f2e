package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey marks a malformed ContentKey.
	ErrInvalidKey = errors.New("invalid content key")
	// ErrNotFound is matched by ResolutionErrors whose id has no mapping.
	ErrNotFound = errors.New("identifier not found")
	// ErrUnavailable is matched by ResolutionErrors caused by lookup failures.
	ErrUnavailable = errors.New("identifier lookup unavailable")
	// ErrSessionBudget is the cancellation cause used when a session exhausts its budget.
	ErrSessionBudget = errors.New("session budget exhausted")
)

// ResolutionReason explains why an identifier could not be resolved.
type ResolutionReason string

// Resolution failure reasons.
const (
	ReasonNotFound    ResolutionReason = "not_found"
	ReasonUnavailable ResolutionReason = "unavailable"
)

// ResolutionError is returned when the primary id cannot be mapped to a
// secondary id. It aborts the whole resolution.
type ResolutionError struct {
	Reason    ResolutionReason
	PrimaryID string
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s: %s: %v", e.PrimaryID, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve %s: %s", e.PrimaryID, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Is lets errors.Is match the ErrNotFound and ErrUnavailable sentinels.
func (e *ResolutionError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Reason == ReasonNotFound
	case ErrUnavailable:
		return e.Reason == ReasonUnavailable
	}
	return false
}

// NavigationReason classifies a failed page load.
type NavigationReason string

// Navigation failure reasons.
const (
	NavigationTimeout        NavigationReason = "timeout"
	NavigationNetworkFailure NavigationReason = "network_failure"
)

// NavigationError is recorded when a source page fails to load.
type NavigationError struct {
	Reason NavigationReason
	URL    string
	Err    error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// InteractionError is recorded when one scripted step fails. It never ends a
// session.
type InteractionError struct {
	Step     int
	Action   string
	Selector string
	Err      error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("step %d (%s %q): %v", e.Step, e.Action, e.Selector, e.Err)
}

func (e *InteractionError) Unwrap() error { return e.Err }
