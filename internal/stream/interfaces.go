package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdentifierResolver maps a primary id to the secondary id used by source
// URL templates.
type IdentifierResolver interface {
	Resolve(ctx context.Context, kind Kind, primaryID string) (string, error)
}

// RequestHook decides the fate of an intercepted request. It must be fast and
// must not block.
type RequestHook func(InterceptedRequest) Disposition

// Launcher hands out isolated browser pages. The hook is installed before
// Open returns, so it sees every request the page makes.
type Launcher interface {
	Open(ctx context.Context, hook RequestHook) (Page, error)
}

// Page is the set of browser primitives interaction scripts are built on.
// Selectors resolve inside the current frame scope.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	SelectOption(ctx context.Context, selector, value string) error
	OptionValues(ctx context.Context, selector string) ([]string, error)
	Count(ctx context.Context, selector string) (int, error)
	ClickNth(ctx context.Context, selector string, index int) error
	EnterFrame(ctx context.Context, selector string) error
	PressKey(ctx context.Context, key string) error
	Close() error
}

// Cache stores non-empty candidate sets per content key.
type Cache interface {
	Get(key ContentKey) ([]Candidate, bool)
	Set(key ContentKey, candidates []Candidate, ttl time.Duration)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces resolution IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
