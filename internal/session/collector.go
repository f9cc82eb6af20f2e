package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/bytewatch/internal/stream"
)

// collector accumulates candidates for one session. It is written from the
// browser's interception goroutine and read by the session goroutine.
type collector struct {
	source string
	label  string

	mu     sync.Mutex
	seen   map[string]struct{}
	items  []stream.Candidate
	signal chan struct{}
}

func newCollector(source, label string) *collector {
	if label == "" {
		label = source
	}
	return &collector{
		source: source,
		label:  label,
		seen:   make(map[string]struct{}),
		signal: make(chan struct{}, 1),
	}
}

// add records url and reports whether it was new. The first candidate is
// labelled with the source label, later ones get a numeric suffix.
func (c *collector) add(url string, mediaType stream.MediaType) bool {
	c.mu.Lock()
	if _, dup := c.seen[url]; dup {
		c.mu.Unlock()
		return false
	}
	c.seen[url] = struct{}{}
	label := c.label
	if n := len(c.items); n > 0 {
		label = fmt.Sprintf("%s #%d", c.label, n+1)
	}
	c.items = append(c.items, stream.Candidate{
		Source:    c.source,
		Label:     label,
		URL:       url,
		MediaType: mediaType,
	})
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *collector) snapshot() []stream.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stream.Candidate, len(c.items))
	copy(out, c.items)
	return out
}

// await blocks until at least one candidate has been seen and quiet has
// elapsed without another, or until ctx is done.
func (c *collector) await(ctx context.Context, quiet time.Duration) {
	var (
		timer  *time.Timer
		quietC <-chan time.Time
	)
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(quiet)
		} else {
			timer.Reset(quiet)
		}
		quietC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	if c.len() > 0 {
		arm()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.signal:
			arm()
		case <-quietC:
			return
		}
	}
}
