// Package stream defines the core types shared by the extraction subsystems.
package stream

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes movies from episodic content.
type Kind string

// Supported content kinds.
const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
)

// ContentKey identifies one piece of content. It is comparable and is used
// directly as a cache key.
type ContentKey struct {
	Kind      Kind   `json:"kind"`
	PrimaryID string `json:"primary_id"`
	Season    int    `json:"season,omitempty"`
	Episode   int    `json:"episode,omitempty"`
}

// Validate reports whether the key is well formed.
func (k ContentKey) Validate() error {
	if strings.TrimSpace(k.PrimaryID) == "" {
		return fmt.Errorf("%w: primary id is required", ErrInvalidKey)
	}
	switch k.Kind {
	case KindMovie:
		if k.Season != 0 || k.Episode != 0 {
			return fmt.Errorf("%w: movie keys take no season or episode", ErrInvalidKey)
		}
	case KindSeries:
		if k.Season <= 0 || k.Episode <= 0 {
			return fmt.Errorf("%w: series keys need positive season and episode", ErrInvalidKey)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, k.Kind)
	}
	return nil
}

// String renders the key as movie:{id} or series:{id}:{season}:{episode}.
func (k ContentKey) String() string {
	if k.Kind == KindSeries {
		return fmt.Sprintf("%s:%s:%d:%d", k.Kind, k.PrimaryID, k.Season, k.Episode)
	}
	return fmt.Sprintf("%s:%s", k.Kind, k.PrimaryID)
}

// ParseContentKey builds a key from an addon style id: "tt123" for movies and
// "tt123:1:2" for series episodes. Segments after a movie's id are ignored.
func ParseContentKey(kind, id string) (ContentKey, error) {
	key := ContentKey{Kind: Kind(strings.ToLower(strings.TrimSpace(kind)))}
	parts := strings.Split(strings.TrimSpace(id), ":")
	key.PrimaryID = parts[0]
	if key.Kind == KindSeries {
		if len(parts) != 3 {
			return ContentKey{}, fmt.Errorf("%w: series id must look like id:season:episode", ErrInvalidKey)
		}
		season, err := strconv.Atoi(parts[1])
		if err != nil {
			return ContentKey{}, fmt.Errorf("%w: season %q: %v", ErrInvalidKey, parts[1], err)
		}
		episode, err := strconv.Atoi(parts[2])
		if err != nil {
			return ContentKey{}, fmt.Errorf("%w: episode %q: %v", ErrInvalidKey, parts[2], err)
		}
		key.Season, key.Episode = season, episode
	}
	if err := key.Validate(); err != nil {
		return ContentKey{}, err
	}
	return key, nil
}

// MediaType is the container format of a stream candidate.
type MediaType string

// Recognised media types.
const (
	MediaHLS MediaType = "hls"
	MediaMP4 MediaType = "mp4"
)

// Candidate is one playable URL observed while a source page loaded.
type Candidate struct {
	Source    string    `json:"source"`
	Label     string    `json:"label"`
	URL       string    `json:"url"`
	MediaType MediaType `json:"media_type"`
}

// Verdict is the outcome of classifying one intercepted request.
type Verdict int

// Classification verdicts.
const (
	VerdictPassthrough Verdict = iota
	VerdictBlocked
	VerdictCandidate
)

func (v Verdict) String() string {
	switch v {
	case VerdictBlocked:
		return "blocked"
	case VerdictCandidate:
		return "candidate"
	default:
		return "passthrough"
	}
}

// Disposition is the classifier's decision for a request. MediaType is only
// set for candidates.
type Disposition struct {
	Verdict   Verdict
	MediaType MediaType
}

// InterceptedRequest is an outbound request paused by the browser.
type InterceptedRequest struct {
	URL          string
	ResourceType string
}

// Status is the terminal state of one extraction session.
type Status string

// Session outcomes.
const (
	StatusCollected Status = "collected"
	StatusTimedOut  Status = "timed_out"
	StatusFailed    Status = "failed"
)

// ExtractionResult is what a single source contributed to a resolution.
type ExtractionResult struct {
	Source     string
	Status     Status
	Candidates []Candidate
	Err        error
	Duration   time.Duration
}

// ErrorDetail returns the error text or an empty string.
func (r ExtractionResult) ErrorDetail() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
