package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageResolveStart Stage = "RESOLVE_START"
	StageCacheHit     Stage = "CACHE_HIT"
	StageSessionDone  Stage = "SESSION_DONE"
	StageResolveDone  Stage = "RESOLVE_DONE"
	StageResolveError Stage = "RESOLVE_ERROR"
)

// Event captures one milestone of a resolution.
type Event struct {
	// ResolutionID identifies the resolution in 16-byte UUID form.
	ResolutionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// ContentKey is the rendered key, e.g. series:tt123:1:2.
	ContentKey string
	// Source scopes SESSION_DONE events to one source name.
	Source string
	// Status is the session status for SESSION_DONE events.
	Status string
	// Candidates is the number of stream URLs the session or resolution produced.
	Candidates int
	Dur        time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ResolutionID == [16]byte{} {
		return errors.New("resolution id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageResolveStart, StageCacheHit, StageResolveDone, StageResolveError:
	case StageSessionDone:
		if e.Source == "" {
			return errors.New("session done requires source")
		}
		if e.Status == "" {
			return errors.New("session done requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Candidates < 0 {
		return errors.New("candidates must be >= 0")
	}
	return nil
}

// ResolutionUUID converts the binary id to uuid.UUID for repositories.
func (e Event) ResolutionUUID() uuid.UUID {
	return uuid.UUID(e.ResolutionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
