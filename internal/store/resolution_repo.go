package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("resolution record not found")

// RunStatus mirrors the resolution_runs status column.
type RunStatus string

// Run statuses persisted in resolution_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	}
	return false
}

// ResolutionRun models one row of resolution_runs.
type ResolutionRun struct {
	ID         uuid.UUID  `json:"id"`
	ContentKey string     `json:"content_key"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	// Candidates is the merged candidate count; zero while running.
	Candidates   int     `json:"candidates"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// SourceOutcome records how one source's session ended within a resolution.
type SourceOutcome struct {
	ResolutionID uuid.UUID     `json:"resolution_id"`
	Source       string        `json:"source"`
	Status       string        `json:"status"`
	Candidates   int           `json:"candidates"`
	Duration     time.Duration `json:"-"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	RecordedAt   time.Time     `json:"recorded_at"`
}

// ResolutionRepository persists resolution diagnostics.
type ResolutionRepository interface {
	// UpsertResolutionStart inserts the run or leaves an existing row untouched.
	UpsertResolutionStart(ctx context.Context, id uuid.UUID, contentKey string, startedAt time.Time) error
	// CompleteResolution marks the run finished.
	CompleteResolution(
		ctx context.Context,
		id uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		candidates int,
		errMsg *string,
	) error
	// RecordSourceOutcome upserts the outcome for (resolution, source).
	RecordSourceOutcome(ctx context.Context, outcome SourceOutcome) error

	// GetResolution loads one run or returns ErrNotFound.
	GetResolution(ctx context.Context, id uuid.UUID) (ResolutionRun, error)
	// ListResolutions returns runs newest first, filtered by optional status.
	ListResolutions(ctx context.Context, status *RunStatus, limit, offset int) ([]ResolutionRun, error)
	// ListSourceOutcomes returns per-source outcomes for one run.
	ListSourceOutcomes(ctx context.Context, id uuid.UUID, limit, offset int) ([]SourceOutcome, error)
}
