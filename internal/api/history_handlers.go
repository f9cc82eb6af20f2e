package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/store"
)

const (
	defaultRunLimit     = 50
	maxRunLimit         = 500
	defaultOutcomeLimit = 100
	maxOutcomeLimit     = 1000
	historyTimeout      = 3 * time.Second
)

// HistoryHandler exposes read-only resolution history.
type HistoryHandler struct {
	repo    store.ResolutionRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the repository and logger.
func NewHistoryHandler(repo store.ResolutionRepository, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{repo: repo, timeout: historyTimeout, logger: logger}
}

// ListResolutions handles GET /v1/resolutions?status=&limit=&offset= and
// returns {"resolutions": [...]}.
func (h *HistoryHandler) ListResolutions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "resolution history unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		v, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &v
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListResolutions(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list resolutions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list resolutions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolutions": lo.Map(runs, toRunDTO)})
}

// GetResolution handles GET /v1/resolutions/{resolution_id}. Unknown ids
// yield 404.
func (h *HistoryHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "resolution history unavailable")
		return
	}
	id, err := parseResolutionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetResolution(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resolution not found")
			return
		}
		h.logger.Error("get resolution failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load resolution")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolution": toRunDTO(run, 0)})
}

// ListSourceOutcomes handles GET /v1/resolutions/{resolution_id}/sources.
func (h *HistoryHandler) ListSourceOutcomes(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "resolution history unavailable")
		return
	}
	id, err := parseResolutionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultOutcomeLimit, maxOutcomeLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	outcomes, err := h.repo.ListSourceOutcomes(ctx, id, limit, offset)
	if err != nil {
		h.logger.Error("list source outcomes failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list source outcomes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": lo.Map(outcomes, toOutcomeDTO)})
}

func parseResolutionID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "resolution_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("resolution_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid resolution_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "success":
		return store.RunSuccess, nil
	case "error", "failed":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

type runDTO struct {
	ID         string     `json:"id"`
	ContentKey string     `json:"content_key"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Candidates int        `json:"candidates"`
	Error      *string    `json:"error,omitempty"`
}

type outcomeDTO struct {
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Candidates int       `json:"candidates"`
	DurationMS int64     `json:"duration_ms"`
	Error      *string   `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func toRunDTO(run store.ResolutionRun, _ int) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		ContentKey: run.ContentKey,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Candidates: run.Candidates,
		Error:      run.ErrorMessage,
	}
}

func toOutcomeDTO(o store.SourceOutcome, _ int) outcomeDTO {
	return outcomeDTO{
		Source:     o.Source,
		Status:     o.Status,
		Candidates: o.Candidates,
		DurationMS: o.Duration.Milliseconds(),
		Error:      o.ErrorMessage,
		RecordedAt: o.RecordedAt,
	}
}
