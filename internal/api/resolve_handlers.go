package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/resolver"
	"github.com/JakeFAU/bytewatch/internal/source"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

type resolutionDTO struct {
	ID          string             `json:"id"`
	ContentKey  string             `json:"content_key"`
	SecondaryID string             `json:"secondary_id,omitempty"`
	Cached      bool               `json:"cached"`
	DurationMS  int64              `json:"duration_ms"`
	Candidates  []stream.Candidate `json:"candidates"`
	Sources     []sourceResultDTO  `json:"sources"`
}

type sourceResultDTO struct {
	Source     string `json:"source"`
	Status     string `json:"status"`
	Candidates int    `json:"candidates"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type sourceDTO struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Movie  bool   `json:"movie"`
	Series bool   `json:"series"`
	Steps  int    `json:"steps"`
}

// resolve handles GET /v1/resolve?kind=&id=&season=&episode=. It returns
// 400 for malformed keys, 404 when the id has no mapping and 503 when the
// lookup service failed.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.resolver.ResolveDetailed(r.Context(), key)
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, stream.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, stream.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		s.logger.Error("resolve failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "resolve failed")
		return
	}
	writeJSON(w, http.StatusOK, toResolutionDTO(res))
}

func (s *Server) sources(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sources": []sourceDTO{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": lo.Map(s.registry.Descriptors(), func(d source.Descriptor, _ int) sourceDTO {
			return sourceDTO{
				Name:   d.Name,
				Label:  d.Label,
				Movie:  d.Supports(stream.KindMovie),
				Series: d.Supports(stream.KindSeries),
				Steps:  len(d.Script),
			}
		}),
	})
}

func keyFromQuery(r *http.Request) (stream.ContentKey, error) {
	q := r.URL.Query()
	key := stream.ContentKey{
		Kind:      stream.Kind(strings.ToLower(strings.TrimSpace(q.Get("kind")))),
		PrimaryID: strings.TrimSpace(q.Get("id")),
	}
	var err error
	if key.Season, err = optionalInt(q.Get("season")); err != nil {
		return stream.ContentKey{}, errors.New("invalid season")
	}
	if key.Episode, err = optionalInt(q.Get("episode")); err != nil {
		return stream.ContentKey{}, errors.New("invalid episode")
	}
	if err := key.Validate(); err != nil {
		return stream.ContentKey{}, err
	}
	return key, nil
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func toResolutionDTO(res resolver.Resolution) resolutionDTO {
	return resolutionDTO{
		ID:          res.ID.String(),
		ContentKey:  res.ContentKey,
		SecondaryID: res.SecondaryID,
		Cached:      res.Cached,
		DurationMS:  res.Duration.Milliseconds(),
		Candidates:  res.Candidates,
		Sources: lo.Map(res.Sources, func(r stream.ExtractionResult, _ int) sourceResultDTO {
			return sourceResultDTO{
				Source:     r.Source,
				Status:     string(r.Status),
				Candidates: len(r.Candidates),
				DurationMS: r.Duration.Milliseconds(),
				Error:      r.ErrorDetail(),
			}
		}),
	}
}
