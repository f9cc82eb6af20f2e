package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/stream"
)

const addonID = "org.bytetan.bytewatch"

type manifestDTO struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Resources   []string `json:"resources"`
	Types       []string `json:"types"`
	Catalogs    []string `json:"catalogs"`
	IDPrefixes  []string `json:"idPrefixes"`
}

type addonStream struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (s *Server) manifest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, manifestDTO{
		ID:          addonID,
		Version:     s.cfg.Version,
		Name:        "ByteWatch",
		Description: "Get stream links for tv shows and movies",
		Resources:   []string{"stream"},
		Types:       []string{string(stream.KindMovie), string(stream.KindSeries)},
		Catalogs:    []string{},
		IDPrefixes:  []string{"tt"},
	})
}

// streams answers the addon stream route. Every failure degrades to an empty
// list since addon clients show nothing useful for error bodies.
func (s *Server) streams(w http.ResponseWriter, r *http.Request) {
	empty := map[string][]addonStream{"streams": {}}
	key, err := stream.ParseContentKey(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Debug("invalid addon request", zap.Error(err))
		writeJSON(w, http.StatusOK, empty)
		return
	}
	res, err := s.resolver.ResolveDetailed(r.Context(), key)
	if err != nil {
		s.logger.Info("addon resolution failed", zap.String("content_key", key.String()), zap.Error(err))
		writeJSON(w, http.StatusOK, empty)
		return
	}
	title := displayTitle(key)
	writeJSON(w, http.StatusOK, map[string][]addonStream{
		"streams": lo.Map(res.Candidates, func(c stream.Candidate, _ int) addonStream {
			return addonStream{Name: c.Label, Title: fmt.Sprintf("%s [%s]", title, strings.ToUpper(string(c.MediaType))), URL: c.URL}
		}),
	})
}

func displayTitle(key stream.ContentKey) string {
	if key.Kind == stream.KindSeries {
		return fmt.Sprintf("%s S%02dE%02d", key.PrimaryID, key.Season, key.Episode)
	}
	return key.PrimaryID
}
