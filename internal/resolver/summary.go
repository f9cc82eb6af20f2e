package resolver

import (
	"github.com/samber/lo"

	"github.com/JakeFAU/bytewatch/internal/stream"
)

// Summary is the notification published after each extraction run.
type Summary struct {
	ResolutionID string          `json:"resolution_id"`
	Key          string          `json:"key"`
	Candidates   int             `json:"candidates"`
	Sources      []SourceSummary `json:"sources"`
}

// SourceSummary reports one source's outcome inside a Summary.
type SourceSummary struct {
	Source     string `json:"source"`
	Status     string `json:"status"`
	Candidates int    `json:"candidates"`
}

// Attributes exposes the content key to subscription filters.
func (s Summary) Attributes() map[string]string {
	return map[string]string{"content_key": s.Key}
}

func summarize(res Resolution) Summary {
	return Summary{
		ResolutionID: res.ID.String(),
		Key:          res.ContentKey,
		Candidates:   len(res.Candidates),
		Sources: lo.Map(res.Sources, func(r stream.ExtractionResult, _ int) SourceSummary {
			return SourceSummary{Source: r.Source, Status: string(r.Status), Candidates: len(r.Candidates)}
		}),
	}
}
