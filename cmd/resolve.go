package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/bytewatch/internal/resolver"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

type resolveOutput struct {
	ID         string             `json:"id"`
	ContentKey string             `json:"content_key"`
	Cached     bool               `json:"cached"`
	DurationMS int64              `json:"duration_ms"`
	Candidates []stream.Candidate `json:"candidates"`
	Sources    []sourceOutput     `json:"sources"`
}

type sourceOutput struct {
	Source     string `json:"source"`
	Status     string `json:"status"`
	Candidates int    `json:"candidates"`
	Error      string `json:"error,omitempty"`
}

func newResolveCmd() *cobra.Command {
	var (
		kind    string
		season  int
		episode int
	)
	cmd := &cobra.Command{
		Use:   "resolve <imdb-id>",
		Short: "Resolve one title and print the stream URLs as JSON",
		Example: `  bytewatch resolve tt0111161
  bytewatch resolve tt0944947 --kind series --season 1 --episode 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := stream.ContentKey{Kind: stream.Kind(kind), PrimaryID: args[0], Season: season, Episode: episode}
			if err := key.Validate(); err != nil {
				return fmt.Errorf("invalid content key: %w", err)
			}
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
				defer cancel()
				_ = app.Close(closeCtx)
			}()

			res, err := app.ResolveDetailed(cmd.Context(), key)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", key, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(toResolveOutput(res))
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(stream.KindMovie), "content kind: movie or series")
	cmd.Flags().IntVar(&season, "season", 0, "season number (series only)")
	cmd.Flags().IntVar(&episode, "episode", 0, "episode number (series only)")
	return cmd
}

func toResolveOutput(res resolver.Resolution) resolveOutput {
	return resolveOutput{
		ID:         res.ID.String(),
		ContentKey: res.ContentKey,
		Cached:     res.Cached,
		DurationMS: res.Duration.Milliseconds(),
		Candidates: res.Candidates,
		Sources: lo.Map(res.Sources, func(r stream.ExtractionResult, _ int) sourceOutput {
			return sourceOutput{
				Source:     r.Source,
				Status:     string(r.Status),
				Candidates: len(r.Candidates),
				Error:      r.ErrorDetail(),
			}
		}),
	}
}
