package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/bytewatch/internal/progress"
	"github.com/JakeFAU/bytewatch/internal/store"
)

// StoreSink persists resolution history via a store.ResolutionRepository.
type StoreSink struct {
	repo store.ResolutionRepository
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.ResolutionRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Consume writes each event in order. The first repository error aborts the
// batch and is returned to the hub.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	id := evt.ResolutionUUID()
	switch evt.Stage {
	case progress.StageResolveStart:
		if err := s.repo.UpsertResolutionStart(ctx, id, evt.ContentKey, evt.TS); err != nil {
			return fmt.Errorf("upsert resolution start: %w", err)
		}
	case progress.StageSessionDone:
		outcome := store.SourceOutcome{
			ResolutionID: id,
			Source:       evt.Source,
			Status:       evt.Status,
			Candidates:   evt.Candidates,
			Duration:     evt.Dur,
			ErrorMessage: note(evt),
			RecordedAt:   evt.TS,
		}
		if err := s.repo.RecordSourceOutcome(ctx, outcome); err != nil {
			return fmt.Errorf("record source outcome: %w", err)
		}
	case progress.StageResolveDone:
		if err := s.repo.CompleteResolution(ctx, id, evt.TS, store.RunSuccess, evt.Candidates, nil); err != nil {
			return fmt.Errorf("complete resolution: %w", err)
		}
	case progress.StageResolveError:
		if err := s.repo.CompleteResolution(ctx, id, evt.TS, store.RunError, 0, note(evt)); err != nil {
			return fmt.Errorf("complete resolution: %w", err)
		}
	}
	// Cache hits run no sessions and leave no history.
	return nil
}

func note(evt progress.Event) *string {
	if evt.Note == "" {
		return nil
	}
	n := evt.Note
	return &n
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
