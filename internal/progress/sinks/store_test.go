package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/bytewatch/internal/progress"
	"github.com/JakeFAU/bytewatch/internal/store"
)

func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	sink := NewStoreSink(repo)
	rid := uuid.New()
	id := progress.UUIDToBytes(rid)
	now := time.Now()

	batch := []progress.Event{
		{ResolutionID: id, Stage: progress.StageResolveStart, TS: now, ContentKey: "movie:tt0111161"},
		{
			ResolutionID: id,
			Stage:        progress.StageSessionDone,
			TS:           now.Add(time.Second),
			Source:       "vidsrc.xyz",
			Status:       "failed",
			Dur:          time.Second,
			Note:         "navigate: network failure",
		},
		{
			ResolutionID: id,
			Stage:        progress.StageSessionDone,
			TS:           now.Add(2 * time.Second),
			Source:       "vidora",
			Status:       "collected",
			Candidates:   1,
		},
		{ResolutionID: id, Stage: progress.StageResolveDone, TS: now.Add(3 * time.Second), Candidates: 1},
		{ResolutionID: id, Stage: progress.StageCacheHit, TS: now.Add(4 * time.Second)},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"movie:tt0111161"}, repo.starts)
	require.Len(t, repo.outcomes, 2)
	require.Equal(t, rid, repo.outcomes[0].ResolutionID)
	require.NotNil(t, repo.outcomes[0].ErrorMessage)
	require.Nil(t, repo.outcomes[1].ErrorMessage)
	require.Equal(t, []store.RunStatus{store.RunSuccess}, repo.completes)
	require.Equal(t, 1, repo.lastCandidates)
}

func TestStoreSinkRecordsErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	sink := NewStoreSink(repo)
	id := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{ResolutionID: id, Stage: progress.StageResolveError, TS: time.Now(), Note: "not found"},
	}))
	require.Equal(t, []store.RunStatus{store.RunError}, repo.completes)
	require.Equal(t, "not found", repo.lastErr)
}

func TestStoreSinkSurfacesRepoFailures(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeRepo{fail: true})
	err := sink.Consume(context.Background(), []progress.Event{
		{ResolutionID: progress.UUIDToBytes(uuid.New()), Stage: progress.StageResolveStart, TS: time.Now()},
	})
	require.Error(t, err)

	require.NoError(t, NewStoreSink(nil).Consume(context.Background(), nil))
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	rid := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{ResolutionID: progress.UUIDToBytes(rid), Stage: progress.StageSessionDone, Source: "vidora", Status: "collected"},
	}))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, rid.String(), fields["resolution_id"])
	require.Equal(t, "vidora", fields["source"])
	require.NotContains(t, fields, "note")
}

type fakeRepo struct {
	fail           bool
	starts         []string
	outcomes       []store.SourceOutcome
	completes      []store.RunStatus
	lastCandidates int
	lastErr        string
}

func (f *fakeRepo) UpsertResolutionStart(_ context.Context, _ uuid.UUID, contentKey string, _ time.Time) error {
	if f.fail {
		return fakeErr("start")
	}
	f.starts = append(f.starts, contentKey)
	return nil
}

func (f *fakeRepo) CompleteResolution(
	_ context.Context,
	_ uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	candidates int,
	errMsg *string,
) error {
	if f.fail {
		return fakeErr("complete")
	}
	f.completes = append(f.completes, status)
	f.lastCandidates = candidates
	if errMsg != nil {
		f.lastErr = *errMsg
	}
	return nil
}

func (f *fakeRepo) RecordSourceOutcome(_ context.Context, o store.SourceOutcome) error {
	if f.fail {
		return fakeErr("outcome")
	}
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeRepo) GetResolution(context.Context, uuid.UUID) (store.ResolutionRun, error) {
	return store.ResolutionRun{}, store.ErrNotFound
}

func (f *fakeRepo) ListResolutions(context.Context, *store.RunStatus, int, int) ([]store.ResolutionRun, error) {
	return nil, nil
}

func (f *fakeRepo) ListSourceOutcomes(context.Context, uuid.UUID, int, int) ([]store.SourceOutcome, error) {
	return nil, nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
