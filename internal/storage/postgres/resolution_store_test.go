package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bytewatch/internal/store"
)

func newMockStore(t *testing.T) (*ResolutionStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewResolutionStoreWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestNewResolutionStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewResolutionStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewResolutionStoreWithPool(nil)
	require.Error(t, err)
}

func TestUpsertResolutionStart(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO resolution_runs").
		WithArgs(id, "movie:tt0111161", now, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertResolutionStart(context.Background(), id, "movie:tt0111161", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteResolution(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Unix(1700000100, 0).UTC()

	mock.ExpectExec("UPDATE resolution_runs").
		WithArgs(now, "success", 2, pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.CompleteResolution(context.Background(), id, now, store.RunSuccess, 2, nil))

	mock.ExpectExec("UPDATE resolution_runs").
		WithArgs(now, "error", 0, pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	msg := "resolve tt0111161: not found"
	err := s.CompleteResolution(context.Background(), id, now, store.RunError, 0, &msg)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.Error(t, s.CompleteResolution(context.Background(), id, now, "bogus", 0, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSourceOutcome(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Unix(1700000200, 0).UTC()
	outcome := store.SourceOutcome{
		ResolutionID: id,
		Source:       "vidora",
		Status:       "collected",
		Candidates:   1,
		Duration:     1500 * time.Millisecond,
		RecordedAt:   now,
	}

	mock.ExpectExec("INSERT INTO source_outcomes").
		WithArgs(id, "vidora", "collected", 1, int64(1500), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.RecordSourceOutcome(context.Background(), outcome))

	mock.ExpectExec("INSERT INTO source_outcomes").
		WithArgs(id, "vidora", "collected", 1, int64(1500), pgxmock.AnyArg(), now).
		WillReturnError(errors.New("connection reset"))
	require.Error(t, s.RecordSourceOutcome(context.Background(), outcome))

	outcome.Source = ""
	require.Error(t, s.RecordSourceOutcome(context.Background(), outcome))
	require.NoError(t, mock.ExpectationsWereMet())
}

func runColumns() []string {
	return []string{"id", "content_key", "started_at", "finished_at", "status", "candidates", "error_message"}
}

func TestGetResolution(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(4 * time.Second)

	mock.ExpectQuery("SELECT id, content_key").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(runColumns()).
			AddRow(id, "series:tt0944947:1:2", started, &finished, "success", 3, (*string)(nil)))

	run, err := s.GetResolution(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, run.ID)
	require.Equal(t, "series:tt0944947:1:2", run.ContentKey)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, 3, run.Candidates)
	require.NotNil(t, run.FinishedAt)
	require.Nil(t, run.ErrorMessage)

	mock.ExpectQuery("SELECT id, content_key").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.GetResolution(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResolutions(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM resolution_runs").
		WithArgs(pgxmock.AnyArg(), 10, 0).
		WillReturnRows(pgxmock.NewRows(runColumns()).
			AddRow(a, "movie:tt1", started.Add(time.Minute), (*time.Time)(nil), "running", 0, (*string)(nil)).
			AddRow(b, "movie:tt2", started, (*time.Time)(nil), "running", 0, (*string)(nil)))

	status := store.RunRunning
	runs, err := s.ListResolutions(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, a, runs[0].ID)
	require.Nil(t, runs[1].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSourceOutcomes(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Unix(1700000300, 0).UTC()
	errText := "navigate https://b.example: timeout"

	mock.ExpectQuery("FROM source_outcomes").
		WithArgs(id, 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"resolution_id", "source", "status", "candidates", "duration_ms", "error_message", "recorded_at",
		}).
			AddRow(id, "a", "collected", 1, int64(2500), (*string)(nil), now).
			AddRow(id, "b", "failed", 0, int64(15000), &errText, now))

	out, err := s.ListSourceOutcomes(context.Background(), id, 50, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 2500*time.Millisecond, out[0].Duration)
	require.Equal(t, "failed", out[1].Status)
	require.NotNil(t, out[1].ErrorMessage)
	require.Equal(t, errText, *out[1].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewResolutionStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, s.Ping(context.Background()), "down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS resolution_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	require.ErrorContains(t, s.Migrate(context.Background()), "apply schema")
	require.NoError(t, mock.ExpectationsWereMet())
}
