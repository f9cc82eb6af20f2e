package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bytewatch/internal/cache"
	"github.com/JakeFAU/bytewatch/internal/progress"
	"github.com/JakeFAU/bytewatch/internal/publisher/memory"
	"github.com/JakeFAU/bytewatch/internal/source"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

type runFunc func(ctx context.Context, desc source.Descriptor, target string) stream.ExtractionResult

type fakeRunner struct {
	mu      sync.Mutex
	byName  map[string]runFunc
	calls   []string
	targets map[string]string
}

func newFakeRunner(byName map[string]runFunc) *fakeRunner {
	return &fakeRunner{byName: byName, targets: map[string]string{}}
}

func (f *fakeRunner) Run(ctx context.Context, desc source.Descriptor, target string) stream.ExtractionResult {
	f.mu.Lock()
	f.calls = append(f.calls, desc.Name)
	f.targets[desc.Name] = target
	fn := f.byName[desc.Name]
	f.mu.Unlock()
	if fn == nil {
		return stream.ExtractionResult{Source: desc.Name, Status: stream.StatusTimedOut}
	}
	return fn(ctx, desc, target)
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeIDs struct {
	id  string
	err error
}

func (f fakeIDs) Resolve(context.Context, stream.Kind, string) (string, error) {
	return f.id, f.err
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) Stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, len(c.events))
	for i, e := range c.events {
		out[i] = e.Stage
		if err := e.Validate(); err != nil {
			panic(err)
		}
	}
	return out
}

func testRegistry(t *testing.T, names ...string) *source.Registry {
	t.Helper()
	specs := make([]source.Spec, 0, len(names))
	for _, n := range names {
		specs = append(specs, source.Spec{
			Name:      n,
			MovieURL:  "https://" + n + ".example/movie/{{.ID}}",
			SeriesURL: "https://" + n + ".example/tv/{{.ID}}/{{.Season}}/{{.Episode}}",
		})
	}
	reg, err := source.New(specs)
	require.NoError(t, err)
	return reg
}

func candidate(src, label, url string) stream.Candidate {
	return stream.Candidate{Source: src, Label: label, URL: url, MediaType: stream.MediaMP4}
}

func movieKey() stream.ContentKey {
	return stream.ContentKey{Kind: stream.KindMovie, PrimaryID: "tt0111161"}
}

// A yields an mp4, B times out and C fails to navigate.
func TestResolvePartialFailureIsCachedAndIdempotent(t *testing.T) {
	t.Parallel()

	clip := "https://cdn.example/clip.mp4"
	runner := newFakeRunner(map[string]runFunc{
		"a": func(_ context.Context, d source.Descriptor, _ string) stream.ExtractionResult {
			return stream.ExtractionResult{
				Source:     d.Name,
				Status:     stream.StatusCollected,
				Candidates: []stream.Candidate{candidate(d.Name, d.Label, clip)},
			}
		},
		"b": func(_ context.Context, d source.Descriptor, _ string) stream.ExtractionResult {
			return stream.ExtractionResult{Source: d.Name, Status: stream.StatusTimedOut}
		},
		"c": func(_ context.Context, d source.Descriptor, target string) stream.ExtractionResult {
			return stream.ExtractionResult{
				Source: d.Name,
				Status: stream.StatusFailed,
				Err:    &stream.NavigationError{Reason: stream.NavigationNetworkFailure, URL: target, Err: errors.New("dns")},
			}
		},
	})
	store := cache.New(nil)
	emitter := &captureEmitter{}
	pub := memory.New()
	r, err := New(fakeIDs{id: "278"}, testRegistry(t, "a", "b", "c"), runner, store, Config{Topic: "resolutions"},
		WithEmitter(emitter), WithPublisher(pub))
	require.NoError(t, err)

	res, err := r.ResolveDetailed(context.Background(), movieKey())
	require.NoError(t, err)
	require.False(t, res.Cached)
	require.Equal(t, []stream.Candidate{candidate("a", "a", clip)}, res.Candidates)
	require.Len(t, res.Sources, 3)
	require.Equal(t, stream.StatusTimedOut, res.Sources[1].Status)
	require.Equal(t, stream.StatusFailed, res.Sources[2].Status)
	require.Equal(t, "https://a.example/movie/278", runner.targets["a"])
	require.Equal(t, 3, runner.Calls())

	cached, ok := store.Get(movieKey())
	require.True(t, ok)
	require.Equal(t, res.Candidates, cached)

	again, err := r.Resolve(context.Background(), movieKey())
	require.NoError(t, err)
	require.Equal(t, res.Candidates, again)
	require.Equal(t, 3, runner.Calls(), "cache hit must not start sessions")

	require.Equal(t, []progress.Stage{
		progress.StageResolveStart,
		progress.StageSessionDone,
		progress.StageSessionDone,
		progress.StageSessionDone,
		progress.StageResolveDone,
		progress.StageCacheHit,
	}, emitter.Stages())

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	summary, ok := msgs[0].Payload.(Summary)
	require.True(t, ok)
	require.Equal(t, "resolutions", msgs[0].Topic)
	require.Equal(t, 1, summary.Candidates)
	require.Equal(t, "movie:tt0111161", summary.Key)
	require.Equal(t, []SourceSummary{
		{Source: "a", Status: "collected", Candidates: 1},
		{Source: "b", Status: "timed_out"},
		{Source: "c", Status: "failed"},
	}, summary.Sources)
}

func TestResolveEmptyResultIsNotCached(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner(nil)
	store := cache.New(nil)
	r, err := New(fakeIDs{id: "1"}, testRegistry(t, "a", "b"), runner, store, Config{})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), movieKey())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Zero(t, store.Len())

	_, err = r.Resolve(context.Background(), movieKey())
	require.NoError(t, err)
	require.Equal(t, 4, runner.Calls())
}

func TestResolveIdentifierErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{
			name:   "not found",
			err:    &stream.ResolutionError{Reason: stream.ReasonNotFound, PrimaryID: "tt0"},
			target: stream.ErrNotFound,
		},
		{name: "plain error becomes unavailable", err: errors.New("connection refused"), target: stream.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runner := newFakeRunner(nil)
			emitter := &captureEmitter{}
			r, err := New(fakeIDs{err: tt.err}, testRegistry(t, "a"), runner, cache.New(nil), Config{}, WithEmitter(emitter))
			require.NoError(t, err)

			_, err = r.Resolve(context.Background(), movieKey())
			require.ErrorIs(t, err, tt.target)
			var rerr *stream.ResolutionError
			require.ErrorAs(t, err, &rerr)
			require.Zero(t, runner.Calls())
			require.Equal(t, []progress.Stage{progress.StageResolveStart, progress.StageResolveError}, emitter.Stages())
		})
	}
}

func TestResolveRejectsInvalidKey(t *testing.T) {
	t.Parallel()

	r, err := New(fakeIDs{id: "1"}, testRegistry(t, "a"), newFakeRunner(nil), cache.New(nil), Config{})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), stream.ContentKey{Kind: stream.KindSeries, PrimaryID: "tt1"})
	require.ErrorIs(t, err, stream.ErrInvalidKey)
}

func TestResolveRecoversSessionPanic(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner(map[string]runFunc{
		"a": func(context.Context, source.Descriptor, string) stream.ExtractionResult { panic("boom") },
		"b": func(_ context.Context, d source.Descriptor, _ string) stream.ExtractionResult {
			return stream.ExtractionResult{
				Status:     stream.StatusCollected,
				Candidates: []stream.Candidate{candidate(d.Name, d.Label, "https://b.example/index.m3u8")},
			}
		},
	})
	r, err := New(fakeIDs{id: "1"}, testRegistry(t, "a", "b"), runner, cache.New(nil), Config{})
	require.NoError(t, err)

	res, err := r.ResolveDetailed(context.Background(), movieKey())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	require.Equal(t, stream.StatusFailed, res.Sources[0].Status)
	require.ErrorContains(t, res.Sources[0].Err, "boom")
	require.Equal(t, "b", res.Sources[1].Source, "source name is filled in when the runner omits it")
}

func TestResolveSkipsSourcesWithoutTemplate(t *testing.T) {
	t.Parallel()

	reg, err := source.New([]source.Spec{
		{Name: "movies-only", MovieURL: "https://m.example/{{.ID}}"},
		{Name: "both", MovieURL: "https://b.example/{{.ID}}", SeriesURL: "https://b.example/{{.ID}}/{{.Season}}/{{.Episode}}"},
	})
	require.NoError(t, err)
	runner := newFakeRunner(nil)
	r, err := New(fakeIDs{id: "1399"}, reg, runner, cache.New(nil), Config{})
	require.NoError(t, err)

	key := stream.ContentKey{Kind: stream.KindSeries, PrimaryID: "tt0944947", Season: 1, Episode: 2}
	res, err := r.ResolveDetailed(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	require.Equal(t, "https://b.example/1399/1/2", runner.targets["both"])
}

func TestResolveRunsSessionsConcurrently(t *testing.T) {
	t.Parallel()

	var started sync.WaitGroup
	started.Add(3)
	wait := func(ctx context.Context, d source.Descriptor, _ string) stream.ExtractionResult {
		started.Done()
		started.Wait()
		return stream.ExtractionResult{Source: d.Name, Status: stream.StatusTimedOut}
	}
	runner := newFakeRunner(map[string]runFunc{"a": wait, "b": wait, "c": wait})
	r, err := New(fakeIDs{id: "1"}, testRegistry(t, "a", "b", "c"), runner, cache.New(nil), Config{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Resolve(context.Background(), movieKey())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sessions did not run in parallel")
	}
}

func TestResolvePublishFailureIsIgnored(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("topic missing"))
	runner := newFakeRunner(map[string]runFunc{
		"a": func(_ context.Context, d source.Descriptor, _ string) stream.ExtractionResult {
			return stream.ExtractionResult{Status: stream.StatusCollected, Candidates: []stream.Candidate{candidate("a", "a", "https://x/1.mp4")}}
		},
	})
	r, err := New(fakeIDs{id: "1"}, testRegistry(t, "a"), runner, cache.New(nil), Config{}, WithPublisher(pub))
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), movieKey())
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t, "a")
	_, err := New(nil, reg, newFakeRunner(nil), cache.New(nil), Config{})
	require.Error(t, err)
	_, err = New(fakeIDs{}, nil, newFakeRunner(nil), cache.New(nil), Config{})
	require.Error(t, err)
	_, err = New(fakeIDs{}, reg, nil, cache.New(nil), Config{})
	require.Error(t, err)
	_, err = New(fakeIDs{}, reg, newFakeRunner(nil), nil, Config{})
	require.Error(t, err)
}
