package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		ResolutionID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:           time.Unix(0, 0),
		Stage:        StageResolveStart,
		ContentKey:   "movie:tt0111161",
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals candidates per source.
func ExampleSink() {
	perSource := map[string]int{}
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageSessionDone {
				perSource[evt.Source] += evt.Candidates
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		ResolutionID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002")),
		TS:           time.Unix(0, 0),
		Stage:        StageSessionDone,
		Source:       "vidsrc.xyz",
		Status:       "collected",
		Candidates:   2,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("vidsrc.xyz candidates: %d\n", perSource["vidsrc.xyz"])
	// Output:
	// vidsrc.xyz candidates: 2
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
