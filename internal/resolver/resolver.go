// Package resolver turns a content key into playable stream URLs by running
// one extraction session per registered source and merging the results.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/cache"
	"github.com/JakeFAU/bytewatch/internal/metrics"
	"github.com/JakeFAU/bytewatch/internal/progress"
	"github.com/JakeFAU/bytewatch/internal/source"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

const publishTimeout = 5 * time.Second

// SessionRunner runs one extraction session. *session.Runner implements it.
type SessionRunner interface {
	Run(ctx context.Context, desc source.Descriptor, target string) stream.ExtractionResult
}

// Config tunes caching and notifications.
type Config struct {
	// CacheTTL is applied to non-empty results. Defaults to cache.DefaultTTL.
	CacheTTL time.Duration
	// Topic is passed to the publisher with every summary.
	Topic string
}

// Resolution is the detailed outcome of one Resolve call.
type Resolution struct {
	ID          uuid.UUID
	Key         stream.ContentKey
	ContentKey  string
	SecondaryID string
	Cached      bool
	Candidates  []stream.Candidate
	// Sources holds one result per attempted source in registry order.
	// Empty on cache hits.
	Sources  []stream.ExtractionResult
	Duration time.Duration
}

// Resolver orchestrates identifier lookup, session fan-out and caching.
type Resolver struct {
	ids      stream.IdentifierResolver
	registry *source.Registry
	runner   SessionRunner
	cache    stream.Cache
	cfg      Config

	emitter   progress.Emitter
	publisher stream.Publisher
	clock     stream.Clock
	idGen     stream.IDGenerator
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithEmitter reports progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(r *Resolver) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithPublisher publishes a Summary after every extraction run.
func WithPublisher(p stream.Publisher) Option {
	return func(r *Resolver) { r.publisher = p }
}

// WithClock overrides the wall clock.
func WithClock(c stream.Clock) Option {
	return func(r *Resolver) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithIDGenerator overrides resolution id generation.
func WithIDGenerator(g stream.IDGenerator) Option {
	return func(r *Resolver) {
		if g != nil {
			r.idGen = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a Resolver. ids, registry, runner and c are required.
func New(
	ids stream.IdentifierResolver,
	registry *source.Registry,
	runner SessionRunner,
	c stream.Cache,
	cfg Config,
	opts ...Option,
) (*Resolver, error) {
	switch {
	case ids == nil:
		return nil, errors.New("identifier resolver is required")
	case registry == nil:
		return nil, errors.New("source registry is required")
	case runner == nil:
		return nil, errors.New("session runner is required")
	case c == nil:
		return nil, errors.New("cache is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	r := &Resolver{
		ids:      ids,
		registry: registry,
		runner:   runner,
		cache:    c,
		cfg:      cfg,
		emitter:  progress.NopEmitter{},
		clock:    wallClock{},
		idGen:    randomIDs{},
		tracer:   otel.Tracer("github.com/JakeFAU/bytewatch/internal/resolver"),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("resolver")
	return r, nil
}

// Resolve returns the merged candidates for key. The slice is never nil.
func (r *Resolver) Resolve(ctx context.Context, key stream.ContentKey) ([]stream.Candidate, error) {
	res, err := r.ResolveDetailed(ctx, key)
	if err != nil {
		return nil, err
	}
	return res.Candidates, nil
}

// ResolveDetailed is Resolve plus per-source diagnostics. The only errors
// returned wrap stream.ErrInvalidKey or are *stream.ResolutionError.
func (r *Resolver) ResolveDetailed(ctx context.Context, key stream.ContentKey) (Resolution, error) {
	if err := key.Validate(); err != nil {
		return Resolution{}, err
	}
	start := r.clock.Now()
	res := Resolution{ID: r.newID(), Key: key, ContentKey: key.String()}
	logger := r.logger.With(zap.String("resolution_id", res.ID.String()), zap.String("content_key", res.ContentKey))

	ctx, span := r.tracer.Start(ctx, "resolver.Resolve", trace.WithAttributes(
		attribute.String("content_key", res.ContentKey),
		attribute.String("resolution_id", res.ID.String()),
	))
	defer span.End()

	if cached, ok := r.cache.Get(key); ok {
		metrics.ObserveCacheLookup(true)
		res.Cached = true
		res.Candidates = cached
		res.Duration = r.clock.Now().Sub(start)
		span.SetAttributes(attribute.Bool("cache_hit", true), attribute.Int("candidates", len(cached)))
		r.emit(res, progress.StageCacheHit, "")
		logger.Debug("cache hit", zap.Int("candidates", len(cached)))
		return res, nil
	}
	metrics.ObserveCacheLookup(false)
	r.emit(res, progress.StageResolveStart, "")

	secondary, err := r.ids.Resolve(ctx, key.Kind, key.PrimaryID)
	if err != nil {
		rerr := asResolutionError(key.PrimaryID, err)
		metrics.ObserveIDLookup(string(rerr.Reason))
		res.Duration = r.clock.Now().Sub(start)
		r.emit(res, progress.StageResolveError, rerr.Error())
		span.RecordError(rerr)
		span.SetStatus(codes.Error, string(rerr.Reason))
		logger.Info("identifier lookup failed", zap.Error(rerr))
		return Resolution{}, rerr
	}
	metrics.ObserveIDLookup("ok")
	res.SecondaryID = secondary

	res.Sources = r.fanOut(ctx, key, secondary, logger)
	res.Candidates = Merge(res.Sources)
	if len(res.Candidates) > 0 {
		r.cache.Set(key, res.Candidates, r.cfg.CacheTTL)
	}
	res.Duration = r.clock.Now().Sub(start)

	for _, sr := range res.Sources {
		r.emitSession(res.ID, res.ContentKey, sr)
	}
	r.emit(res, progress.StageResolveDone, "")
	r.publish(ctx, res, logger)

	span.SetAttributes(attribute.Int("candidates", len(res.Candidates)), attribute.Int("sources", len(res.Sources)))
	logger.Info("resolution finished",
		zap.Int("sources", len(res.Sources)),
		zap.Int("candidates", len(res.Candidates)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// fanOut runs one session per supporting source and waits for all of them.
func (r *Resolver) fanOut(
	ctx context.Context,
	key stream.ContentKey,
	secondary string,
	logger *zap.Logger,
) []stream.ExtractionResult {
	descs := lo.Filter(r.registry.Descriptors(), func(d source.Descriptor, _ int) bool {
		return d.Supports(key.Kind)
	})
	results := make([]stream.ExtractionResult, len(descs))

	var wg sync.WaitGroup
	for i, desc := range descs {
		target, err := desc.URL(key, secondary)
		if err != nil {
			results[i] = stream.ExtractionResult{Source: desc.Name, Status: stream.StatusFailed, Err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					logger.Error("session panic", zap.String("source", desc.Name), zap.Any("panic", p))
					results[i] = stream.ExtractionResult{
						Source: desc.Name,
						Status: stream.StatusFailed,
						Err:    fmt.Errorf("session panic: %v", p),
					}
				}
			}()
			out := r.runner.Run(ctx, desc, target)
			out.Source = desc.Name
			if out.Status == "" {
				out.Status = stream.StatusFailed
			}
			results[i] = out
		}()
	}
	wg.Wait()
	return results
}

func (r *Resolver) emit(res Resolution, stage progress.Stage, note string) {
	r.emitter.Emit(progress.Event{
		ResolutionID: progress.UUIDToBytes(res.ID),
		TS:           r.clock.Now(),
		Stage:        stage,
		ContentKey:   res.ContentKey,
		Candidates:   len(res.Candidates),
		Dur:          res.Duration,
		Note:         note,
	})
}

func (r *Resolver) emitSession(id uuid.UUID, contentKey string, sr stream.ExtractionResult) {
	r.emitter.Emit(progress.Event{
		ResolutionID: progress.UUIDToBytes(id),
		TS:           r.clock.Now(),
		Stage:        progress.StageSessionDone,
		ContentKey:   contentKey,
		Source:       sr.Source,
		Status:       string(sr.Status),
		Candidates:   len(sr.Candidates),
		Dur:          sr.Duration,
		Note:         sr.ErrorDetail(),
	})
}

// publish sends the summary on a context detached from the caller so a
// disconnecting client does not drop the notification.
func (r *Resolver) publish(ctx context.Context, res Resolution, logger *zap.Logger) {
	if r.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	id, err := r.publisher.Publish(pubCtx, r.cfg.Topic, summarize(res))
	if err != nil {
		logger.Warn("publish summary failed", zap.Error(err))
		return
	}
	logger.Debug("summary published", zap.String("message_id", id))
}

func (r *Resolver) newID() uuid.UUID {
	id, err := r.idGen.NewID()
	if err != nil {
		r.logger.Warn("resolution id generation failed, using random id", zap.Error(err))
		return uuid.New()
	}
	return id
}

func asResolutionError(primaryID string, err error) *stream.ResolutionError {
	var rerr *stream.ResolutionError
	if errors.As(err, &rerr) {
		return rerr
	}
	return &stream.ResolutionError{Reason: stream.ReasonUnavailable, PrimaryID: primaryID, Err: err}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type randomIDs struct{}

func (randomIDs) NewID() (uuid.UUID, error) { return uuid.NewV7() }
