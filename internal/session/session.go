// Package session drives one source page from navigation to a terminal
// extraction result.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/metrics"
	"github.com/JakeFAU/bytewatch/internal/source"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

const (
	defaultNavTimeout  = 15 * time.Second
	defaultTotalBudget = 20 * time.Second
	defaultStepTimeout = 5 * time.Second
	defaultQuietPeriod = 3 * time.Second
)

// State is a position in the session lifecycle.
type State int

// Session states in lifecycle order.
const (
	StateInit State = iota
	StateNavigating
	StateInteracting
	StateMonitoring
	StateCollected
	StateTimedOut
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateNavigating:
		return "navigating"
	case StateInteracting:
		return "interacting"
	case StateMonitoring:
		return "monitoring"
	case StateCollected:
		return "collected"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config bounds a session. TotalBudget is measured from session start and
// covers every phase.
type Config struct {
	NavTimeout  time.Duration
	TotalBudget time.Duration
	StepTimeout time.Duration
	QuietPeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = defaultNavTimeout
	}
	if c.TotalBudget <= 0 {
		c.TotalBudget = defaultTotalBudget
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = defaultStepTimeout
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = defaultQuietPeriod
	}
	return c
}

// Classifier is the subset of the traffic classifier sessions need.
type Classifier interface {
	Classify(url string) stream.Disposition
}

// Observer is notified of every state transition.
type Observer func(source string, state State)

// Runner executes extraction sessions. It holds no per-session state and is
// safe for concurrent use.
type Runner struct {
	launcher   stream.Launcher
	classifier Classifier
	cfg        Config
	logger     *zap.Logger
	observer   Observer
	tracer     trace.Tracer
}

// Option customizes a Runner.
type Option func(*Runner)

// WithObserver registers a state transition observer.
func WithObserver(obs Observer) Option {
	return func(r *Runner) { r.observer = obs }
}

// NewRunner constructs a Runner.
func NewRunner(launcher stream.Launcher, classifier Classifier, cfg Config, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		launcher:   launcher,
		classifier: classifier,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		tracer:     otel.Tracer("github.com/JakeFAU/bytewatch/internal/session"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// Run executes one session against target and always returns a result. The
// page is released on every path, including panics inside the script.
func (r *Runner) Run(ctx context.Context, desc source.Descriptor, target string) (res stream.ExtractionResult) {
	start := time.Now()
	logger := r.logger.With(zap.String("source", desc.Name))
	res.Source = desc.Name

	ctx, span := r.tracer.Start(ctx, "session.Run", trace.WithAttributes(
		attribute.String("source", desc.Name),
		attribute.String("url", target),
	))
	defer func() {
		if p := recover(); p != nil {
			logger.Error("session panic", zap.Any("panic", p))
			res = stream.ExtractionResult{Source: desc.Name, Status: stream.StatusFailed, Err: fmt.Errorf("session panic: %v", p)}
		}
		res.Duration = time.Since(start)
		span.SetAttributes(attribute.String("status", string(res.Status)), attribute.Int("candidates", len(res.Candidates)))
		if res.Err != nil && res.Status == stream.StatusFailed {
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	sessCtx, cancel := context.WithTimeoutCause(ctx, r.cfg.TotalBudget, stream.ErrSessionBudget)
	defer cancel()

	r.enter(logger, desc.Name, StateInit)
	col := newCollector(desc.Name, desc.Label)
	page, err := r.launcher.Open(sessCtx, r.hook(desc.Name, col))
	if err != nil {
		// Waiting for a browser slot counts against the budget.
		if cause := context.Cause(sessCtx); errors.Is(cause, stream.ErrSessionBudget) {
			r.enter(logger, desc.Name, StateTimedOut)
			return stream.ExtractionResult{Source: desc.Name, Status: stream.StatusTimedOut, Err: fmt.Errorf("open page: %w", cause)}
		}
		r.enter(logger, desc.Name, StateFailed)
		return stream.ExtractionResult{Source: desc.Name, Status: stream.StatusFailed, Err: fmt.Errorf("open page: %w", err)}
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logger.Warn("page close failed", zap.Error(cerr))
		}
		r.enter(logger, desc.Name, StateClosed)
	}()

	r.enter(logger, desc.Name, StateNavigating)
	if err := r.navigate(sessCtx, page, target); err != nil {
		logger.Info("navigation failed", zap.String("url", target), zap.Error(err))
		r.enter(logger, desc.Name, StateFailed)
		return stream.ExtractionResult{Source: desc.Name, Status: stream.StatusFailed, Err: err}
	}

	r.enter(logger, desc.Name, StateInteracting)
	r.interact(sessCtx, logger, page, desc.Script)

	r.enter(logger, desc.Name, StateMonitoring)
	col.await(sessCtx, r.cfg.QuietPeriod)

	res.Candidates = col.snapshot()
	switch {
	case len(res.Candidates) > 0:
		res.Status = stream.StatusCollected
		r.enter(logger, desc.Name, StateCollected)
	case sessCtx.Err() != nil && !errors.Is(context.Cause(sessCtx), stream.ErrSessionBudget):
		res.Status = stream.StatusFailed
		res.Err = fmt.Errorf("session canceled: %w", context.Cause(sessCtx))
		r.enter(logger, desc.Name, StateFailed)
	default:
		res.Status = stream.StatusTimedOut
		r.enter(logger, desc.Name, StateTimedOut)
	}
	return res
}

func (r *Runner) hook(name string, col *collector) stream.RequestHook {
	return func(req stream.InterceptedRequest) stream.Disposition {
		d := r.classifier.Classify(req.URL)
		metrics.ObserveInterception(name, d.Verdict.String(), req.URL)
		if d.Verdict == stream.VerdictCandidate && col.add(req.URL, d.MediaType) {
			r.logger.Debug("stream candidate observed",
				zap.String("source", name),
				zap.String("url", req.URL),
				zap.String("media_type", string(d.MediaType)),
			)
		}
		return d
	}
}

func (r *Runner) navigate(ctx context.Context, page stream.Page, target string) error {
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavTimeout)
	defer cancel()
	err := page.Navigate(navCtx, target)
	if err == nil {
		return nil
	}
	reason := stream.NavigationNetworkFailure
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		reason = stream.NavigationTimeout
	}
	return &stream.NavigationError{Reason: reason, URL: target, Err: err}
}

func (r *Runner) enter(logger *zap.Logger, name string, state State) {
	logger.Debug("session state", zap.String("state", state.String()))
	if r.observer != nil {
		r.observer(name, state)
	}
}
