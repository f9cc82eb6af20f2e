package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/source"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

// interact runs the script in order. A failing step is logged and skipped;
// the loop stops early only when the session budget runs out.
func (r *Runner) interact(ctx context.Context, logger *zap.Logger, page stream.Page, script []source.Step) {
	for i, step := range script {
		if ctx.Err() != nil {
			logger.Debug("session budget exhausted during interaction", zap.Int("remaining_steps", len(script)-i))
			return
		}
		if err := r.runStep(ctx, page, step); err != nil {
			ierr := &stream.InteractionError{Step: i, Action: string(step.Action), Selector: step.Selector, Err: err}
			logger.Info("interaction step skipped", zap.Error(ierr))
		}
	}
}

// runStep executes one step. Each browser primitive gets the step timeout;
// delays between primitives only count against the session budget.
func (r *Runner) runStep(ctx context.Context, page stream.Page, step source.Step) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.cfg.StepTimeout
	}
	bounded := func(fn func(context.Context) error) error {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(stepCtx)
	}

	switch step.Action {
	case source.ActionClick:
		if err := bounded(func(c context.Context) error { return page.Click(c, step.Selector) }); err != nil {
			return err
		}
		return pause(ctx, step.Delay)

	case source.ActionSelectOption:
		if err := bounded(func(c context.Context) error { return page.SelectOption(c, step.Selector, step.Value) }); err != nil {
			return err
		}
		return pause(ctx, step.Delay)

	case source.ActionSelectEachOption:
		var values []string
		err := bounded(func(c context.Context) error {
			var err error
			values, err = page.OptionValues(c, step.Selector)
			return err
		})
		if err != nil {
			return err
		}
		var firstErr error
		for _, value := range values {
			if err := bounded(func(c context.Context) error { return page.SelectOption(c, step.Selector, value) }); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("option %q: %w", value, err)
			}
			if err := pause(ctx, step.Delay); err != nil {
				return err
			}
		}
		return firstErr

	case source.ActionWaitForElement:
		return bounded(func(c context.Context) error { return page.WaitVisible(c, step.Selector) })

	case source.ActionClickEachMatching:
		var n int
		err := bounded(func(c context.Context) error {
			var err error
			n, err = page.Count(c, step.Selector)
			return err
		})
		if err != nil {
			return err
		}
		var firstErr error
		for i := 0; i < n; i++ {
			if err := bounded(func(c context.Context) error { return page.ClickNth(c, step.Selector, i) }); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("match %d: %w", i, err)
			}
			if err := pause(ctx, step.Delay); err != nil {
				return err
			}
		}
		return firstErr

	case source.ActionNavigateIntoFrame:
		return bounded(func(c context.Context) error { return page.EnterFrame(c, step.Selector) })

	case source.ActionPressKey:
		if err := bounded(func(c context.Context) error { return page.PressKey(c, step.Key) }); err != nil {
			return err
		}
		return pause(ctx, step.Delay)

	case source.ActionSleep:
		return pause(ctx, step.Delay)

	case source.ActionNoop:
		return nil
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
