package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/metrics"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

const (
	optionValuesJS = `function() { return Array.from(this.options || []).map(o => o.value); }`
	selectValueJS  = `function(v) {
	this.value = v;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`
)

var namedKeys = map[string]string{
	"Escape": kb.Escape,
	"Enter":  kb.Enter,
	"Tab":    kb.Tab,
	"Space":  " ",
}

// tab is one isolated browser context. Methods other than Close are called
// from the owning session goroutine only.
type tab struct {
	ctx         context.Context
	cancel      context.CancelFunc
	release     func()
	stopForward func()
	logger      *zap.Logger

	// scope is the iframe node queries run in, nil for the top document.
	scope *cdp.Node

	closeOnce sync.Once
}

// listener answers every paused request exactly once. The hook runs inline;
// the CDP reply runs on its own goroutine since listeners must not block.
func (t *tab) listener(hook stream.RequestHook) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			req := stream.InterceptedRequest{ResourceType: string(e.ResourceType)}
			if e.Request != nil {
				req.URL = e.Request.URL
			}
			d := hook(req)
			go t.answer(e.RequestID, d)
		case *cdppage.EventJavascriptDialogOpening:
			go func() {
				if err := cdppage.HandleJavaScriptDialog(true).Do(executor(t.ctx)); err != nil {
					t.logger.Debug("dialog dismiss failed", zap.Error(err))
				}
			}()
		}
	}
}

func (t *tab) answer(id fetch.RequestID, d stream.Disposition) {
	ctx := executor(t.ctx)
	var err error
	if d.Verdict == stream.VerdictBlocked {
		err = fetch.FailRequest(id, network.ErrorReasonBlockedByClient).Do(ctx)
	} else {
		err = fetch.ContinueRequest(id).Do(ctx)
	}
	if err != nil && t.ctx.Err() == nil {
		t.logger.Debug("request disposition failed", zap.String("verdict", d.Verdict.String()), zap.Error(err))
	}
}

// run executes actions on the tab, bounded by the caller's ctx.
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func (t *tab) queryOpts(extra ...chromedp.QueryOption) []chromedp.QueryOption {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if t.scope != nil {
		opts = append(opts, chromedp.FromNode(t.scope))
	}
	return append(opts, extra...)
}

func (t *tab) nodes(ctx context.Context, selector string, extra ...chromedp.QueryOption) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := t.run(ctx, chromedp.Nodes(selector, &nodes, t.queryOpts(extra...)...)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return nodes, nil
}

func (t *tab) Navigate(ctx context.Context, url string) error {
	t.scope = nil
	return t.run(ctx, chromedp.Navigate(url))
}

func (t *tab) WaitVisible(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.WaitVisible(selector, t.queryOpts()...))
}

func (t *tab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.Click(selector, t.queryOpts(chromedp.NodeVisible)...))
}

func (t *tab) SelectOption(ctx context.Context, selector, value string) error {
	nodes, err := t.nodes(ctx, selector)
	if err != nil {
		return err
	}
	return t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return chromedp.CallFunctionOnNode(c, nodes[0], selectValueJS, nil, value)
	}))
}

func (t *tab) OptionValues(ctx context.Context, selector string) ([]string, error) {
	nodes, err := t.nodes(ctx, selector)
	if err != nil {
		return nil, err
	}
	var values []string
	err = t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return chromedp.CallFunctionOnNode(c, nodes[0], optionValuesJS, &values)
	}))
	return values, err
}

func (t *tab) Count(ctx context.Context, selector string) (int, error) {
	nodes, err := t.nodes(ctx, selector, chromedp.AtLeast(0))
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (t *tab) ClickNth(ctx context.Context, selector string, index int) error {
	nodes, err := t.nodes(ctx, selector, chromedp.AtLeast(0))
	if err != nil {
		return err
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("match %d of %q: only %d nodes", index, selector, len(nodes))
	}
	return t.run(ctx, chromedp.MouseClickNode(nodes[index]))
}

func (t *tab) EnterFrame(ctx context.Context, selector string) error {
	nodes, err := t.nodes(ctx, selector)
	if err != nil {
		return err
	}
	t.scope = nodes[0]
	return nil
}

func (t *tab) PressKey(ctx context.Context, key string) error {
	return t.run(ctx, chromedp.KeyEvent(keyFor(key)))
}

// Close disposes of the browser context and frees the slot. Safe to call
// more than once.
func (t *tab) Close() error {
	t.closeOnce.Do(func() {
		t.stopForward()
		t.cancel()
		t.release()
		metrics.DecActiveContexts()
	})
	return nil
}

func keyFor(name string) string {
	if k, ok := namedKeys[name]; ok {
		return k
	}
	return name
}
