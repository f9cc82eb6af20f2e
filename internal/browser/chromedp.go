// Package browser provides isolated headless Chrome pages for extraction
// sessions, backed by chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bytewatch/internal/metrics"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("browser closed")

const userAgentTemplate = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36"

var chromeVersions = []string{"114.0.5735.198", "113.0.5672.126", "112.0.5615.138"}

// DefaultHeaders are sent with every page request.
var DefaultHeaders = map[string]string{
	"Sec-GPC":         "1",
	"DNT":             "1",
	"Accept-Language": "en-US,en;q=0.9",
	"Sec-Fetch-Dest":  "document",
	"Sec-Fetch-Mode":  "navigate",
	"Sec-Fetch-Site":  "cross-site",
}

// popupGuardJS keeps sources from opening ad popups.
const popupGuardJS = `window.open = () => null;`

// Config controls the shared browser process.
type Config struct {
	// MaxParallel caps concurrently open pages. Zero means unlimited.
	MaxParallel int
	Headless    bool
	ExecPath    string
	// UserAgent overrides the randomized Chrome user agent when set.
	UserAgent    string
	ExtraHeaders map[string]string
	// DisableSiteIsolation keeps cross-origin iframes in the page's target so
	// request interception and frame queries reach them.
	DisableSiteIsolation bool
}

// Browser owns one Chrome process and hands out pages, each in its own
// browser context.
type Browser struct {
	cfg           Config
	limiter       chan struct{}
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New launches Chrome and waits for it to come up.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExtraHeaders == nil {
		cfg.ExtraHeaders = DefaultHeaders
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Sugar().Debugf))
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	b := &Browser{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}
	if cfg.MaxParallel > 0 {
		b.limiter = make(chan struct{}, cfg.MaxParallel)
	}
	logger.Info("browser started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("max_parallel", cfg.MaxParallel),
		zap.Bool("site_isolation_disabled", cfg.DisableSiteIsolation),
	)
	return b, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if cfg.DisableSiteIsolation {
		opts = append(opts,
			chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
			chromedp.Flag("disable-site-isolation-trials", true),
			chromedp.Flag("disable-web-security", true),
		)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts down Chrome. Pages still open are torn down with it.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.browserCancel()
	b.allocCancel()
}

// Ready reports whether the Chrome process is still usable.
func (b *Browser) Ready(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.browserCtx.Err(); err != nil {
		return fmt.Errorf("browser context: %w", err)
	}
	return nil
}

// Open creates an isolated page with hook installed on every request. The
// page lives until Close or until ctx is done.
func (b *Browser) Open(ctx context.Context, hook stream.RequestHook) (stream.Page, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	waitStart := time.Now()
	release, err := b.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ObserveSlotWait(time.Since(waitStart))

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	t := &tab{
		ctx:         tabCtx,
		cancel:      cancelTab,
		release:     release,
		stopForward: forwardCancel(ctx, cancelTab),
		logger:      b.logger,
	}
	metrics.IncActiveContexts()
	chromedp.ListenTarget(tabCtx, t.listener(hook))

	if err := chromedp.Run(tabCtx, b.setupAction()); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("page setup: %w", err)
	}
	return t, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		patterns := []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}
		if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
			return fmt.Errorf("enable fetch domain: %w", err)
		}
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := cdppage.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable page domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(b.userAgent()).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if len(b.cfg.ExtraHeaders) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(b.cfg.ExtraHeaders)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if _, err := cdppage.AddScriptToEvaluateOnNewDocument(popupGuardJS).Do(ctx); err != nil {
			return fmt.Errorf("install popup guard: %w", err)
		}
		return nil
	})
}

func (b *Browser) userAgent() string {
	if b.cfg.UserAgent != "" {
		return b.cfg.UserAgent
	}
	return fmt.Sprintf(userAgentTemplate, chromeVersions[rand.IntN(len(chromeVersions))])
}

func (b *Browser) acquireSlot(ctx context.Context) (func(), error) {
	if b.limiter == nil {
		return func() {}, nil
	}
	select {
	case b.limiter <- struct{}{}:
		return func() { <-b.limiter }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser slot: %w", ctx.Err())
	}
}

func toNetworkHeaders(h map[string]string) network.Headers {
	headers := network.Headers{}
	for key, value := range h {
		headers[key] = value
	}
	return headers
}

// forwardCancel cancels when parent is done, until the returned stop is called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// executor returns ctx bound to the tab's target for raw CDP commands issued
// outside chromedp.Run.
func executor(tabCtx context.Context) context.Context {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return tabCtx
	}
	return cdp.WithExecutor(tabCtx, c.Target)
}
