// Package headless drives headless Chrome through chromedp for page audits.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/fixlab/internal/fixlab"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultNavigationTimeout = 45 * time.Second
	DefaultSettle            = 550 * time.Millisecond
	DefaultViewportWidth     = 1440
	DefaultViewportHeight    = 900
	isolatedWorldName        = "fixlab-extractor"
)

// Config controls the behavior of the headless driver.
type Config struct {
	UserAgent         string
	ExecPath          string
	NavigationTimeout time.Duration
	Settle            time.Duration
	ViewportWidth     int
	ViewportHeight    int
	// AllowNoSandbox permits a second launch with --no-sandbox when the
	// sandboxed launch fails, for hosts that cannot run the Chrome sandbox.
	AllowNoSandbox bool
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.Settle < 0 {
		c.Settle = 0
	} else if c.Settle == 0 {
		c.Settle = DefaultSettle
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = DefaultViewportWidth
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = DefaultViewportHeight
	}
	return c
}

// Driver implements fixlab.Driver using chromedp and headless Chrome.
type Driver struct {
	cfg    Config
	logger *zap.Logger
	start  func(ctx context.Context, noSandbox bool) (*browser, error)
}

// NewChromedp creates a headless driver backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{cfg: cfg.withDefaults(), logger: logger}
	d.start = d.startChrome
	return d
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// launchFlags are the Chrome switches added on top of chromedp's defaults.
func launchFlags(noSandbox bool) map[string]any {
	flags := map[string]any{
		"headless":          "new",
		"disable-gpu":       true,
		"hide-scrollbars":   true,
		"enable-automation": false,
		"mute-audio":        true,
	}
	if noSandbox {
		flags["no-sandbox"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

func (d *Driver) allocatorOptions(noSandbox bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(noSandbox) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	opts = append(opts, chromedp.WindowSize(d.cfg.ViewportWidth, d.cfg.ViewportHeight))
	if d.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.cfg.UserAgent))
	}
	if d.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.ExecPath))
	}
	return opts
}

// Launch starts one browser process with the Chrome sandbox enabled. If that
// fails and AllowNoSandbox is set, it retries once without the sandbox. The
// browser lives until Close or until ctx is canceled.
func (d *Driver) Launch(ctx context.Context) (fixlab.Browser, error) {
	b, err := d.start(ctx, false)
	if err != nil && d.cfg.AllowNoSandbox && ctx.Err() == nil {
		d.logger.Warn("sandboxed launch failed, retrying without sandbox", zap.Error(err))
		b, err = d.start(ctx, true)
	}
	if err != nil {
		return nil, &fixlab.DriverError{Stage: "launch", Err: err}
	}
	return b, nil
}

func (d *Driver) startChrome(ctx context.Context, noSandbox bool) (*browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, d.allocatorOptions(noSandbox)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			d.logger.Debug("chromedp", zap.String("message", fmt.Sprintf(format, args...)))
		}),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}
	d.logger.Debug("browser launched",
		zap.Bool("no_sandbox", noSandbox),
		zap.Int("viewport_width", d.cfg.ViewportWidth),
		zap.Int("viewport_height", d.cfg.ViewportHeight),
	)
	return &browser{
		cfg:           d.cfg,
		logger:        d.logger,
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type browser struct {
	cfg           Config
	logger        *zap.Logger
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewPage opens a tab with the audit viewport and media/font requests blocked.
func (b *browser) NewPage(ctx context.Context) (fixlab.PageHandle, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.ctx)
	p := &pageHandle{
		cfg:    b.cfg,
		logger: b.logger,
		ctx:    tabCtx,
		cancel: cancelTab,
		idle:   make(chan struct{}, 1),
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	setupCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(setupCtx, p.setupAction()); err != nil {
		cancelTab()
		return nil, &fixlab.DriverError{Stage: "open page", Err: err}
	}
	return p, nil
}

// Close shuts the browser down and releases the allocator.
func (b *browser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.browserCancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type pageHandle struct {
	cfg    Config
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	idle   chan struct{}
	url    string
}

func (p *pageHandle) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if err := chromedp.EmulateViewport(int64(p.cfg.ViewportWidth), int64(p.cfg.ViewportHeight)).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		patterns := []*fetch.RequestPattern{
			{URLPattern: "*", ResourceType: network.ResourceTypeMedia, RequestStage: fetch.RequestStageRequest},
			{URLPattern: "*", ResourceType: network.ResourceTypeFont, RequestStage: fetch.RequestStageRequest},
		}
		if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
			return fmt.Errorf("enable request interception: %w", err)
		}
		return nil
	})
}

// onEvent runs on the chromedp event loop and must not block.
func (p *pageHandle) onEvent(ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go p.resolvePaused(e)
	case *page.EventLifecycleEvent:
		if e.Name == "networkIdle" {
			select {
			case p.idle <- struct{}{}:
			default:
			}
		}
	}
}

func (p *pageHandle) resolvePaused(ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(p.ctx, c.Target)
	var err error
	if blockedResource(ev.ResourceType) {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(ctx)
	}
	if err != nil && p.ctx.Err() == nil {
		p.logger.Debug("resolve intercepted request", zap.String("request_url", ev.Request.URL), zap.Error(err))
	}
}

func blockedResource(t network.ResourceType) bool {
	return t == network.ResourceTypeMedia || t == network.ResourceTypeFont
}

// Load navigates under the hard navigation timeout, then waits briefly for the
// network to go idle. The settle wait never fails the load.
func (p *pageHandle) Load(ctx context.Context, rawURL string) error {
	p.url = rawURL
	navCtx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		return &fixlab.DriverError{URL: rawURL, Stage: "navigate", Err: err}
	}

	if p.cfg.Settle > 0 {
		timer := time.NewTimer(p.cfg.Settle)
		defer timer.Stop()
		select {
		case <-p.idle:
		case <-timer.C:
		case <-ctx.Done():
			return &fixlab.DriverError{URL: rawURL, Stage: "settle", Err: ctx.Err()}
		}
	}
	return nil
}

// Screenshot captures the full page as PNG.
func (p *pageHandle) Screenshot(ctx context.Context) ([]byte, error) {
	shotCtx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, &fixlab.DriverError{URL: p.url, Stage: "screenshot", Err: err}
	}
	return buf, nil
}

// Evaluate runs script in an isolated world so page globals are not shared, and
// decodes the returned value into out.
func (p *pageHandle) Evaluate(ctx context.Context, script string, out any) error {
	evalCtx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	action := chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("get frame tree: %w", err)
		}
		world, err := page.CreateIsolatedWorld(tree.Frame.ID).WithWorldName(isolatedWorldName).Do(ctx)
		if err != nil {
			return fmt.Errorf("create isolated world: %w", err)
		}
		res, exc, err := runtime.Evaluate(script).
			WithContextID(world).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("runtime evaluate: %w", err)
		}
		if exc != nil {
			return fmt.Errorf("script exception: %s", exceptionText(exc))
		}
		if res == nil || len(res.Value) == 0 {
			return errors.New("script returned no value")
		}
		if err := json.Unmarshal([]byte(res.Value), out); err != nil {
			return fmt.Errorf("decode script result: %w", err)
		}
		return nil
	})
	if err := chromedp.Run(evalCtx, action); err != nil {
		return &fixlab.DriverError{URL: p.url, Stage: "evaluate", Err: err}
	}
	return nil
}

// Close closes the tab.
func (p *pageHandle) Close() error {
	p.cancel()
	return nil
}

func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

// forwardCancel cancels a chromedp-derived context when the caller's context
// ends, without tying the tab's lifetime to the caller.
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
