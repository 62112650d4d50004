// Package crawler walks a storefront breadth-first with a headless browser and
// captures a snapshot and screenshot of every page it visits.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fixlab/internal/extractor"
	"github.com/JakeFAU/fixlab/internal/fixlab"
	"github.com/JakeFAU/fixlab/internal/frontier"
	"github.com/JakeFAU/fixlab/internal/metrics"
	"github.com/JakeFAU/fixlab/internal/policy/ratelimit"
)

// Page outcomes reported to metrics.
const (
	OutcomeCaptured = "captured"
	OutcomeFailed   = "failed"
)

// Config controls crawl behavior.
type Config struct {
	Script extractor.ScriptConfig
	// PagesPerSecond throttles page loads. Zero disables throttling.
	PagesPerSecond float64
	// NavigateAttempts bounds tries per page for transient navigation
	// failures. Zero uses DefaultNavigateAttempts; one disables retries.
	NavigateAttempts int
	// RetryBaseDelay seeds the backoff between navigation attempts.
	RetryBaseDelay time.Duration
}

// Request describes one crawl. Bounds are expected to be clamped already.
type Request struct {
	SessionID string
	RootURL   string
	MaxPages  int
	MaxDepth  int
}

// Result is the outcome of a crawl.
type Result struct {
	Pages    []fixlab.Page
	Failures int
}

// Crawler runs sequential crawls. One page is open at a time.
type Crawler struct {
	driver    fixlab.Driver
	artifacts fixlab.ArtifactStore
	logger    *zap.Logger
	cfg       Config
	script    string
	retry     *RetryPolicy
}

// New creates a Crawler.
func New(cfg Config, driver fixlab.Driver, artifacts fixlab.ArtifactStore, logger *zap.Logger) (*Crawler, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	if artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Script.ViewportHeight <= 0 {
		cfg.Script = extractor.DefaultScriptConfig()
	}
	script, err := extractor.Script(cfg.Script)
	if err != nil {
		return nil, err
	}
	return &Crawler{
		driver:    driver,
		artifacts: artifacts,
		logger:    logger,
		cfg:       cfg,
		script:    script,
		retry:     NewRetryPolicy(cfg.NavigateAttempts, cfg.RetryBaseDelay, DefaultRetryMaxDelay),
	}, nil
}

// Crawl launches one browser and visits pages breadth-first from req.RootURL
// until MaxPages pages are captured or the frontier is empty. A page that fails
// is logged and skipped. Only a launch failure or cancellation of ctx is
// returned as an error; on cancellation the pages captured so far are returned
// with it.
func (c *Crawler) Crawl(ctx context.Context, req Request) (Result, error) {
	origin, err := frontier.Origin(req.RootURL)
	if err != nil {
		return Result{}, err
	}
	logger := c.logger.With(zap.String("session_id", req.SessionID), zap.String("root_url", req.RootURL))

	browser, err := c.driver.Launch(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			logger.Warn("close browser", zap.Error(cerr))
		}
	}()

	limiter := ratelimit.New(ratelimit.Config{PagesPerSecond: c.cfg.PagesPerSecond})

	result := Result{Pages: []fixlab.Page{}}
	queue := frontier.New(req.RootURL, req.MaxDepth)
	for len(result.Pages) < req.MaxPages {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("crawl canceled: %w", err)
		}
		entry, ok := queue.Next()
		if !ok {
			break
		}
		if err := limiter.Wait(ctx, entry.URL); err != nil {
			return result, fmt.Errorf("wait politeness limiter: %w", err)
		}

		index := len(result.Pages) + 1
		page, err := c.visit(ctx, browser, req.SessionID, origin, entry, index)
		if err != nil {
			result.Failures++
			metrics.ObservePage(OutcomeFailed)
			logger.Warn("page skipped", zap.String("url", entry.URL), zap.Int("depth", entry.Depth), zap.Error(err))
			continue
		}
		metrics.ObservePage(OutcomeCaptured)
		result.Pages = append(result.Pages, page)
		added := queue.Discover(entry, page.Links)
		logger.Debug("page captured",
			zap.String("page_id", page.PageID),
			zap.String("url", entry.URL),
			zap.Int("depth", entry.Depth),
			zap.Int("links", len(page.Links)),
			zap.Int("enqueued", added),
		)
	}
	logger.Info("crawl finished",
		zap.Int("pages", len(result.Pages)),
		zap.Int("failures", result.Failures),
		zap.Int("frontier_remaining", queue.Len()),
	)
	return result, nil
}

func (c *Crawler) visit(
	ctx context.Context,
	browser fixlab.Browser,
	sessionID string,
	origin *url.URL,
	entry frontier.Entry,
	index int,
) (fixlab.Page, error) {
	handle, err := browser.NewPage(ctx)
	if err != nil {
		return fixlab.Page{}, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			c.logger.Debug("close page", zap.String("url", entry.URL), zap.Error(cerr))
		}
	}()

	if err := c.load(ctx, handle, entry); err != nil {
		return fixlab.Page{}, err
	}
	png, err := handle.Screenshot(ctx)
	if err != nil {
		return fixlab.Page{}, err
	}
	fileName := frontier.ScreenshotFileName(index, entry.URL)
	if _, err := c.artifacts.WriteScreenshot(ctx, sessionID, fileName, png); err != nil {
		return fixlab.Page{}, fmt.Errorf("write screenshot: %w", err)
	}

	var raw extractor.RawSnapshot
	if err := handle.Evaluate(ctx, c.script, &raw); err != nil {
		return fixlab.Page{}, err
	}

	page := extractor.Build(raw)
	page.PageID = frontier.PageID(index)
	page.URL = entry.URL
	page.Depth = entry.Depth
	page.Label = frontier.PageLabel(entry.URL)
	page.ScreenshotFileName = fileName
	page.ScreenshotURL = ScreenshotURL(sessionID, fileName)
	page.Links = canonicalLinks(raw.Links, origin)
	page.Metrics = extractor.ComputeMetrics(page)
	return page, nil
}

// load navigates to entry, repeating transient navigation failures while the
// retry policy allows.
func (c *Crawler) load(ctx context.Context, handle fixlab.PageHandle, entry frontier.Entry) error {
	for attempt := 1; ; attempt++ {
		err := handle.Load(ctx, entry.URL)
		if !c.retry.ShouldRetry(err, attempt) {
			return err
		}
		c.logger.Debug("retrying navigation",
			zap.String("url", entry.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if werr := c.retry.Wait(ctx, attempt); werr != nil {
			return err
		}
	}
}

// ScreenshotURL is the HTTP path a report uses to reference a screenshot.
func ScreenshotURL(sessionID, fileName string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/screenshots/" + url.PathEscape(fileName)
}

func canonicalLinks(raw []string, origin *url.URL) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		canon, ok := frontier.Canonicalize(l, origin)
		if !ok {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}
	return out
}
