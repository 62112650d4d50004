package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JakeFAU/fixlab/internal/extractor"
	"github.com/JakeFAU/fixlab/internal/fixlab"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockDriver is a mock implementation of fixlab.Driver.
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Launch(ctx context.Context) (fixlab.Browser, error) {
	args := m.Called(ctx)
	b, _ := args.Get(0).(fixlab.Browser)
	return b, args.Error(1)
}

// fakeBrowser serves pages from an in-memory site and tracks open tabs.
type fakeBrowser struct {
	mu       sync.Mutex
	site     map[string]fakePage
	loads    []string
	open     int
	maxOpen  int
	closed   bool
	openErrs map[int]error
	opened   int
	flaky    map[string]int
}

type fakePage struct {
	raw     extractor.RawSnapshot
	loadErr error
	evalErr error
}

func (b *fakeBrowser) NewPage(_ context.Context) (fixlab.PageHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++
	if err := b.openErrs[b.opened]; err != nil {
		return nil, err
	}
	b.open++
	if b.open > b.maxOpen {
		b.maxOpen = b.open
	}
	return &fakeHandle{browser: b}, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakeHandle struct {
	browser *fakeBrowser
	page    fakePage
}

func (h *fakeHandle) Load(_ context.Context, url string) error {
	h.browser.mu.Lock()
	defer h.browser.mu.Unlock()
	h.browser.loads = append(h.browser.loads, url)
	if h.browser.flaky[url] > 0 {
		h.browser.flaky[url]--
		return &fixlab.DriverError{URL: url, Stage: "navigate", Err: errors.New("net::ERR_CONNECTION_RESET")}
	}
	p, ok := h.browser.site[url]
	if !ok {
		return &fixlab.DriverError{URL: url, Stage: "navigate", Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	}
	if p.loadErr != nil {
		return p.loadErr
	}
	h.page = p
	return nil
}

func (h *fakeHandle) Screenshot(context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (h *fakeHandle) Evaluate(_ context.Context, _ string, out any) error {
	if h.page.evalErr != nil {
		return h.page.evalErr
	}
	raw, ok := out.(*extractor.RawSnapshot)
	if !ok {
		return fmt.Errorf("unexpected target %T", out)
	}
	*raw = h.page.raw
	return nil
}

func (h *fakeHandle) Close() error {
	h.browser.mu.Lock()
	defer h.browser.mu.Unlock()
	h.browser.open--
	return nil
}

type memArtifacts struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (a *memArtifacts) WriteScreenshot(_ context.Context, sessionID, fileName string, png []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.files == nil {
		a.files = make(map[string][]byte)
	}
	key := sessionID + "/" + fileName
	a.files[key] = png
	return key, nil
}

func (a *memArtifacts) Resolve(sessionID, fileName string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := sessionID + "/" + fileName
	_, ok := a.files[key]
	return key, ok
}

const root = "https://shop.example.com/"

func page(title string, links ...string) fakePage {
	return fakePage{raw: extractor.RawSnapshot{Title: title, H1Count: 1, Links: links, ViewportHeight: 900}}
}

// storefront: root links to 20 products, an external host, an image, and itself.
func storefront() map[string]fakePage {
	site := map[string]fakePage{}
	links := []string{root, "https://cdn.example.com/x", root + "files/hero.jpg", root + "products/p00?variant=1#top"}
	for i := 0; i < 20; i++ {
		u := fmt.Sprintf("%sproducts/p%02d", root, i)
		links = append(links, u)
		site[u] = page(fmt.Sprintf("P%02d", i), root+"collections/all")
	}
	site[root] = page("Home", links...)
	site[root+"collections/all"] = page("All")
	return site
}

func newCrawler(t *testing.T, b *fakeBrowser) (*Crawler, *MockDriver, *memArtifacts) {
	t.Helper()
	driver := &MockDriver{}
	driver.On("Launch", mock.Anything).Return(b, nil).Once()
	artifacts := &memArtifacts{}
	c, err := New(Config{}, driver, artifacts, nil)
	require.NoError(t, err)
	return c, driver, artifacts
}

func TestCrawlCapsPagesAndStaysSameOrigin(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{site: storefront()}
	c, driver, artifacts := newCrawler(t, b)

	res, err := c.Crawl(context.Background(), Request{SessionID: "cufl_a", RootURL: root, MaxPages: 12, MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, res.Pages, 12)
	driver.AssertExpectations(t)

	assert.True(t, b.closed)
	assert.Equal(t, 1, b.maxOpen)
	assert.Zero(t, b.open)
	assert.Len(t, b.loads, 12)

	for i, p := range res.Pages {
		assert.Equal(t, fmt.Sprintf("page-%02d", i+1), p.PageID)
		assert.LessOrEqual(t, p.Depth, 1)
		assert.Contains(t, p.URL, "https://shop.example.com/")
	}
	assert.Equal(t, "Home page", res.Pages[0].Label)
	assert.Equal(t, root+"products/p00", res.Pages[1].URL)
	assert.Equal(t, "02-products.png", res.Pages[1].ScreenshotFileName)
	assert.Equal(t, "/sessions/cufl_a/screenshots/02-products.png", res.Pages[1].ScreenshotURL)
	assert.Len(t, artifacts.files, 12)

	// external host and image never reach the frontier
	assert.NotContains(t, res.Pages[0].Links, "https://cdn.example.com/x")
	assert.NotContains(t, res.Pages[0].Links, root+"files/hero.jpg")
	assert.Equal(t, root, res.Pages[0].Links[0])
	assert.Equal(t, root+"products/p00", res.Pages[0].Links[1])
}

func TestCrawlDepthZeroVisitsOnlyRoot(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{site: storefront()}
	c, _, _ := newCrawler(t, b)

	res, err := c.Crawl(context.Background(), Request{SessionID: "cufl_b", RootURL: root, MaxPages: 12, MaxDepth: 0})
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, root, res.Pages[0].URL)
}

func TestCrawlSkipsFailingPages(t *testing.T) {
	t.Parallel()

	site := storefront()
	site[root+"products/p00"] = fakePage{loadErr: &fixlab.DriverError{Stage: "navigate", Err: context.DeadlineExceeded}}
	site[root+"products/p01"] = fakePage{evalErr: errors.New("script exception")}
	b := &fakeBrowser{site: site, openErrs: map[int]error{4: errors.New("target crashed")}}
	c, _, artifacts := newCrawler(t, b)

	res, err := c.Crawl(context.Background(), Request{SessionID: "cufl_c", RootURL: root, MaxPages: 4, MaxDepth: 2})
	require.NoError(t, err)
	require.Len(t, res.Pages, 4)
	assert.Equal(t, 3, res.Failures)
	assert.Zero(t, b.open)

	// indices stay contiguous across skipped pages
	assert.Equal(t, "page-02", res.Pages[1].PageID)
	assert.Equal(t, root+"products/p03", res.Pages[1].URL)
	assert.Equal(t, "02-products.png", res.Pages[1].ScreenshotFileName)
	// the screenshot of the page whose script failed was written but is overwritten by the next capture
	assert.Len(t, artifacts.files, 4)
}

func TestCrawlEmptyWhenRootFails(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{site: map[string]fakePage{}}
	c, _, _ := newCrawler(t, b)

	res, err := c.Crawl(context.Background(), Request{SessionID: "cufl_d", RootURL: root, MaxPages: 6, MaxDepth: 2})
	require.NoError(t, err)
	assert.Empty(t, res.Pages)
	assert.NotNil(t, res.Pages)
	assert.Equal(t, 1, res.Failures)
	assert.True(t, b.closed)
}

func TestCrawlLaunchFailure(t *testing.T) {
	t.Parallel()

	driver := &MockDriver{}
	launchErr := &fixlab.DriverError{Stage: "launch", Err: errors.New("chrome not found")}
	driver.On("Launch", mock.Anything).Return(nil, launchErr)
	c, err := New(Config{}, driver, &memArtifacts{}, nil)
	require.NoError(t, err)

	_, err = c.Crawl(context.Background(), Request{SessionID: "cufl_e", RootURL: root, MaxPages: 6, MaxDepth: 2})
	require.ErrorIs(t, err, fixlab.ErrDriver)
}

func TestCrawlCanceled(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{site: storefront()}
	c, _, _ := newCrawler(t, b)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Crawl(ctx, Request{SessionID: "cufl_f", RootURL: root, MaxPages: 6, MaxDepth: 2})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Pages)
	assert.True(t, b.closed)
}

func TestCrawlWithPoliteness(t *testing.T) {
	t.Parallel()

	driver := &MockDriver{}
	b := &fakeBrowser{site: storefront()}
	driver.On("Launch", mock.Anything).Return(b, nil)
	c, err := New(Config{PagesPerSecond: 1000}, driver, &memArtifacts{}, nil)
	require.NoError(t, err)

	res, err := c.Crawl(context.Background(), Request{SessionID: "cufl_g", RootURL: root, MaxPages: 3, MaxDepth: 1})
	require.NoError(t, err)
	assert.Len(t, res.Pages, 3)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, &memArtifacts{}, nil)
	require.Error(t, err)
	_, err = New(Config{}, &MockDriver{}, nil, nil)
	require.Error(t, err)
}
