package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fixlab/internal/fixlab"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(3, time.Millisecond, time.Millisecond)
	navErr := &fixlab.DriverError{Stage: "navigate", Err: errors.New("net::ERR_CONNECTION_RESET")}

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"navigate failure", navErr, 1, true},
		{"wrapped navigate failure", fmt.Errorf("visit: %w", navErr), 2, true},
		{"attempts exhausted", navErr, 3, false},
		{"navigation timeout", &fixlab.DriverError{Stage: "navigate", Err: context.DeadlineExceeded}, 1, false},
		{"canceled", &fixlab.DriverError{Stage: "navigate", Err: context.Canceled}, 1, false},
		{"screenshot failure", &fixlab.DriverError{Stage: "screenshot", Err: errors.New("boom")}, 1, false},
		{"plain error", errors.New("boom"), 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, policy.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(0, 0, 0)
	assert.Equal(t, DefaultNavigateAttempts, p.maxAttempts)
	assert.Equal(t, DefaultRetryBaseDelay, p.baseDelay)
	assert.Equal(t, DefaultRetryMaxDelay, p.maxDelay)

	single := NewRetryPolicy(1, 0, 0)
	assert.False(t, single.ShouldRetry(&fixlab.DriverError{Stage: "navigate", Err: errors.New("x")}, 1))
}

func TestRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(4, 100*time.Millisecond, 300*time.Millisecond)
	for i := 0; i < 20; i++ {
		first := p.Backoff(1)
		assert.GreaterOrEqual(t, first, 50*time.Millisecond)
		assert.LessOrEqual(t, first, 100*time.Millisecond)

		capped := p.Backoff(3)
		assert.GreaterOrEqual(t, capped, 150*time.Millisecond)
		assert.LessOrEqual(t, capped, 300*time.Millisecond)
	}
}

func TestRetryPolicyWaitHonorsContext(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx, 1), context.Canceled)
}

func TestCrawlRetriesTransientNavigation(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{site: storefront(), flaky: map[string]int{root: 1}}
	driver := &MockDriver{}
	driver.On("Launch", mock.Anything).Return(b, nil).Once()
	c, err := New(Config{NavigateAttempts: 2, RetryBaseDelay: time.Millisecond}, driver, &memArtifacts{}, nil)
	require.NoError(t, err)

	res, err := c.Crawl(context.Background(), Request{SessionID: "cufl_r", RootURL: root, MaxPages: 1, MaxDepth: 0})
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	assert.Zero(t, res.Failures)
	assert.Equal(t, []string{root, root}, b.loads)
	assert.Zero(t, b.open)
}

func TestCrawlGivesUpAfterNavigateAttempts(t *testing.T) {
	t.Parallel()

	b := &fakeBrowser{site: storefront(), flaky: map[string]int{root: 5}}
	driver := &MockDriver{}
	driver.On("Launch", mock.Anything).Return(b, nil).Once()
	c, err := New(Config{NavigateAttempts: 3, RetryBaseDelay: time.Millisecond}, driver, &memArtifacts{}, nil)
	require.NoError(t, err)

	res, err := c.Crawl(context.Background(), Request{SessionID: "cufl_s", RootURL: root, MaxPages: 1, MaxDepth: 0})
	require.NoError(t, err)
	assert.Empty(t, res.Pages)
	assert.Equal(t, 1, res.Failures)
	assert.Len(t, b.loads, 3)
}
