// Package page drives the portal through a single headless Chrome session and
// exposes it to the core as an interfaces.PageAdapter.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// ErrNotStarted is returned when the browser session has not been started
var ErrNotStarted = errors.New("browser not started")

// BrowserConfig holds the browser launch options
type BrowserConfig struct {
	Headless       bool
	UserAgent      string
	NoSandbox      bool
	StartupTimeout time.Duration
}

// Browser owns one long-lived Chrome tab. The portal session is stateful, so
// unlike a crawler pool there is exactly one instance.
type Browser struct {
	config BrowserConfig
	logger arbor.ILogger

	mu              sync.Mutex
	ctx             context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
}

// NewBrowser creates an unstarted Browser
func NewBrowser(config BrowserConfig, logger arbor.ILogger) *Browser {
	if config.UserAgent == "" {
		config.UserAgent = "PortalWatch/1.0"
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = 30 * time.Second
	}
	return &Browser{config: config, logger: logger}
}

// Start launches Chrome and checks the tab responds
func (b *Browser) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		return fmt.Errorf("browser already started")
	}

	startTime := time.Now()
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.config.Headless),
		chromedp.Flag("no-sandbox", b.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.UserAgent(b.config.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, b.config.StartupTimeout)
	defer testCancel()

	var title string
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"), chromedp.Title(&title)); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	b.ctx = browserCtx
	b.browserCancel = browserCancel
	b.allocatorCancel = allocatorCancel

	b.logger.Info().
		Bool("headless", b.config.Headless).
		Str("user_agent", b.config.UserAgent).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser started")
	return nil
}

// Run executes actions on the tab, bounded by ctx and timeout
func (b *Browser) Run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	b.mu.Lock()
	browserCtx := b.ctx
	b.mu.Unlock()

	if browserCtx == nil {
		return ErrNotStarted
	}

	runCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	// Propagate caller cancellation into the tab context
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// IsStarted reports whether Start succeeded and Shutdown has not run
func (b *Browser) IsStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx != nil
}

// Shutdown closes the tab and the browser process
func (b *Browser) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.browserCancel()
		b.allocatorCancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		b.logger.Warn().Msg("Browser shutdown timed out")
	}

	b.ctx = nil
	b.browserCancel = nil
	b.allocatorCancel = nil
	b.logger.Info().Msg("Browser shut down")
	return nil
}
