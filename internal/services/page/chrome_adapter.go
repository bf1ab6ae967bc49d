package page

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
)

// ChromeAdapter implements interfaces.PageAdapter over a Browser. Calls are
// serialised; the portal tab is a single shared session.
type ChromeAdapter struct {
	browser           *Browser
	config            common.PageConfig
	selectors         Selectors
	navigationTimeout time.Duration
	actionTimeout     time.Duration
	logger            arbor.ILogger

	mu sync.Mutex
}

// NewChromeAdapter creates an adapter for the configured portal page
func NewChromeAdapter(browser *Browser, config common.PageConfig, logger arbor.ILogger) *ChromeAdapter {
	return &ChromeAdapter{
		browser: browser,
		config:  config,
		selectors: Selectors{
			Item:        config.ItemSelector,
			IDAttribute: config.IDAttribute,
			Fields:      config.FieldSelectors,
		},
		navigationTimeout: common.ParseDurationOr(config.NavigationTimeout, 60*time.Second),
		actionTimeout:     common.ParseDurationOr(config.ActionTimeout, 15*time.Second),
		logger:            logger,
	}
}

// Open navigates the tab to the portal
func (a *ChromeAdapter) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.config.PortalURL == "" {
		return fmt.Errorf("portal_url is not configured")
	}
	if err := a.browser.Run(ctx, a.navigationTimeout, chromedp.Navigate(a.config.PortalURL)); err != nil {
		return fmt.Errorf("failed to open portal: %w", err)
	}
	a.logger.Info().Str("url", a.config.PortalURL).Msg("Portal page opened")
	return nil
}

// IsReady reports whether the document has loaded and the ready selector is present
func (a *ChromeAdapter) IsReady(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	selector := a.config.ReadySelector
	if selector == "" {
		selector = a.config.ItemSelector
	}

	var ready bool
	expr := fmt.Sprintf(`document.readyState === "complete" && !!document.querySelector(%q)`, selector)
	if err := a.browser.Run(ctx, a.actionTimeout, chromedp.Evaluate(expr, &ready)); err != nil {
		return false, fmt.Errorf("readiness check failed: %w", err)
	}
	return ready, nil
}

// ExtractItems reads the listing rows from the current page
func (a *ChromeAdapter) ExtractItems(ctx context.Context) ([]models.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var html string
	if err := a.browser.Run(ctx, a.actionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("failed to read page HTML: %w", err)
	}
	return ParseItems(html, a.selectors)
}

// Click clicks the follow-up control of the row at index. Returns false when
// the row no longer exists.
func (a *ChromeAdapter) Click(ctx context.Context, index int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	selector := a.config.ClickSelector
	if selector == "" {
		selector = a.config.ItemSelector
	}

	var nodes []*cdp.Node
	if err := a.browser.Run(ctx, a.actionTimeout, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return false, fmt.Errorf("failed to locate click targets: %w", err)
	}
	if index < 0 || index >= len(nodes) {
		a.logger.Debug().Int("index", index).Int("targets", len(nodes)).Msg("Click target no longer present")
		return false, nil
	}

	if err := a.browser.Run(ctx, a.actionTimeout, chromedp.MouseClickNode(nodes[index])); err != nil {
		return false, fmt.Errorf("click failed: %w", err)
	}
	return true, nil
}

// IsSessionActive checks the login indicator. Without a configured selector the
// state is always unknown.
func (a *ChromeAdapter) IsSessionActive(ctx context.Context) (models.LoginState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.config.LoginSelector == "" {
		return models.LoginUnknown, nil
	}

	var present bool
	expr := fmt.Sprintf(`!!document.querySelector(%q)`, a.config.LoginSelector)
	if err := a.browser.Run(ctx, a.actionTimeout, chromedp.Evaluate(expr, &present)); err != nil {
		return models.LoginUnknown, fmt.Errorf("session check failed: %w", err)
	}
	if present {
		return models.LoginTrue, nil
	}
	return models.LoginFalse, nil
}

var _ interfaces.PageAdapter = (*ChromeAdapter)(nil)
