// Package collector implements one collection pass: extract listings from the
// portal page, classify them against the rules, persist what is new, notify,
// and perform follow-up clicks and lead tracking.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
	"github.com/ternarybob/portalwatch/internal/services/matcher"
	"github.com/ternarybob/portalwatch/internal/services/page"
	"github.com/ternarybob/portalwatch/internal/services/scheduler"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
)

// Config holds collector settings
type Config struct {
	MaxLiveRows int    // Auto-rotate threshold per store, 0 disables
	ArchiveDir  string // Where rotated entries go
}

// Collector runs collection passes. It is driven by the cycle scheduler,
// which guarantees at most one pass at a time.
type Collector struct {
	page     *page.Exclusive
	adapter  interfaces.PageAdapter
	matcher  *matcher.Matcher
	stores   dedup.Set
	notifier interfaces.Notifier
	sink     interfaces.EventSink
	config   Config
	logger   arbor.ILogger
}

// NewCollector creates a Collector. stores must contain the listings, actions and leads stores.
func NewCollector(
	adapter interfaces.PageAdapter,
	m *matcher.Matcher,
	stores dedup.Set,
	notifier interfaces.Notifier,
	sink interfaces.EventSink,
	config Config,
	logger arbor.ILogger,
) (*Collector, error) {
	for _, name := range []string{models.StoreListings, models.StoreActions, models.StoreLeads} {
		if _, err := stores.Get(name); err != nil {
			return nil, err
		}
	}
	ex := page.NewExclusive(adapter)
	return &Collector{
		page:     ex,
		adapter:  ex.Adapter(),
		matcher:  m,
		stores:   stores,
		notifier: notifier,
		sink:     sink,
		config:   config,
		logger:   logger,
	}, nil
}

// PassStats counts what one pass did
type PassStats struct {
	Extracted   int
	Matched     int
	NewListings int
	Clicks      int
	NewLeads    int
	Notified    int
}

// Pass is a scheduler.PassFunc. It holds the portal tab for the whole pass.
func (c *Collector) Pass(ctx context.Context, cycleID uint64) (*scheduler.PassResult, error) {
	var result *scheduler.PassResult
	err := c.page.Do(ctx, func() error {
		var err error
		result, err = c.pass(ctx, cycleID)
		return err
	})
	return result, err
}

func (c *Collector) pass(ctx context.Context, cycleID uint64) (*scheduler.PassResult, error) {
	logger := c.logger.WithCorrelationId(fmt.Sprintf("cycle-%d", cycleID))

	ready, err := c.adapter.IsReady(ctx)
	if err != nil {
		return nil, fmt.Errorf("readiness check: %w", err)
	}
	if !ready {
		logger.Debug().Msg("Portal page not ready")
		return &scheduler.PassResult{NotReady: true}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := c.adapter.ExtractItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract items: %w", err)
	}

	stats := PassStats{Extracted: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			logger.Info().Int("processed", stats.Matched).Msg("Pass cancelled between items")
			return &scheduler.PassResult{Items: items}, err
		}
		c.processItem(ctx, logger, item, cycleID, &stats)
	}

	c.rotate(ctx, logger)

	logger.Info().
		Int("extracted", stats.Extracted).
		Int("matched", stats.Matched).
		Int("new_listings", stats.NewListings).
		Int("clicks", stats.Clicks).
		Int("new_leads", stats.NewLeads).
		Int("notified", stats.Notified).
		Msg("Collection pass finished")

	return &scheduler.PassResult{Items: items}, nil
}

func (c *Collector) processItem(ctx context.Context, logger arbor.ILogger, item models.Item, cycleID uint64, stats *PassStats) {
	rules := c.matcher.Match(item)
	if len(rules) == 0 {
		return
	}
	stats.Matched++

	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}

	fields := ItemFields(item)
	fields[models.FieldRules] = strings.Join(names, ",")
	fields[models.FieldCycleID] = strconv.FormatUint(cycleID, 10)

	listings := c.stores[models.StoreListings]
	res, err := listings.Upsert(fields)
	if err != nil {
		if errors.Is(err, dedup.ErrEmptyKey) {
			logger.Debug().Int("index", item.Index).Msg("Skipping item without identity")
		} else {
			logger.Warn().Err(err).Int("index", item.Index).Msg("Failed to record listing")
		}
		return
	}

	if res.Action == dedup.ActionNew {
		stats.NewListings++
		c.emit(ctx, models.EventListingNew, "New matching listing", map[string]string{
			"key":   res.Entry.Key,
			"title": item.Title,
			"rules": fields[models.FieldRules],
		})
	}

	for i := range rules {
		rule := &rules[i]

		if rule.HasAction(matcher.ActionNotify) && res.Action == dedup.ActionNew {
			if c.notify(ctx, logger, listingMessage(item, rule.Name), "listing:"+rule.Name+":"+res.Entry.Key, "listing") {
				stats.Notified++
			}
		}

		if rule.HasAction(matcher.ActionClick) {
			if c.clickOnce(ctx, logger, item, rule.Name, res.Entry.Key, cycleID) {
				stats.Clicks++
			}
		}

		if rule.HasAction(matcher.ActionLead) {
			if c.trackLead(ctx, logger, item, rule.Name, cycleID) {
				stats.NewLeads++
			}
		}
	}
}

// clickOnce clicks the item for rule unless that was already done in an earlier cycle
func (c *Collector) clickOnce(ctx context.Context, logger arbor.ILogger, item models.Item, rule, listingKey string, cycleID uint64) bool {
	actions := c.stores[models.StoreActions]
	record := map[string]string{
		models.FieldRule:       rule,
		models.FieldListingKey: listingKey,
		models.FieldTitle:      item.Title,
		models.FieldItemID:     item.ID,
		models.FieldCycleID:    strconv.FormatUint(cycleID, 10),
	}
	if _, done := actions.Lookup(record); done {
		return false
	}

	if ctx.Err() != nil {
		return false
	}

	clicked, err := c.adapter.Click(ctx, item.Index)
	if err != nil {
		logger.Warn().Err(err).Str("rule", rule).Int("index", item.Index).Msg("Follow-up click failed")
		return false
	}
	if !clicked {
		logger.Debug().Str("rule", rule).Int("index", item.Index).Msg("Follow-up click target missing, will retry next cycle")
		return false
	}

	if _, err := actions.Upsert(record); err != nil {
		logger.Warn().Err(err).Str("rule", rule).Msg("Failed to record performed action")
	}
	c.emit(ctx, models.EventActionPerformed, "Follow-up click performed", map[string]string{
		"rule":  rule,
		"key":   listingKey,
		"title": item.Title,
	})
	return true
}

// trackLead records the item as a lead and notifies on first sight
func (c *Collector) trackLead(ctx context.Context, logger arbor.ILogger, item models.Item, rule string, cycleID uint64) bool {
	fields := ItemFields(item)
	fields[models.FieldRule] = rule
	fields[models.FieldCycleID] = strconv.FormatUint(cycleID, 10)

	res, err := c.stores[models.StoreLeads].Upsert(fields)
	if err != nil {
		if !errors.Is(err, dedup.ErrEmptyKey) {
			logger.Warn().Err(err).Str("rule", rule).Msg("Failed to record lead")
		}
		return false
	}

	switch res.Action {
	case dedup.ActionNew:
		c.emit(ctx, models.EventLeadNew, "New lead", map[string]string{
			"rule":  rule,
			"key":   res.Entry.Key,
			"title": item.Title,
		})
		c.notify(ctx, logger, "New lead: "+describe(item), "lead:"+res.Entry.Key, "lead")
		return true
	case dedup.ActionMerge:
		logger.Debug().Str("key", res.Entry.Key).Msg("Lead details filled in")
	}
	return false
}

func (c *Collector) notify(ctx context.Context, logger arbor.ILogger, text, signature, kind string) bool {
	if c.notifier == nil {
		return false
	}
	meta := map[string]string{
		interfaces.MetaSignature: signature,
		"kind":                   kind,
	}
	if err := c.notifier.Send(ctx, text, meta); err != nil {
		logger.Warn().Err(err).Str("kind", kind).Msg("Failed to send notification")
		return false
	}
	return true
}

func (c *Collector) rotate(ctx context.Context, logger arbor.ILogger) {
	if c.config.MaxLiveRows <= 0 {
		return
	}
	rotated, err := c.stores.RotateAll(c.config.MaxLiveRows, c.config.ArchiveDir)
	if err != nil {
		logger.Warn().Err(err).Msg("Store rotation failed")
	}
	for name, n := range rotated {
		c.emit(ctx, models.EventStoreRotated, "Store rotated", map[string]string{
			"store":    name,
			"archived": strconv.Itoa(n),
		})
	}
}

func (c *Collector) emit(ctx context.Context, eventType, message string, fields map[string]string) {
	if c.sink == nil {
		return
	}
	c.sink.Emit(ctx, models.Event{
		Type:     eventType,
		Source:   "collector",
		Severity: models.SeverityInfo,
		Message:  message,
		Fields:   fields,
	})
}

// ItemFields flattens an item into store record fields
func ItemFields(item models.Item) map[string]string {
	fields := make(map[string]string, 6+len(item.Fields))
	for k, v := range item.Fields {
		fields[k] = v
	}
	fields[models.FieldItemID] = item.ID
	fields[models.FieldTitle] = item.Title
	fields[models.FieldSeller] = item.Seller
	fields[models.FieldURL] = item.URL
	fields[models.FieldStatus] = item.Status
	if item.Price != 0 {
		fields[models.FieldPrice] = strconv.FormatFloat(item.Price, 'f', 2, 64)
	} else {
		fields[models.FieldPrice] = ""
	}
	return fields
}

func describe(item models.Item) string {
	var b strings.Builder
	b.WriteString(item.Title)
	if item.Price != 0 {
		b.WriteString(" (")
		b.WriteString(strconv.FormatFloat(item.Price, 'f', 2, 64))
		b.WriteString(")")
	}
	if item.Seller != "" {
		b.WriteString(" from ")
		b.WriteString(item.Seller)
	}
	if item.URL != "" {
		b.WriteString(" ")
		b.WriteString(item.URL)
	}
	return b.String()
}

func listingMessage(item models.Item, rule string) string {
	return fmt.Sprintf("[%s] New listing: %s", rule, describe(item))
}
