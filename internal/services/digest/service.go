// Package digest builds and sends the scheduled summary of what the collector
// recorded since the previous digest.
package digest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
)

// Summary is the content of one digest
type Summary struct {
	Slot     string    `json:"slot"`
	Since    time.Time `json:"since"`
	At       time.Time `json:"at"`
	Listings int       `json:"listings"`
	Leads    int       `json:"leads"`
	Actions  int       `json:"actions"`
	Titles   []string  `json:"titles,omitempty"`
}

// Empty reports whether nothing new was recorded
func (s Summary) Empty() bool {
	return s.Listings == 0 && s.Leads == 0 && s.Actions == 0
}

// Text renders the summary for the notification channel
func (s Summary) Text(loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest %s (%s)", s.Slot, s.At.In(loc).Format("2006-01-02"))

	if s.Empty() {
		if s.Since.IsZero() {
			b.WriteString(": nothing recorded yet")
		} else {
			fmt.Fprintf(&b, ": nothing new since %s", s.Since.In(loc).Format("2006-01-02 15:04"))
		}
		return b.String()
	}

	fmt.Fprintf(&b, ": %s, %s, %s",
		plural(s.Listings, "new listing"),
		plural(s.Leads, "new lead"),
		plural(s.Actions, "follow-up"))
	for _, title := range s.Titles {
		b.WriteString("\n- ")
		b.WriteString(title)
	}
	if extra := s.Listings - len(s.Titles); extra > 0 {
		fmt.Fprintf(&b, "\n(+%d more)", extra)
	}
	return b.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}

// Service is the DailyScheduler run function for digests
type Service struct {
	stores    dedup.Set
	notifier  interfaces.Notifier
	sink      interfaces.EventSink
	clock     common.Clock
	location  *time.Location
	maxTitles int
	logger    arbor.ILogger
}

// NewService creates a digest Service. stores must include listings, leads, actions and digests.
func NewService(stores dedup.Set, notifier interfaces.Notifier, sink interfaces.EventSink, clock common.Clock, location *time.Location, maxTitles int, logger arbor.ILogger) (*Service, error) {
	for _, name := range []string{models.StoreListings, models.StoreLeads, models.StoreActions, models.StoreDigests} {
		if _, err := stores.Get(name); err != nil {
			return nil, err
		}
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	if location == nil {
		location = time.UTC
	}
	return &Service{
		stores:    stores,
		notifier:  notifier,
		sink:      sink,
		clock:     clock,
		location:  location,
		maxTitles: maxTitles,
		logger:    logger,
	}, nil
}

// LastDigestAt returns when the most recent digest was recorded, or zero
func (s *Service) LastDigestAt() time.Time {
	entries := s.stores[models.StoreDigests].List()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Timestamp
}

// Build summarizes everything recorded after since
func (s *Service) Build(slot string, since time.Time) Summary {
	summary := Summary{Slot: slot, Since: since, At: s.clock.Now()}

	listings := s.stores[models.StoreListings].ListSince(since)
	summary.Listings = len(listings)
	summary.Leads = len(s.stores[models.StoreLeads].ListSince(since))
	summary.Actions = len(s.stores[models.StoreActions].ListSince(since))

	for _, entry := range listings {
		if len(summary.Titles) >= s.maxTitles {
			break
		}
		if title := entry.Fields[models.FieldTitle]; title != "" {
			summary.Titles = append(summary.Titles, title)
		}
	}
	return summary
}

// Run builds, sends and records the digest for slot. Manual runs are recorded
// under their own key so they never collide with the scheduled one.
func (s *Service) Run(ctx context.Context, slot string, manual bool) error {
	summary := s.Build(slot, s.LastDigestAt())
	text := summary.Text(s.location)

	day := summary.At.In(s.location).Format("2006-01-02")
	run := "auto"
	if manual {
		run = "manual-" + strconv.FormatInt(summary.At.UnixNano(), 10)
	}

	if s.notifier != nil {
		meta := map[string]string{
			interfaces.MetaSignature: "digest:" + day + ":" + slot + ":" + run,
			"kind":                   "digest",
		}
		if err := s.notifier.Send(ctx, text, meta); err != nil {
			return fmt.Errorf("failed to send digest: %w", err)
		}
	}

	res, err := s.stores[models.StoreDigests].Upsert(map[string]string{
		models.FieldDay:     day,
		models.FieldSlot:    slot,
		models.FieldRun:     run,
		models.FieldSummary: text,
		"listings":          strconv.Itoa(summary.Listings),
		"leads":             strconv.Itoa(summary.Leads),
		"actions":           strconv.Itoa(summary.Actions),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("slot", slot).Msg("Failed to record digest")
	}

	s.logger.Info().
		Str("slot", slot).
		Bool("manual", manual).
		Int("listings", summary.Listings).
		Int("leads", summary.Leads).
		Int("actions", summary.Actions).
		Str("action", string(res.Action)).
		Msg("Digest sent")

	if s.sink != nil {
		s.sink.Emit(ctx, models.Event{
			Type:     models.EventDigestSent,
			Source:   "digest",
			Severity: models.SeverityInfo,
			Message:  "Digest sent",
			Fields: map[string]string{
				"slot":     slot,
				"manual":   strconv.FormatBool(manual),
				"listings": strconv.Itoa(summary.Listings),
			},
		})
	}
	return nil
}
