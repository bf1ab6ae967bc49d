package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
)

// Service is the application event sink: every event is logged through arbor
// and fanned out to subscribers (the WebSocket stream)
type Service struct {
	subscribers map[string]interfaces.EventSubscriber
	mu          sync.RWMutex
	logger      arbor.ILogger
	clock       common.Clock
}

// NewService creates a new event service
func NewService(logger arbor.ILogger, clock common.Clock) *Service {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Service{
		subscribers: make(map[string]interfaces.EventSubscriber),
		logger:      logger,
		clock:       clock,
	}
}

// Subscribe registers fn and returns an id for Unsubscribe
func (s *Service) Subscribe(fn interfaces.EventSubscriber) string {
	id := uuid.New().String()

	s.mu.Lock()
	s.subscribers[id] = fn
	count := len(s.subscribers)
	s.mu.Unlock()

	s.logger.Debug().Str("subscriber_id", id).Int("subscriber_count", count).Msg("Event subscriber added")
	return id
}

// Unsubscribe removes a subscriber
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
}

// Emit stamps, logs and fans out the event. Subscribers are called
// synchronously; a panicking subscriber is recovered and logged.
func (s *Service) Emit(ctx context.Context, event models.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}

	s.log(event)

	s.mu.RLock()
	subscribers := make([]interfaces.EventSubscriber, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subscribers {
		s.deliver(fn, event)
	}
}

func (s *Service) deliver(fn interfaces.EventSubscriber, event models.Event) {
	defer common.Recover(s.logger, "event-subscriber")
	fn(event)
}

func (s *Service) log(event models.Event) {
	var logEvent arbor.ILogEvent
	switch event.Severity {
	case models.SeverityDebug:
		logEvent = s.logger.Debug()
	case models.SeverityWarn:
		logEvent = s.logger.Warn()
	case models.SeverityError:
		logEvent = s.logger.Error()
	default:
		logEvent = s.logger.Info()
	}

	logEvent = logEvent.Str("event_type", event.Type).Str("source", event.Source)
	for k, v := range event.Fields {
		logEvent = logEvent.Str(k, v)
	}
	logEvent.Msg(event.Message)
}

// Close drops all subscribers
func (s *Service) Close() error {
	s.mu.Lock()
	s.subscribers = make(map[string]interfaces.EventSubscriber)
	s.mu.Unlock()
	return nil
}

var _ interfaces.EventSink = (*Service)(nil)

// Discard is an EventSink that drops everything
type Discard struct{}

// Emit does nothing
func (Discard) Emit(context.Context, models.Event) {}
