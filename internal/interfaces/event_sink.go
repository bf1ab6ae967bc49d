package interfaces

import (
	"context"

	"github.com/ternarybob/portalwatch/internal/models"
)

// EventSink receives structured domain events from every component.
type EventSink interface {
	Emit(ctx context.Context, event models.Event)
}

// EventSubscriber is called for each emitted event.
type EventSubscriber func(event models.Event)
