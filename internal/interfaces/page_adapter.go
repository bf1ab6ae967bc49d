package interfaces

import (
	"context"

	"github.com/ternarybob/portalwatch/internal/models"
)

// PageAdapter is the boundary to the embedded portal session. The core never
// inspects page structure directly; every selector lives behind this interface.
type PageAdapter interface {
	// IsReady reports whether the listing view has finished loading.
	IsReady(ctx context.Context) (bool, error)

	// ExtractItems returns the listing rows currently rendered.
	ExtractItems(ctx context.Context) ([]models.Item, error)

	// Click activates the follow-up control of the row at index.
	Click(ctx context.Context, index int) (bool, error)

	// IsSessionActive reports the login indicator. LoginUnknown is returned when
	// the page cannot tell (for example while navigating).
	IsSessionActive(ctx context.Context) (models.LoginState, error)
}
