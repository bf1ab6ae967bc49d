package interfaces

import "context"

// Notifier is the outbound notification channel (chat bot, webhook).
type Notifier interface {
	Send(ctx context.Context, text string, metadata map[string]string) error
}

// MetaSignature is the metadata key used to deduplicate outbound messages.
// When absent the message text itself is the signature.
const MetaSignature = "signature"
