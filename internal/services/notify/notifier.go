package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/interfaces"
)

// DedupNotifier forwards to inner only when the message signature passes the Dedup gate
type DedupNotifier struct {
	inner  interfaces.Notifier
	dedup  *Dedup
	logger arbor.ILogger
}

// NewDedupNotifier wraps inner with dedup
func NewDedupNotifier(inner interfaces.Notifier, dedup *Dedup, logger arbor.ILogger) *DedupNotifier {
	return &DedupNotifier{inner: inner, dedup: dedup, logger: logger}
}

// Signature returns the dedup signature for a message
func Signature(text string, metadata map[string]string) string {
	if sig := metadata[interfaces.MetaSignature]; sig != "" {
		return sig
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Send delivers the message unless an identical signature was sent within the TTL.
// A failed delivery releases the signature so the next attempt is not suppressed.
func (n *DedupNotifier) Send(ctx context.Context, text string, metadata map[string]string) error {
	sig := Signature(text, metadata)
	if !n.dedup.ShouldSend(sig) {
		n.logger.Debug().Str("signature", sig).Msg("Notification suppressed (duplicate within TTL)")
		return nil
	}

	if err := n.inner.Send(ctx, text, metadata); err != nil {
		n.dedup.Forget(sig)
		return err
	}
	return nil
}

// LogNotifier writes notifications to the log; used when no webhook is configured
type LogNotifier struct {
	logger arbor.ILogger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger arbor.ILogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the message
func (n *LogNotifier) Send(ctx context.Context, text string, metadata map[string]string) error {
	event := n.logger.Info()
	for k, v := range metadata {
		event = event.Str(k, v)
	}
	event.Msg("Notification: " + text)
	return nil
}

var (
	_ interfaces.Notifier = (*DedupNotifier)(nil)
	_ interfaces.Notifier = (*LogNotifier)(nil)
)
