package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
)

// MockNotifier is a mock implementation of interfaces.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, text string, metadata map[string]string) error {
	args := m.Called(ctx, text, metadata)
	return args.Error(0)
}

func TestDedup_TTL(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	dedup := NewDedup(10*time.Minute, clock)

	assert.True(t, dedup.ShouldSend("offline"))
	clock.Advance(5 * time.Minute)
	assert.False(t, dedup.ShouldSend("offline"))
	assert.True(t, dedup.ShouldSend("other"))

	clock.Advance(5 * time.Minute)
	assert.True(t, dedup.ShouldSend("offline"))
}

func TestDedup_Prune(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	dedup := NewDedup(time.Minute, clock)

	dedup.ShouldSend("a")
	clock.Advance(30 * time.Second)
	dedup.ShouldSend("b")
	clock.Advance(40 * time.Second)

	assert.Equal(t, 1, dedup.Prune())
	assert.Equal(t, 1, dedup.Len())
}

func TestDedupNotifier_SuppressesWithinTTL(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	inner := new(MockNotifier)
	inner.On("Send", mock.Anything, "Portal offline", mock.Anything).Return(nil)

	n := NewDedupNotifier(inner, NewDedup(time.Hour, clock), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, n.Send(ctx, "Portal offline", nil))
	require.NoError(t, n.Send(ctx, "Portal offline", nil))
	inner.AssertNumberOfCalls(t, "Send", 1)

	clock.Advance(time.Hour)
	require.NoError(t, n.Send(ctx, "Portal offline", nil))
	inner.AssertNumberOfCalls(t, "Send", 2)
}

func TestDedupNotifier_ExplicitSignature(t *testing.T) {
	inner := new(MockNotifier)
	inner.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	n := NewDedupNotifier(inner, NewDedup(time.Hour, nil), arbor.NewLogger())
	ctx := context.Background()

	// Different text, same signature: suppressed
	require.NoError(t, n.Send(ctx, "3 new listings", map[string]string{interfaces.MetaSignature: "listing:1"}))
	require.NoError(t, n.Send(ctx, "4 new listings", map[string]string{interfaces.MetaSignature: "listing:1"}))
	inner.AssertNumberOfCalls(t, "Send", 1)
}

func TestDedupNotifier_FailureReleasesSignature(t *testing.T) {
	inner := new(MockNotifier)
	inner.On("Send", mock.Anything, "x", mock.Anything).Return(errors.New("down")).Once()
	inner.On("Send", mock.Anything, "x", mock.Anything).Return(nil).Once()

	n := NewDedupNotifier(inner, NewDedup(time.Hour, nil), arbor.NewLogger())

	assert.Error(t, n.Send(context.Background(), "x", nil))
	assert.NoError(t, n.Send(context.Background(), "x", nil))
	inner.AssertExpectations(t)
}

func TestWebhookNotifier_Send(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 600, 5*time.Second, arbor.NewLogger())
	require.NoError(t, n.Send(context.Background(), "hello", map[string]string{"kind": "digest"}))

	assert.Equal(t, "hello", received.Text)
	assert.Equal(t, "digest", received.Metadata["kind"])
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 600, 5*time.Second, arbor.NewLogger())
	assert.Error(t, n.Send(context.Background(), "hello", nil))
}
