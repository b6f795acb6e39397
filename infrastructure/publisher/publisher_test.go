package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	published []*nats.Msg
	fail      bool
}

func (m *mockConn) PublishMsg(msg *nats.Msg) error {
	if m.fail {
		return errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return nil
}

func TestPublishQuoteEvent(t *testing.T) {
	conn := &mockConn{}
	p := New(conn, "mm", "rfq-maker", nil)

	err := p.PublishQuoteEvent(context.Background(), "filled", map[string]interface{}{"quote_id": "q1"})
	require.NoError(t, err)
	require.Len(t, conn.published, 1)

	msg := conn.published[0]
	assert.Equal(t, "mm.quote.filled", msg.Subject)
	assert.Equal(t, "quote.filled", msg.Header.Get("event_type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, "rfq-maker", env.Service)
	assert.JSONEq(t, `{"quote_id":"q1"}`, string(env.Payload))
}

func TestPublishQuoteEventFailure(t *testing.T) {
	p := New(&mockConn{fail: true}, "", "svc", nil)
	assert.Equal(t, "rfq.quote.cancelled", p.Subject("cancelled"))
	assert.Error(t, p.PublishQuoteEvent(context.Background(), "cancelled", struct{}{}))
}

func TestPublishQuoteEventCancelledContext(t *testing.T) {
	conn := &mockConn{}
	p := New(conn, "rfq", "svc", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishQuoteEvent(ctx, "failed", nil), context.Canceled)
	assert.Empty(t, conn.published)
}

func TestCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, New(&mockConn{}, "rfq", "svc", nil).Close())
}
