package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	adapter "github.com/webitel/telemetry-pipeline/internal/adapter/pubsub"
)

const topic = "telemetry.outbox.test"

var discard = slog.New(slog.DiscardHandler)

type hit struct {
	body        string
	contentType string
}

func collector(t *testing.T, status int) (*httptest.Server, func() []hit) {
	t.Helper()
	var (
		mu   sync.Mutex
		hits []hit
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		hits = append(hits, hit{body: string(b), contentType: r.Header.Get("Content-Type")})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []hit {
		mu.Lock()
		defer mu.Unlock()
		out := make([]hit, len(hits))
		copy(out, hits)
		return out
	}
}

func runRelay(t *testing.T) *adapter.Outbox {
	t.Helper()
	wl := watermill.NewSlogLogger(discard)
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, wl)

	router, err := NewWatermillRouter(wl)
	require.NoError(t, err)
	NewRelay(nil, time.Second, discard).Register(router, ch, topic)

	go func() { _ = router.Run(context.Background()) }()
	<-router.Running()
	t.Cleanup(func() {
		_ = router.Close()
		_ = ch.Close()
	})
	return adapter.NewOutbox(ch, topic, discard)
}

func TestRelayPostsBeaconOnce(t *testing.T) {
	srv, hits := collector(t, http.StatusAccepted)
	outbox := runRelay(t)

	require.True(t, outbox.SendBeacon(context.Background(), srv.URL, []byte("{\"a\":1}\n{\"b\":2}")))

	require.Eventually(t, func() bool { return len(hits()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}", hits()[0].body)
	assert.Empty(t, hits()[0].contentType)
}

func TestRelayDoesNotRetryFailedDelivery(t *testing.T) {
	srv, hits := collector(t, http.StatusInternalServerError)
	outbox := runRelay(t)

	require.True(t, outbox.SendBeacon(context.Background(), srv.URL, []byte(`{}`)))

	require.Eventually(t, func() bool { return len(hits()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, hits(), 1)
}

func TestOutboxRefusesOversizedBody(t *testing.T) {
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ch.Close()

	outbox := adapter.NewOutbox(ch, topic, discard, adapter.WithMaxPayload(4))
	assert.False(t, outbox.SendBeacon(context.Background(), "http://collector", []byte("12345")))
	assert.True(t, outbox.SendBeacon(context.Background(), "http://collector", []byte("1234")))
}

func TestOutboxRefusesWhenPublisherClosed(t *testing.T) {
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	require.NoError(t, ch.Close())

	outbox := adapter.NewOutbox(ch, topic, discard)
	assert.False(t, outbox.SendBeacon(context.Background(), "http://collector", []byte("x")))
}

func TestBindAcksEveryOutcome(t *testing.T) {
	h := NewRelay(nil, 0, discard)

	var calls atomic.Int32
	tests := []struct {
		name string
		meta string
		fn   DeliverFunc
	}{
		{"missing endpoint", "", func(context.Context, string, []byte) error {
			calls.Add(1)
			return nil
		}},
		{"delivery error", "http://collector", func(context.Context, string, []byte) error {
			calls.Add(1)
			return errors.New("down")
		}},
		{"panic", "http://collector", func(context.Context, string, []byte) error {
			calls.Add(1)
			panic("boom")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := message.NewMessage(watermill.NewUUID(), []byte("x"))
			if tt.meta != "" {
				msg.Metadata.Set(adapter.MetadataEndpointURL, tt.meta)
			}
			assert.NoError(t, Bind(h, tt.fn)(msg))
		})
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestTraceIDMiddlewareKeepsIncomingID(t *testing.T) {
	var seen string
	h := TraceIDMiddleware(func(msg *message.Message) ([]*message.Message, error) {
		seen = TraceIDFromContext(msg.Context())
		return nil, nil
	})

	msg := message.NewMessage(watermill.NewUUID(), nil)
	msg.Metadata.Set(adapter.MetadataTraceID, "abc")
	_, _ = h(msg)
	assert.Equal(t, "abc", seen)

	fresh := message.NewMessage(watermill.NewUUID(), nil)
	_, _ = h(fresh)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, fresh.Metadata.Get(adapter.MetadataTraceID))
}
