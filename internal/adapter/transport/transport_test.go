package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/telemetry-pipeline/internal/domain/batch"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var discard = slog.New(slog.DiscardHandler)

type captured struct {
	method      string
	contentType string
	body        string
}

func collector(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{r.Method, r.Header.Get("Content-Type"), string(body)})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		out := make([]captured, len(reqs))
		copy(out, reqs)
		return out
	}
}

// fakeBeacon records beacon calls and accepts or refuses them.
type fakeBeacon struct {
	accept bool
	mu     sync.Mutex
	bodies []string
}

func (b *fakeBeacon) SendBeacon(_ context.Context, endpointURL string, body []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bodies = append(b.bodies, endpointURL+" "+string(body))
	return b.accept
}

// fakeStrategy records Send calls synchronously.
type fakeStrategy struct {
	mu    sync.Mutex
	sends []string
}

func (s *fakeStrategy) Name() string       { return "fake" }
func (s *fakeStrategy) TeardownSafe() bool { return false }
func (s *fakeStrategy) Send(_ context.Context, endpointURL string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, endpointURL+" "+string(body))
}

func TestSerializeJoinsRecordsWithNewline(t *testing.T) {
	body, err := Serialize([]string{`{"a":1}`, `{"b":2}`})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}", string(body))
}

func TestJoinMatchesPayloadSize(t *testing.T) {
	for _, items := range [][]string{
		{"only"},
		{"é", "", `{"a":1}`},
		{"", ""},
	} {
		body := join(items)
		assert.Equal(t, strings.Join(items, Separator), string(body))
		assert.Equal(t, batch.PayloadSize(items), len(body))
		assert.Equal(t, len(body), cap(body))
	}
	assert.Empty(t, join(nil))
}

func TestSerializeEncodesSingleValue(t *testing.T) {
	body, err := Serialize(map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"hi"}`, string(body))
}

func TestRequestStrategyPostsWithoutContentType(t *testing.T) {
	srv, requests := collector(t, http.StatusAccepted)
	s := NewRequestStrategy(discard)

	s.Send(context.Background(), srv.URL, []byte("a\nb"))
	require.NoError(t, s.(Drainer).Drain(context.Background()))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPost, got[0].method)
	assert.Empty(t, got[0].contentType)
	assert.Equal(t, "a\nb", got[0].body)
}

func TestRequestStrategySurvivesCancelledProducerContext(t *testing.T) {
	srv, requests := collector(t, http.StatusOK)
	s := NewRequestStrategy(discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Send(ctx, srv.URL, []byte("x"))
	require.NoError(t, s.(Drainer).Drain(context.Background()))

	assert.Len(t, requests(), 1)
}

func TestRequestStrategyBreakerOpensAfterFailures(t *testing.T) {
	srv, requests := collector(t, http.StatusInternalServerError)
	s := NewRequestStrategy(discard, WithBreakerThreshold(2))
	drainer := s.(Drainer)

	for i := 0; i < 5; i++ {
		s.Send(context.Background(), srv.URL, []byte("x"))
		require.NoError(t, drainer.Drain(context.Background()))
	}

	assert.Len(t, requests(), 2)
}

func TestRequestStrategyDrainHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := NewRequestStrategy(discard)
	s.Send(context.Background(), srv.URL, []byte("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, s.(Drainer).Drain(ctx))
}

func TestBeaconStrategyUsesBeacon(t *testing.T) {
	beacon := &fakeBeacon{accept: true}
	fallback := &fakeStrategy{}
	s := NewBeaconStrategy(beacon, fallback, discard)

	s.Send(context.Background(), "http://collector/v1", []byte("payload"))

	assert.True(t, s.TeardownSafe())
	assert.Equal(t, []string{"http://collector/v1 payload"}, beacon.bodies)
	assert.Empty(t, fallback.sends)
}

func TestBeaconStrategyFallsBackWhenRefused(t *testing.T) {
	beacon := &fakeBeacon{accept: false}
	fallback := &fakeStrategy{}
	s := NewBeaconStrategy(beacon, fallback, discard)

	s.Send(context.Background(), "http://collector/v1", []byte("payload"))

	assert.Len(t, beacon.bodies, 1)
	assert.Equal(t, []string{"http://collector/v1 payload"}, fallback.sends)
}

func TestDetectPrefersBeacon(t *testing.T) {
	fallback := NewRequestStrategy(discard)

	assert.Equal(t, StrategyBeacon, Detect(&fakeBeacon{}, fallback, discard).Name())
	assert.Equal(t, StrategyRequest, Detect(nil, fallback, discard).Name())
	assert.False(t, Detect(nil, fallback, discard).TeardownSafe())
}

func TestRequestSendJoinsOnceAndSkipsEmpty(t *testing.T) {
	strategy := &fakeStrategy{}
	r := NewRequest("primary", "http://collector/rum", strategy, discard)

	r.Send(nil)
	r.Send([]string{"1", "2", "3"})
	require.NoError(t, r.SendValue(map[string]int{"n": 1}))

	assert.Equal(t, []string{
		"http://collector/rum 1\n2\n3",
		`http://collector/rum {"n":1}`,
	}, strategy.sends)
}

func TestRequestSendRecordsFlushSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var sent atomic.Int32
	strategy := &countingStrategy{n: &sent}
	NewRequest("replica", "http://collector/rum", strategy, discard).Send([]string{"a", "b"})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "batch.flush", spans[0].Name())
	assert.Equal(t, int32(1), sent.Load())
}

type countingStrategy struct{ n *atomic.Int32 }

func (s *countingStrategy) Name() string                         { return "counting" }
func (s *countingStrategy) TeardownSafe() bool                   { return false }
func (s *countingStrategy) Send(context.Context, string, []byte) { s.n.Add(1) }
