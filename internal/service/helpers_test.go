package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"github.com/webitel/telemetry-pipeline/internal/adapter/transport"
	"github.com/webitel/telemetry-pipeline/internal/domain/batch"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

var discard = slog.New(slog.DiscardHandler)

type sent struct {
	url  string
	body string
}

// captureStrategy records every body handed to the transport.
type captureStrategy struct {
	teardownSafe bool

	mu    sync.Mutex
	calls []sent
}

func (s *captureStrategy) Name() string       { return "capture" }
func (s *captureStrategy) TeardownSafe() bool { return s.teardownSafe }

func (s *captureStrategy) Send(_ context.Context, endpointURL string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sent{url: endpointURL, body: string(body)})
}

func (s *captureStrategy) Calls() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sent, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns the bodies sent to one endpoint.
func (s *captureStrategy) CallsTo(endpointURL string) []string {
	var out []string
	for _, c := range s.Calls() {
		if c.url == endpointURL {
			out = append(out, c.body)
		}
	}
	return out
}

func marshalJSON(ctx model.Context) (string, error) {
	b, err := json.Marshal(ctx)
	return string(b), err
}

func testDestination(name string, strategy transport.Strategy, overrides model.Context, opts ...batch.Option) *Destination {
	url := "https://collector.test/" + name
	req := transport.NewRequest(name, url, strategy, discard)
	return &Destination{
		Name:        name,
		EndpointURL: url,
		Buffer:      batch.NewBuffer(req, append([]batch.Option{batch.WithName(name)}, opts...)...),
		Request:     req,
		Overrides:   overrides,
	}
}

func decodeRecords(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(body, transport.Separator) {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}
