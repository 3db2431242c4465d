package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stats", r.URL.Path)
		_, _ = w.Write([]byte(`{"uptime":2000000000,"strategy":"beacon","tracked":true,
			"destinations":[{"name":"primary","endpoint_url":"http://c","items":3,"bytes":120,"max_count":50,"bytes_limit":16384,"flushes":7}]}`))
	}))
	defer srv.Close()

	stats, err := NewStatsClient(srv.URL+"/").Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, stats.Uptime)
	assert.Equal(t, "beacon", stats.Strategy)
	require.Len(t, stats.Destinations, 1)
	assert.Equal(t, "primary", stats.Destinations[0].Name)
	assert.Equal(t, 3, stats.Destinations[0].Items)
	assert.Equal(t, uint64(7), stats.Destinations[0].Flushes)
}

func TestStatsClientRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewStatsClient(srv.URL).Fetch(context.Background())
	assert.Error(t, err)
}

func TestFillBar(t *testing.T) {
	assert.Equal(t, "░░░░", fillBar(0, 100, 4))
	assert.Equal(t, "██░░", fillBar(50, 100, 4))
	assert.Equal(t, "████", fillBar(500, 100, 4))
	assert.Equal(t, "░░░░", fillBar(10, 0, 4))
}
