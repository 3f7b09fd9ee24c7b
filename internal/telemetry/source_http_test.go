package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPSourceSamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"throughput_kbps": 5200.5, "connected": true, "extra": 1}`))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL)
	require.NoError(t, err)

	sample, err := src.Sample(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5200.5, sample.ThroughputKbps)
	require.True(t, sample.Connected)
	require.False(t, sample.At.IsZero())
}

func TestHTTPSourceRejectsBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte("not json"))
		}
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL + "/down")
	require.NoError(t, err)
	_, err = src.Sample(context.Background())
	require.Error(t, err)

	src, err = NewHTTPSource(srv.URL + "/garbage")
	require.NoError(t, err)
	_, err = src.Sample(context.Background())
	require.Error(t, err)
}

func TestHTTPSourceRequiresURL(t *testing.T) {
	_, err := NewHTTPSource("")
	require.ErrorIs(t, err, ErrStatsURLRequired)
}
