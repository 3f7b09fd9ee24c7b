package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrStatsURLRequired = errors.New("telemetry: stats url required")

// statsPayload is the JSON shape the host's stats endpoint exposes.
type statsPayload struct {
	ThroughputKbps float64 `json:"throughput_kbps"`
	Connected      bool    `json:"connected"`
}

// HTTPSource polls an HTTP stats endpoint on the host. It is the
// production source; tests and the simulator use StubSource.
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string) (*HTTPSource, error) {
	if url == "" {
		return nil, ErrStatsURLRequired
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: 2 * time.Second},
	}, nil
}

func (s *HTTPSource) Sample(ctx context.Context) (Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Sample{}, fmt.Errorf("telemetry: build stats request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("telemetry: stats request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("telemetry: stats endpoint returned %d", resp.StatusCode)
	}
	var payload statsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Sample{}, fmt.Errorf("telemetry: decode stats: %w", err)
	}
	return Sample{
		At:             time.Now(),
		ThroughputKbps: payload.ThroughputKbps,
		Connected:      payload.Connected,
	}, nil
}
