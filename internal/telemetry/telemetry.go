// Package telemetry samples the local encoder's health signals on a
// fixed cadence and keeps the most recent sample available to the
// decision loop.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrSourceRequired  = errors.New("telemetry: source required")
	ErrInvalidInterval = errors.New("telemetry: invalid poll interval")
)

// Sample is one point-in-time reading of the local output.
type Sample struct {
	At             time.Time
	ThroughputKbps float64
	Connected      bool
}

// Source produces samples. Implementations wrap whatever the host
// exposes; tests use StubSource.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context) (Sample, error)

func (f SourceFunc) Sample(ctx context.Context) (Sample, error) {
	return f(ctx)
}

// Poller reads the source on a fixed interval and retains the latest
// sample. A sample error marks the reading disconnected until the
// next success.
type Poller struct {
	src      Source
	interval time.Duration
	log      zerolog.Logger

	mu     sync.RWMutex
	latest Sample
	seeded bool
}

func NewPoller(src Source, interval time.Duration, logger zerolog.Logger) (*Poller, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Poller{
		src:      src,
		interval: interval,
		log:      logger.With().Str("component", "telemetry").Logger(),
	}, nil
}

// Run polls until ctx is canceled. The first sample is taken
// immediately so the decision loop never starts blind.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	sampleCtx, cancel := context.WithTimeout(ctx, p.interval)
	sample, err := p.src.Sample(sampleCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn().Err(err).Msg("telemetry sample failed")
		p.mu.Lock()
		p.latest.Connected = false
		p.mu.Unlock()
		return
	}
	if sample.At.IsZero() {
		sample.At = time.Now()
	}
	p.mu.Lock()
	p.latest = sample
	p.seeded = true
	p.mu.Unlock()
}

// Latest returns the most recent sample. ok is false until the first
// successful poll.
func (p *Poller) Latest() (Sample, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.seeded
}

// StubSource is a settable source for tests and the shim simulator.
type StubSource struct {
	mu     sync.Mutex
	sample Sample
	err    error
}

func NewStubSource(throughputKbps float64, connected bool) *StubSource {
	return &StubSource{sample: Sample{ThroughputKbps: throughputKbps, Connected: connected}}
}

func (s *StubSource) Set(throughputKbps float64, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = Sample{ThroughputKbps: throughputKbps, Connected: connected}
	s.err = nil
}

func (s *StubSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StubSource) Sample(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Sample{}, s.err
	}
	out := s.sample
	if out.At.IsZero() {
		out.At = time.Now()
	}
	return out, nil
}
