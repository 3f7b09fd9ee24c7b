package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPollerRequiresSourceAndInterval(t *testing.T) {
	_, err := NewPoller(nil, time.Second, zerolog.Nop())
	require.ErrorIs(t, err, ErrSourceRequired)

	_, err = NewPoller(NewStubSource(0, false), 0, zerolog.Nop())
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestPollerSeedsImmediately(t *testing.T) {
	src := NewStubSource(4500, true)
	p, err := NewPoller(src, time.Hour, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, ok := p.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	sample, ok := p.Latest()
	require.True(t, ok)
	require.Equal(t, 4500.0, sample.ThroughputKbps)
	require.True(t, sample.Connected)
	require.False(t, sample.At.IsZero())

	cancel()
	<-done
}

func TestPollerTracksSourceChanges(t *testing.T) {
	src := NewStubSource(4500, true)
	p, err := NewPoller(src, 5*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	src.Set(0, true)
	require.Eventually(t, func() bool {
		sample, ok := p.Latest()
		return ok && sample.ThroughputKbps == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPollerMarksDisconnectedOnError(t *testing.T) {
	src := NewStubSource(4500, true)
	p, err := NewPoller(src, 5*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := p.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	src.Fail(errors.New("probe refused"))
	require.Eventually(t, func() bool {
		sample, _ := p.Latest()
		return !sample.Connected
	}, time.Second, 5*time.Millisecond)

	src.Set(3000, true)
	require.Eventually(t, func() bool {
		sample, _ := p.Latest()
		return sample.Connected && sample.ThroughputKbps == 3000
	}, time.Second, 5*time.Millisecond)
}

func TestSourceFunc(t *testing.T) {
	src := SourceFunc(func(ctx context.Context) (Sample, error) {
		return Sample{ThroughputKbps: 1, Connected: true}, nil
	})
	sample, err := src.Sample(context.Background())
	require.NoError(t, err)
	require.True(t, sample.Connected)
}
