package core

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/scenefall/scenectl/internal/config"
	"github.com/scenefall/scenectl/internal/engine"
	"github.com/scenefall/scenectl/internal/protocol"
	"github.com/scenefall/scenectl/internal/protocol/frame"
	"github.com/scenefall/scenectl/internal/telemetry"
)

func testServiceConfig() config.Config {
	return config.Config{
		Listen: config.ListenConfig{Addr: "127.0.0.1:0", Name: "core-test"},
		Transport: config.TransportConfig{
			// Long heartbeat keeps the responder from degrading while the
			// scripted shim is idle between assertions.
			HeartbeatIntervalMS: 60_000,
		},
		Engine: config.EngineConfig{
			TickIntervalMS:       20,
			HardFailureTicks:     2,
			HysteresisTicks:      3,
			SwitchResultTimeoutS: 1,
		},
		Telemetry: config.TelemetryConfig{PollIntervalMS: 10},
		Scenes:    config.ScenesConfig{Nominal: "live", Failover: "backup"},
	}
}

// startService runs a core service and returns it once the listener is
// bound.
func startService(t *testing.T, src telemetry.Source) *Service {
	t.Helper()
	svc, err := NewService(testServiceConfig(), src, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return svc.ListenAddr() != ""
	}, 2*time.Second, 10*time.Millisecond)
	return svc
}

// shim is a scripted stand-in for the host-embedded client.
type shim struct {
	t    *testing.T
	conn net.Conn
}

func dialShim(t *testing.T, addr string) *shim {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	s := &shim{t: t, conn: conn}
	s.send(protocol.TypeHello, protocol.Hello{
		Major:      protocol.Version,
		Minor:      protocol.MinorVersion,
		ClientName: "shim-test",
	})
	ack := s.await(protocol.TypeHelloAck, 2*time.Second)
	var payload protocol.HelloAck
	require.NoError(t, protocol.DecodePayload(ack, &payload))
	require.True(t, payload.Accepted)
	return s
}

func (s *shim) send(msgType string, payload any) {
	s.t.Helper()
	env, err := protocol.New(msgType, payload)
	require.NoError(s.t, err)
	require.NoError(s.t, s.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(s.t, frame.Write(s.conn, env))
}

// await reads until an envelope of the wanted type arrives, skipping
// everything else (snapshots flood the normal lane every tick).
func (s *shim) await(msgType string, timeout time.Duration) protocol.Envelope {
	s.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		require.NoError(s.t, s.conn.SetReadDeadline(deadline))
		env, err := frame.Read(s.conn)
		require.NoError(s.t, err)
		if env.Type == msgType {
			return env
		}
	}
	s.t.Fatalf("no %q envelope within %v", msgType, timeout)
	return protocol.Envelope{}
}

// drain keeps the shim's receive window open in the background.
func (s *shim) drain(t *testing.T) {
	t.Helper()
	go func() {
		for {
			_ = s.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			if _, err := frame.Read(s.conn); err != nil {
				return
			}
		}
	}()
}

func TestHardFailureSwitchConfirmed(t *testing.T) {
	src := telemetry.NewStubSource(4500, true)
	svc := startService(t, src)
	sh := dialShim(t, svc.ListenAddr())

	// Reconnect-first: a fresh session always asks for a resync.
	sh.await(protocol.TypeRequestStatus, 2*time.Second)

	src.Set(0, true)
	req := sh.await(protocol.TypeSceneSwitchRequest, 3*time.Second)
	var payload protocol.SceneSwitchRequest
	require.NoError(t, protocol.DecodePayload(req, &payload))
	require.Equal(t, "backup", payload.Scene)
	require.Equal(t, engine.RuleLocalHardFailure, payload.Rule)

	sh.send(protocol.TypeSceneSwitchResult, protocol.SceneSwitchResult{
		RequestID: payload.RequestID,
		Success:   true,
		Scene:     payload.Scene,
	})
	require.Eventually(t, func() bool {
		return svc.CurrentScene() == "backup"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSwitchTimeoutReportsFailure(t *testing.T) {
	src := telemetry.NewStubSource(4500, true)
	svc := startService(t, src)
	sh := dialShim(t, svc.ListenAddr())
	sh.await(protocol.TypeRequestStatus, 2*time.Second)

	src.Set(0, true)
	sh.await(protocol.TypeSceneSwitchRequest, 3*time.Second)

	// Never answer; the pending request must fail with a reason.
	perr := sh.await(protocol.TypeProtocolError, 3*time.Second)
	var payload protocol.ProtocolError
	require.NoError(t, protocol.DecodePayload(perr, &payload))
	require.Equal(t, protocol.ErrCodeTimeout, payload.Code)
	require.Equal(t, "live", svc.CurrentScene())
}

func TestManualCommandSwitches(t *testing.T) {
	src := telemetry.NewStubSource(4500, true)
	svc := startService(t, src)
	sh := dialShim(t, svc.ListenAddr())
	sh.await(protocol.TypeRequestStatus, 2*time.Second)

	svc.SubmitManual(engine.ManualCommand{
		Scene:      "intermission",
		Requester:  "ops",
		Authorized: true,
	})
	req := sh.await(protocol.TypeSceneSwitchRequest, 2*time.Second)
	var payload protocol.SceneSwitchRequest
	require.NoError(t, protocol.DecodePayload(req, &payload))
	require.Equal(t, "intermission", payload.Scene)
	require.Equal(t, engine.RuleManual, payload.Rule)

	sh.send(protocol.TypeSceneSwitchResult, protocol.SceneSwitchResult{
		RequestID: payload.RequestID,
		Success:   true,
		Scene:     payload.Scene,
	})
	require.Eventually(t, func() bool {
		return svc.CurrentScene() == "intermission"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManualOverrideSuppressesAutomation(t *testing.T) {
	src := telemetry.NewStubSource(4500, true)
	svc := startService(t, src)
	sh := dialShim(t, svc.ListenAddr())
	sh.await(protocol.TypeRequestStatus, 2*time.Second)
	sh.drain(t)

	svc.SetManualOverride(true)
	src.Set(0, true)
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, "live", svc.CurrentScene())
}

func TestActivationReachesRemoteActive(t *testing.T) {
	src := telemetry.NewStubSource(4500, true)
	svc := startService(t, src)
	sh := dialShim(t, svc.ListenAddr())
	sh.await(protocol.TypeRequestStatus, 2*time.Second)
	sh.drain(t)

	svc.RequestRemoteActivation()
	require.Eventually(t, func() bool {
		sh.send(protocol.TypeStatusSnapshot, protocol.StatusSnapshot{
			RemoteActive:       true,
			TelemetryConnected: true,
			IngestActive:       true,
			Health:             string(engine.HealthHealthy),
		})
		return svc.Mode() == engine.ModeRemoteActive
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRequestStatusAnswered(t *testing.T) {
	src := telemetry.NewStubSource(4500, true)
	svc := startService(t, src)
	sh := dialShim(t, svc.ListenAddr())
	sh.await(protocol.TypeRequestStatus, 2*time.Second)

	sh.send(protocol.TypeRequestStatus, protocol.RequestStatus{Reason: "resync"})
	snap := sh.await(protocol.TypeStatusSnapshot, 2*time.Second)
	var payload protocol.StatusSnapshot
	require.NoError(t, protocol.DecodePayload(snap, &payload))
	require.Equal(t, "live", payload.Scene)
	require.Equal(t, string(engine.ModeLocal), payload.Mode)
}
