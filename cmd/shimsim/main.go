// shimsim is a stand-in for the host-embedded shim: it dials a running
// scenectl core, handshakes, heartbeats, reports remote signals, and
// answers scene switch requests. Used for end-to-end protocol exercise
// without the real host.
package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/scenefall/scenectl/internal/logging"
	"github.com/scenefall/scenectl/internal/observability"
	"github.com/scenefall/scenectl/internal/protocol"
	"github.com/scenefall/scenectl/internal/protocol/lanes"
	"github.com/scenefall/scenectl/internal/transport"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7230", "scenectl core address")
	name := flag.String("name", "shimsim", "client name sent in the handshake")
	scene := flag.String("scene", "live", "scene the simulated host starts on")
	failSwitches := flag.Bool("fail", false, "reject every scene switch request")
	remoteActive := flag.Bool("remote-active", false, "report the remote session as active")
	telemetryUp := flag.Bool("telemetry", false, "report remote telemetry as connected")
	ingestUp := flag.Bool("ingest", false, "report remote ingest as active")
	health := flag.String("health", "healthy", "reported remote health: healthy|failover|unknown")
	snapshotMS := flag.Int("snapshot-ms", 1000, "remote signal report interval")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := observability.InitLogger("shimsim", logging.ResolveNoColor(false))

	out := lanes.New()
	sess, err := transport.NewSession(transport.Options{
		Role:       transport.RoleInitiator,
		Dialer:     transport.NetDialer{Address: *addr, Config: transport.DefaultConfig()},
		Config:     transport.DefaultConfig(),
		Lanes:      out,
		Logger:     logger,
		ClientName: *name,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("session init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mu sync.Mutex
	currentScene := *scene

	sess.Handle(protocol.TypeSceneSwitchRequest, func(env protocol.Envelope) {
		var req protocol.SceneSwitchRequest
		if err := protocol.DecodePayload(env, &req); err != nil {
			logger.Warn().Err(err).Msg("bad switch request")
			return
		}
		result := protocol.SceneSwitchResult{
			RequestID: req.RequestID,
			Success:   !*failSwitches,
			Scene:     req.Scene,
		}
		if *failSwitches {
			result.Reason = "switch rejected by simulator"
		} else {
			mu.Lock()
			currentScene = req.Scene
			mu.Unlock()
		}
		logger.Info().
			Str("request_id", req.RequestID).
			Str("scene", req.Scene).
			Str("rule", req.Rule).
			Bool("success", result.Success).
			Msg("switch request handled")
		if env, err := protocol.New(protocol.TypeSceneSwitchResult, result); err == nil {
			sess.Send(env)
		}
	})
	sess.Handle(protocol.TypeUserNotice, func(env protocol.Envelope) {
		var notice protocol.UserNotice
		if err := protocol.DecodePayload(env, &notice); err != nil {
			return
		}
		logger.Info().Str("severity", notice.Severity).Msg(notice.Message)
	})
	sess.Handle(protocol.TypeStatusSnapshot, func(env protocol.Envelope) {
		var snap protocol.StatusSnapshot
		if err := protocol.DecodePayload(env, &snap); err != nil {
			return
		}
		logger.Debug().Str("mode", snap.Mode).Str("scene", snap.Scene).Msg("core status")
	})
	sess.Handle(protocol.TypeShutdownRequest, func(env protocol.Envelope) {
		logger.Info().Msg("core requested shutdown")
		stop()
	})
	sess.Handle(protocol.TypeRequestStatus, func(protocol.Envelope) {
		sendSnapshot(sess, &mu, &currentScene, *remoteActive, *telemetryUp, *ingestUp, *health)
	})
	sess.Handle(protocol.TypeProtocolError, func(env protocol.Envelope) {
		var perr protocol.ProtocolError
		if err := protocol.DecodePayload(env, &perr); err != nil {
			return
		}
		logger.Warn().Str("code", perr.Code).Str("message", perr.Message).Msg("peer protocol error")
	})

	go func() {
		ticker := time.NewTicker(time.Duration(*snapshotMS) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if sess.State() == transport.StateActive {
					sendSnapshot(sess, &mu, &currentScene, *remoteActive, *telemetryUp, *ingestUp, *health)
				}
			}
		}
	}()

	if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("session exited")
	}
}

func sendSnapshot(sess *transport.Session, mu *sync.Mutex, scene *string, remoteActive, telemetryUp, ingestUp bool, health string) {
	mu.Lock()
	current := *scene
	mu.Unlock()
	env, err := protocol.New(protocol.TypeStatusSnapshot, protocol.StatusSnapshot{
		Scene:              current,
		RemoteActive:       remoteActive,
		TelemetryConnected: telemetryUp,
		IngestActive:       ingestUp,
		Health:             health,
	})
	if err != nil {
		return
	}
	sess.Send(env)
}
