package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scenefall/scenectl/internal/config"
	"github.com/scenefall/scenectl/internal/engine"
	"github.com/scenefall/scenectl/internal/observability"
	"github.com/scenefall/scenectl/internal/protocol"
	"github.com/scenefall/scenectl/internal/protocol/lanes"
	"github.com/scenefall/scenectl/internal/telemetry"
	"github.com/scenefall/scenectl/internal/transport"
)

var ErrTelemetrySourceRequired = errors.New("core: telemetry source required")

// remoteSignals is the latest shim-reported remote/cloud state, fed by
// inbound status_snapshot envelopes.
type remoteSignals struct {
	sessionActive      bool
	telemetryConnected bool
	ingestActive       bool
	health             engine.Health
	lastSnapshotAt     time.Time
}

// oneShot flags are consumed by exactly one tick.
type oneShot struct {
	activationRequested   bool
	activationDenied      bool
	activationCanceled    bool
	deactivationRequested bool
	deactivationAcked     bool
	fatalFault            string
	manual                *engine.ManualCommand
}

// Service runs the core daemon lifecycle: one responder session, one
// engine tick loop, one telemetry poller.
type Service struct {
	cfg    config.Config
	log    zerolog.Logger
	lanes  *lanes.Lanes
	engine *engine.Engine
	poller *telemetry.Poller
	sess   *transport.Session

	pending       *engine.PendingSwitches
	resultTimeout time.Duration

	mu             sync.Mutex
	remote         remoteSignals
	shots          oneShot
	manualOverride bool
	currentScene   string
	snapshot       protocol.StatusSnapshot
	mode           engine.Mode
	listenAddr     string
	startedAt      time.Time
}

func NewService(cfg config.Config, src telemetry.Source, logger zerolog.Logger) (*Service, error) {
	if src == nil {
		return nil, ErrTelemetrySourceRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.With().Str("component", "core").Logger()

	laneOpts := []lanes.Option{
		lanes.WithDropHandler(func(d lanes.Dropped) {
			log.Debug().Str("lane", string(d.Lane)).Str("type", d.Env.Type).Msg("lane overflow drop")
			observability.RecordLaneDrop(string(d.Lane))
		}),
		lanes.WithSaturationHandler(func(pri protocol.Priority, depth int) {
			log.Warn().Str("lane", string(pri)).Int("depth", depth).Msg("priority lane saturated")
		}),
	}
	if cfg.Lanes.Capacity > 0 {
		laneOpts = append(laneOpts, lanes.WithCapacity(cfg.Lanes.Capacity))
	}
	out := lanes.New(laneOpts...)

	poller, err := telemetry.NewPoller(src, cfg.TelemetryPollInterval(), logger)
	if err != nil {
		return nil, err
	}

	eng := engine.New(cfg.ToEngine(), logger)

	s := &Service{
		cfg:           cfg,
		log:           log,
		lanes:         out,
		engine:        eng,
		poller:        poller,
		pending:       engine.NewPendingSwitches(),
		resultTimeout: cfg.SwitchResultTimeout(),
		currentScene:  cfg.Scenes.Nominal,
	}
	s.mode = engine.ModeLocal
	s.startedAt = time.Now()
	s.snapshot = s.buildSnapshot(s.startedAt)
	return s, nil
}

// StatusSnapshot is the state report as of the last completed tick.
func (s *Service) StatusSnapshot() protocol.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Mode is the engine mode as of the last completed tick.
func (s *Service) Mode() engine.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ListenAddr is the bound listener address, empty before Run.
func (s *Service) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

// Session returns the transport session, nil before Run.
func (s *Service) Session() *transport.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Run blocks until ctx is canceled or a fatal subsystem error.
func (s *Service) Run(ctx context.Context) error {
	ln, err := transport.Listen("tcp", s.cfg.Listen.Addr, s.cfg.ToTransport())
	if err != nil {
		return fmt.Errorf("core: listen: %w", err)
	}
	defer func() { _ = ln.Close() }()
	s.mu.Lock()
	s.listenAddr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening for shim")

	sess, err := transport.NewSession(transport.Options{
		Role:       transport.RoleResponder,
		Dialer:     transport.ListenerDialer{Listener: ln},
		Config:     s.cfg.ToTransport(),
		Lanes:      s.lanes,
		Logger:     s.log,
		ClientName: s.cfg.Listen.Name,
	})
	if err != nil {
		return err
	}
	s.registerHandlers(sess)
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionErr := make(chan error, 1)
	pollerErr := make(chan error, 1)
	opsErr := make(chan error, 1)
	go func() { sessionErr <- sess.Run(runCtx) }()
	go func() { pollerErr <- s.poller.Run(runCtx) }()
	go s.consumeEvents(runCtx, sess)
	if addr := strings.TrimSpace(s.cfg.Ops.Addr); addr != "" {
		go func() { opsErr <- s.serveOps(runCtx, addr) }()
	}

	ticker := time.NewTicker(s.cfg.ToEngine().TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("shutdown requested")
			return nil
		case err := <-sessionErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("core: session: %w", err)
			}
			return nil
		case err := <-pollerErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("core: telemetry: %w", err)
			}
			return nil
		case err := <-opsErr:
			if err != nil {
				return fmt.Errorf("core: ops surface: %w", err)
			}
			return nil
		case <-ticker.C:
			s.tick(sess, time.Now())
		}
	}
}

// tick runs one engine evaluation and acts on its decision.
func (s *Service) tick(sess *transport.Session, now time.Time) {
	sig := s.collectSignals(sess, now)
	dec := s.engine.Tick(sig)

	if dec.Command != nil {
		s.issueSwitch(sess, *dec.Command, now)
	}
	for _, expired := range s.pending.Expired(now) {
		s.log.Error().
			Str("request_id", expired.RequestID).
			Str("scene", expired.Scene).
			Str("rule", expired.Rule).
			Msg("switch request timed out")
		s.notify(sess, protocol.SeverityError,
			fmt.Sprintf("scene switch to %q did not confirm in time", expired.Scene))
		s.sendProtocolError(sess, protocol.ErrCodeTimeout,
			fmt.Sprintf("no result for switch request %s", expired.RequestID))
	}

	// Refresh and broadcast the coalescible state report.
	snap := s.buildSnapshot(now)
	s.mu.Lock()
	s.snapshot = snap
	s.mode = s.engine.Mode()
	s.mu.Unlock()
	if env, err := protocol.New(protocol.TypeStatusSnapshot, snap); err == nil {
		s.lanes.Enqueue(env)
	}

	depths := s.lanes.Len()
	for i, pri := range []protocol.Priority{
		protocol.PriorityCritical, protocol.PriorityHigh,
		protocol.PriorityNormal, protocol.PriorityLow,
	} {
		observability.RecordLaneDepth(string(pri), depths[i])
	}
}

// collectSignals snapshots every engine input and clears the one-shot
// flags it consumed.
func (s *Service) collectSignals(sess *transport.Session, now time.Time) engine.SignalSet {
	sample, _ := s.poller.Latest()

	s.mu.Lock()
	remote := s.remote
	shots := s.shots
	s.shots = oneShot{}
	override := s.manualOverride
	s.mu.Unlock()

	tickInterval := s.cfg.ToEngine().TickInterval
	probeOK := sess.State() == transport.StateActive &&
		!remote.lastSnapshotAt.IsZero() &&
		now.Sub(remote.lastSnapshotAt) <= 2*tickInterval

	return engine.SignalSet{
		Now:                   now,
		LocalThroughputKbps:   sample.ThroughputKbps,
		LocalConnected:        sample.Connected,
		RemoteSessionActive:   remote.sessionActive,
		TelemetryConnected:    remote.telemetryConnected,
		IngestActive:          remote.ingestActive,
		RemoteHealth:          remote.health,
		SessionState:          sess.State(),
		ActivationRequested:   shots.activationRequested,
		ActivationDenied:      shots.activationDenied,
		ActivationCanceled:    shots.activationCanceled,
		DeactivationRequested: shots.deactivationRequested,
		DeactivationAcked:     shots.deactivationAcked,
		ValidationProbeOK:     probeOK,
		FatalFault:            shots.fatalFault,
		Manual:                shots.manual,
		ManualOverride:        override,
	}
}

// issueSwitch sends one scene_switch_request at critical priority and
// tracks it until the result or the timeout.
func (s *Service) issueSwitch(sess *transport.Session, cmd engine.SwitchCommand, now time.Time) {
	req := protocol.SceneSwitchRequest{
		RequestID: uuid.NewString(),
		Scene:     cmd.Scene,
		Rule:      cmd.Rule,
		Reason:    cmd.Reason,
	}
	env, err := protocol.New(protocol.TypeSceneSwitchRequest, req)
	if err != nil {
		s.log.Error().Err(err).Msg("build switch request")
		return
	}
	s.pending.Track(engine.PendingSwitch{
		RequestID:  req.RequestID,
		Scene:      req.Scene,
		Rule:       req.Rule,
		Reason:     req.Reason,
		IssuedAt:   now,
		DeadlineAt: now.Add(s.resultTimeout),
	})
	sess.Send(env)
	s.log.Info().
		Str("request_id", req.RequestID).
		Str("scene", req.Scene).
		Str("rule", req.Rule).
		Msg("switch request issued")
}

func (s *Service) registerHandlers(sess *transport.Session) {
	sess.Handle(protocol.TypeStatusSnapshot, s.onStatusSnapshot)
	sess.Handle(protocol.TypeSceneSwitchResult, func(env protocol.Envelope) {
		s.onSwitchResult(sess, env)
	})
	sess.Handle(protocol.TypeRequestStatus, func(protocol.Envelope) {
		s.mu.Lock()
		snap := s.snapshot
		s.mu.Unlock()
		if env, err := protocol.New(protocol.TypeStatusSnapshot, snap); err == nil {
			s.lanes.Enqueue(env)
		}
	})
	sess.Handle(protocol.TypeShutdownRequest, func(env protocol.Envelope) {
		var req protocol.ShutdownRequest
		_ = protocol.DecodePayload(env, &req)
		s.log.Warn().Str("reason", req.Reason).Msg("peer requested shutdown")
	})
}

// onStatusSnapshot ingests the shim's remote/cloud signal report.
func (s *Service) onStatusSnapshot(env protocol.Envelope) {
	var snap protocol.StatusSnapshot
	if err := protocol.DecodePayload(env, &snap); err != nil {
		s.log.Warn().Err(err).Msg("bad status snapshot")
		return
	}
	health := engine.Health(snap.Health)
	switch health {
	case engine.HealthHealthy, engine.HealthFailover:
	default:
		health = engine.HealthUnknown
	}
	s.mu.Lock()
	s.remote = remoteSignals{
		sessionActive:      snap.RemoteActive,
		telemetryConnected: snap.TelemetryConnected,
		ingestActive:       snap.IngestActive,
		health:             health,
		lastSnapshotAt:     time.Now(),
	}
	s.mu.Unlock()
}

func (s *Service) onSwitchResult(sess *transport.Session, env protocol.Envelope) {
	var res protocol.SceneSwitchResult
	if err := protocol.DecodePayload(env, &res); err != nil {
		s.log.Warn().Err(err).Msg("bad switch result")
		return
	}
	item, ok := s.pending.Resolve(res.RequestID)
	if !ok {
		s.log.Warn().Str("request_id", res.RequestID).Msg("unmatched switch result")
		return
	}
	if !res.Success {
		s.log.Error().
			Str("request_id", res.RequestID).
			Str("scene", item.Scene).
			Str("reason", res.Reason).
			Msg("switch failed")
		s.notify(sess, protocol.SeverityError,
			fmt.Sprintf("scene switch to %q failed: %s", item.Scene, res.Reason))
		return
	}
	s.mu.Lock()
	s.currentScene = item.Scene
	s.mu.Unlock()
	s.log.Info().
		Str("request_id", res.RequestID).
		Str("scene", item.Scene).
		Msg("switch confirmed")
	s.notify(sess, protocol.SeverityInfo, fmt.Sprintf("switched to scene %q", item.Scene))
}

// consumeEvents drains the session's bounded event channel so state
// changes are observed even with no registered listener.
func (s *Service) consumeEvents(ctx context.Context, sess *transport.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sess.Events():
			if ev.Kind == transport.EventStateChange {
				s.log.Debug().Str("state", string(ev.State)).Msg("session event")
			}
		}
	}
}

func (s *Service) buildSnapshot(now time.Time) protocol.StatusSnapshot {
	s.mu.Lock()
	scene := s.currentScene
	remote := s.remote
	s.mu.Unlock()
	return protocol.StatusSnapshot{
		Scene:              scene,
		Mode:               string(s.engine.Mode()),
		RemoteActive:       remote.sessionActive,
		TelemetryConnected: remote.telemetryConnected,
		IngestActive:       remote.ingestActive,
		Health:             string(remote.health),
		GraceRemainingSec:  int64(s.engine.GraceRemaining(now) / time.Second),
	}
}

func (s *Service) notify(sess *transport.Session, severity, message string) {
	env, err := protocol.New(protocol.TypeUserNotice, protocol.UserNotice{
		Severity: severity,
		Message:  message,
	})
	if err != nil {
		return
	}
	sess.Send(env)
}

func (s *Service) sendProtocolError(sess *transport.Session, code, message string) {
	env, err := protocol.New(protocol.TypeProtocolError, protocol.ProtocolError{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	sess.Send(env)
}

// CurrentScene is the last confirmed program scene.
func (s *Service) CurrentScene() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentScene
}

// RequestRemoteActivation asks the engine to begin remote activation on
// its next tick.
func (s *Service) RequestRemoteActivation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots.activationRequested = true
}

// DenyRemoteActivation reports an upstream denial of the in-flight
// activation.
func (s *Service) DenyRemoteActivation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots.activationDenied = true
}

// CancelRemoteActivation withdraws the in-flight activation.
func (s *Service) CancelRemoteActivation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots.activationCanceled = true
}

// RequestDeactivation starts an orderly return to local control.
func (s *Service) RequestDeactivation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots.deactivationRequested = true
}

// AckDeactivation confirms the remote side released the stream.
func (s *Service) AckDeactivation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots.deactivationAcked = true
}

// ReportFatal drives the engine into its terminal mode.
func (s *Service) ReportFatal(fault string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots.fatalFault = fault
}

// SubmitManual queues one operator scene command for the next tick.
// Later submissions within the same tick replace earlier ones.
func (s *Service) SubmitManual(cmd engine.ManualCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots.manual = &cmd
}

// SetManualOverride toggles suppression of automated switching.
func (s *Service) SetManualOverride(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualOverride = on
}
