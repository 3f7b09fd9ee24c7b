package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/scenefall/scenectl/internal/observability"
	"github.com/scenefall/scenectl/internal/transport"
)

// Mode is the engine's top-level state.
type Mode string

const (
	ModeLocal            Mode = "local"
	ModeRemoteConnecting Mode = "remote_connecting"
	ModeRemoteActive     Mode = "remote_active"
	ModeRemoteGrace      Mode = "remote_grace"
	ModeDegraded         Mode = "degraded"
	ModeFatal            Mode = "fatal"
)

// Rule names, in precedence order.
const (
	RuleManual             = "manual"
	RuleLocalHardFailure   = "local_hard_failure"
	RuleRemoteFailover     = "remote_failover"
	RuleHysteresisRecovery = "hysteresis_recovery"
	RuleHold               = "hold"
)

// Guard names reported on rejections.
const (
	GuardAuthorization  = "authorization"
	GuardChatCooldown   = "chat_cooldown"
	GuardManualOverride = "manual_override"
	GuardSessionActive  = "session_not_active"
)

// Config holds the engine tuning knobs.
type Config struct {
	TickInterval      time.Duration
	HysteresisTicks   int
	GraceWindow       time.Duration
	ActivationTimeout time.Duration
	// HardFailureTicks is the consecutive zero-throughput sample count
	// treated as a local hard failure. Two samples means throughput
	// was zero for one whole evaluation interval.
	HardFailureTicks int
	ChatCooldown     time.Duration
	NominalScene     string
	FailoverScene    string
}

func DefaultConfig() Config {
	return Config{
		TickInterval:      500 * time.Millisecond,
		HysteresisTicks:   3,
		GraceWindow:       600 * time.Second,
		ActivationTimeout: 15 * time.Second,
		HardFailureTicks:  2,
		ChatCooldown:      30 * time.Second,
		NominalScene:      "live",
		FailoverScene:     "backup",
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.HysteresisTicks <= 0 {
		c.HysteresisTicks = def.HysteresisTicks
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = def.GraceWindow
	}
	if c.ActivationTimeout <= 0 {
		c.ActivationTimeout = def.ActivationTimeout
	}
	if c.HardFailureTicks <= 0 {
		c.HardFailureTicks = def.HardFailureTicks
	}
	if c.ChatCooldown <= 0 {
		c.ChatCooldown = def.ChatCooldown
	}
	if c.NominalScene == "" {
		c.NominalScene = def.NominalScene
	}
	if c.FailoverScene == "" {
		c.FailoverScene = def.FailoverScene
	}
	return c
}

// Transition records one mode change.
type Transition struct {
	From    Mode
	To      Mode
	Trigger string
}

// GuardRejection records a rule that matched but was vetoed.
type GuardRejection struct {
	Guard  string
	Rule   string
	Reason string
}

// SwitchCommand is the at-most-one output of a tick.
type SwitchCommand struct {
	Scene  string
	Rule   string
	Reason string
}

// Decision is the full outcome of one evaluation tick.
type Decision struct {
	Transition *Transition
	Intent     string
	Rule       string
	Reason     string
	Command    *SwitchCommand
	Rejections []GuardRejection
}

// Engine is the decision state machine. It is not safe for concurrent
// use: exactly one tick runs at a time, on the engine's own loop.
type Engine struct {
	cfg Config
	log zerolog.Logger

	mode        Mode
	intent      string
	priorStable Mode

	graceDeadline     time.Time
	connectDeadline   time.Time
	chatCooldownUntil time.Time
	zeroStreak        int
	healthyStreak     int
}

func New(cfg Config, logger zerolog.Logger) *Engine {
	cfg = cfg.WithDefaults()
	return &Engine{
		cfg:         cfg,
		log:         logger.With().Str("component", "engine").Logger(),
		mode:        ModeLocal,
		intent:      cfg.NominalScene,
		priorStable: ModeLocal,
	}
}

func (e *Engine) Mode() Mode     { return e.mode }
func (e *Engine) Intent() string { return e.intent }

// GraceRemaining reports how much of the grace window is left, zero
// outside RemoteGrace.
func (e *Engine) GraceRemaining(now time.Time) time.Duration {
	if e.mode != ModeRemoteGrace || !now.Before(e.graceDeadline) {
		return 0
	}
	return e.graceDeadline.Sub(now)
}

// Tick evaluates one signal snapshot: at most one mode transition and
// at most one switch command. All clock reads come from sig.Now.
func (e *Engine) Tick(sig SignalSet) Decision {
	dec := Decision{Intent: e.intent, Rule: RuleHold}

	if tr := e.transition(sig); tr != nil {
		e.mode = tr.To
		if tr.To == ModeLocal || tr.To == ModeRemoteActive {
			e.priorStable = tr.To
		}
		dec.Transition = tr
		e.log.Info().
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Str("trigger", tr.Trigger).
			Msg("mode transition")
		observability.RecordModeTransition(string(tr.From), string(tr.To), tr.Trigger)
	}

	if e.mode == ModeFatal {
		// Terminal: requires operator action, never auto-exited.
		return dec
	}

	e.updateStreaks(sig)

	rule, reason, candidate := e.evaluateRules(sig)
	dec.Rule = rule
	dec.Reason = reason

	// Manual commands fall through even when they restate the current
	// intent: the confirmed scene may have diverged after a failed or
	// timed-out switch, and an accepted command must resolve to a
	// re-issued switch or an explicit rejection, never silence.
	if rule == RuleHold || (candidate == e.intent && rule != RuleManual) {
		dec.Intent = e.intent
		return dec
	}

	if rej := e.guard(sig, rule, candidate); rej != nil {
		dec.Rejections = append(dec.Rejections, *rej)
		e.log.Warn().
			Str("guard", rej.Guard).
			Str("rule", rej.Rule).
			Str("reason", rej.Reason).
			Msg("guard rejection")
		observability.RecordGuardRejection(rej.Guard)
		return dec
	}

	e.intent = candidate
	if sig.Manual != nil && rule == RuleManual && sig.Manual.FromChat {
		e.chatCooldownUntil = sig.Now.Add(e.cfg.ChatCooldown)
	}
	if candidate == e.cfg.FailoverScene {
		e.healthyStreak = 0
	}
	dec.Intent = candidate
	dec.Command = &SwitchCommand{Scene: candidate, Rule: rule, Reason: reason}
	e.log.Info().
		Str("rule", rule).
		Str("intent", candidate).
		Str("reason", reason).
		Msg("scene decision")
	observability.RecordSceneDecision(rule)
	return dec
}

// transition computes the at-most-one mode change for this tick.
func (e *Engine) transition(sig SignalSet) *Transition {
	if e.mode == ModeFatal {
		return nil
	}
	if sig.FatalFault != "" {
		return &Transition{From: e.mode, To: ModeFatal, Trigger: "fatal:" + sig.FatalFault}
	}
	if e.mode != ModeDegraded {
		if sig.SessionState == transport.StateDegraded {
			return &Transition{From: e.mode, To: ModeDegraded, Trigger: "session_degraded"}
		}
		if sig.ProtocolErrorBurst {
			return &Transition{From: e.mode, To: ModeDegraded, Trigger: "protocol_error_burst"}
		}
	}

	switch e.mode {
	case ModeLocal:
		if sig.ActivationRequested {
			e.connectDeadline = sig.Now.Add(e.cfg.ActivationTimeout)
			return &Transition{From: ModeLocal, To: ModeRemoteConnecting, Trigger: "activation_accepted"}
		}
	case ModeRemoteConnecting:
		switch {
		case sig.ActivationDenied:
			return &Transition{From: ModeRemoteConnecting, To: ModeLocal, Trigger: "activation_denied"}
		case sig.ActivationCanceled:
			return &Transition{From: ModeRemoteConnecting, To: ModeLocal, Trigger: "activation_canceled"}
		case sig.RemoteSessionActive && sig.TelemetryConnected:
			return &Transition{From: ModeRemoteConnecting, To: ModeRemoteActive, Trigger: "remote_ready"}
		case !sig.Now.Before(e.connectDeadline):
			return &Transition{From: ModeRemoteConnecting, To: ModeLocal, Trigger: "activation_timeout"}
		}
	case ModeRemoteActive:
		switch {
		case sig.DeactivationAcked:
			return &Transition{From: ModeRemoteActive, To: ModeLocal, Trigger: "deactivation_acked"}
		case !sig.TelemetryConnected || !sig.IngestActive:
			e.graceDeadline = sig.Now.Add(e.cfg.GraceWindow)
			e.log.Info().Dur("window", e.cfg.GraceWindow).Msg("grace timer started")
			return &Transition{From: ModeRemoteActive, To: ModeRemoteGrace, Trigger: "remote_signal_lost"}
		}
	case ModeRemoteGrace:
		switch {
		case sig.DeactivationRequested:
			e.log.Info().Msg("grace timer stopped")
			return &Transition{From: ModeRemoteGrace, To: ModeLocal, Trigger: "deactivation_requested"}
		case sig.TelemetryConnected && sig.IngestActive:
			e.log.Info().Msg("grace timer stopped")
			return &Transition{From: ModeRemoteGrace, To: ModeRemoteActive, Trigger: "remote_recovered"}
		case !sig.Now.Before(e.graceDeadline):
			e.log.Info().Msg("grace timer expired")
			return &Transition{From: ModeRemoteGrace, To: ModeLocal, Trigger: "grace_expired"}
		}
	case ModeDegraded:
		if sig.SessionState == transport.StateActive && !sig.ProtocolErrorBurst && sig.ValidationProbeOK {
			return &Transition{From: ModeDegraded, To: e.priorStable, Trigger: "dependency_restored"}
		}
	}
	return nil
}

func (e *Engine) updateStreaks(sig SignalSet) {
	if !sig.LocalConnected || sig.LocalThroughputKbps <= 0 {
		e.zeroStreak++
	} else {
		e.zeroStreak = 0
	}

	healthy := sig.LocalConnected && sig.LocalThroughputKbps > 0
	if e.remoteConsulted() && sig.RemoteHealth == HealthFailover {
		healthy = false
	}
	if healthy {
		e.healthyStreak++
	} else {
		e.healthyStreak = 0
	}
}

func (e *Engine) remoteConsulted() bool {
	return e.mode == ModeRemoteActive || e.mode == ModeRemoteGrace
}

// evaluateRules applies the precedence order: first match wins, exactly
// one candidate intent per tick.
func (e *Engine) evaluateRules(sig SignalSet) (rule, reason, candidate string) {
	if sig.Manual != nil {
		return RuleManual, "operator command from " + sig.Manual.Requester, sig.Manual.Scene
	}
	if e.zeroStreak >= e.cfg.HardFailureTicks {
		return RuleLocalHardFailure, "local throughput at zero for a full evaluation interval", e.cfg.FailoverScene
	}
	if e.remoteConsulted() && sig.RemoteHealth == HealthFailover && e.intent != e.cfg.FailoverScene {
		return RuleRemoteFailover, "remote health classified failover", e.cfg.FailoverScene
	}
	if e.intent == e.cfg.FailoverScene && e.healthyStreak >= e.cfg.HysteresisTicks {
		return RuleHysteresisRecovery, "held healthy for the recovery window", e.cfg.NominalScene
	}
	return RuleHold, "", e.intent
}

// guard vetoes a matched rule before any command is emitted. Manual
// administrative overrides bypass every guard except authorization.
func (e *Engine) guard(sig SignalSet, rule, candidate string) *GuardRejection {
	if rule == RuleManual {
		cmd := sig.Manual
		if !cmd.Authorized {
			return &GuardRejection{Guard: GuardAuthorization, Rule: rule, Reason: "unauthorized requester " + cmd.Requester}
		}
		if cmd.AdminOverride {
			return nil
		}
		if cmd.FromChat && sig.Now.Before(e.chatCooldownUntil) {
			return &GuardRejection{Guard: GuardChatCooldown, Rule: rule, Reason: "chat command inside cooldown"}
		}
		if sig.SessionState != transport.StateActive {
			return &GuardRejection{Guard: GuardSessionActive, Rule: rule, Reason: "session state " + string(sig.SessionState)}
		}
		return nil
	}

	// Automated rules.
	if sig.ManualOverride {
		return &GuardRejection{Guard: GuardManualOverride, Rule: rule, Reason: "manual override active"}
	}
	if sig.SessionState != transport.StateActive {
		return &GuardRejection{Guard: GuardSessionActive, Rule: rule, Reason: "session state " + string(sig.SessionState)}
	}
	return nil
}
