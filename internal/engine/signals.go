package engine

import (
	"time"

	"github.com/scenefall/scenectl/internal/transport"
)

// Health is the remote/cloud classification of the monitored stream.
type Health string

const (
	HealthUnknown  Health = "unknown"
	HealthHealthy  Health = "healthy"
	HealthFailover Health = "failover"
)

// ManualCommand is an operator-issued scene request.
type ManualCommand struct {
	Scene         string
	Requester     string
	Authorized    bool
	AdminOverride bool
	FromChat      bool
}

// SignalSet is the normalized snapshot of every input visible to one
// evaluation tick. It is rebuilt fresh each tick and never mutated in
// place; the engine reads its clock from Now, never from the wall.
type SignalSet struct {
	Now time.Time

	// Local telemetry, polled at the tick rate. Local failure is
	// ground truth for what the output destination actually receives.
	LocalThroughputKbps float64
	LocalConnected      bool

	// Remote/cloud signals, carried by status snapshots.
	RemoteSessionActive bool
	TelemetryConnected  bool
	IngestActive        bool
	RemoteHealth        Health

	// Transport session health.
	SessionState       transport.State
	ProtocolErrorBurst bool

	// Control-plane requests resolved before this tick.
	ActivationRequested   bool
	ActivationDenied      bool
	ActivationCanceled    bool
	DeactivationRequested bool
	DeactivationAcked     bool
	ValidationProbeOK     bool

	// FatalFault names an unrecoverable configuration/auth/invariant
	// violation. Non-empty forces the terminal mode.
	FatalFault string

	Manual         *ManualCommand
	ManualOverride bool
}
