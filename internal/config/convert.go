package config

import (
	"time"

	"github.com/scenefall/scenectl/internal/engine"
	"github.com/scenefall/scenectl/internal/transport"
)

// ToTransport maps file fields onto the session config. Unset fields
// fall through to transport defaults.
func (c Config) ToTransport() transport.Config {
	out := transport.Config{
		ConnectTimeout:     time.Duration(c.Transport.ConnectTimeoutMS) * time.Millisecond,
		HandshakeTimeout:   time.Duration(c.Transport.HandshakeTimeoutMS) * time.Millisecond,
		ReadTimeout:        time.Duration(c.Transport.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:       time.Duration(c.Transport.WriteTimeoutMS) * time.Millisecond,
		HeartbeatInterval:  time.Duration(c.Transport.HeartbeatIntervalMS) * time.Millisecond,
		HeartbeatMissLimit: c.Transport.HeartbeatMissLimit,
		ErrorBurstWindow:   time.Duration(c.Transport.ErrorBurstWindowS) * time.Second,
		ErrorBurstLimit:    c.Transport.ErrorBurstLimit,
		FlushGrace:         time.Duration(c.Transport.FlushGraceMS) * time.Millisecond,
		SecurityMode:       transport.SecurityMode(c.Transport.SecurityMode),
		TLS: transport.TLSConfig{
			Enabled:            c.TLS.Enabled,
			Mutual:             c.TLS.Mutual,
			CertFile:           c.TLS.CertFile,
			KeyFile:            c.TLS.KeyFile,
			CAFile:             c.TLS.CAFile,
			ServerName:         c.TLS.ServerName,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		},
	}
	if c.Transport.BackoffInitialMS > 0 {
		out.Backoff = transport.BackoffConfig{
			InitialDelay: time.Duration(c.Transport.BackoffInitialMS) * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Duration(c.Transport.BackoffMaxMS) * time.Millisecond,
			Jitter:       true,
		}
	}
	return out.WithDefaults()
}

// ToEngine maps file fields onto the decision engine config.
func (c Config) ToEngine() engine.Config {
	return engine.Config{
		TickInterval:      time.Duration(c.Engine.TickIntervalMS) * time.Millisecond,
		HysteresisTicks:   c.Engine.HysteresisTicks,
		GraceWindow:       time.Duration(c.Engine.GraceWindowS) * time.Second,
		ActivationTimeout: time.Duration(c.Engine.ActivationTimeoutS) * time.Second,
		HardFailureTicks:  c.Engine.HardFailureTicks,
		ChatCooldown:      time.Duration(c.Engine.ChatCooldownS) * time.Second,
		NominalScene:      c.Scenes.Nominal,
		FailoverScene:     c.Scenes.Failover,
	}.WithDefaults()
}

// SwitchResultTimeout is how long an issued switch request may wait
// for its result before it is failed with a reason.
func (c Config) SwitchResultTimeout() time.Duration {
	if c.Engine.SwitchResultTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Engine.SwitchResultTimeoutS) * time.Second
}

// TelemetryPollInterval returns the local sampling cadence.
func (c Config) TelemetryPollInterval() time.Duration {
	return time.Duration(c.Telemetry.PollIntervalMS) * time.Millisecond
}
