package transport

import "time"

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// SecurityMode selects the transport hardening profile.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig describes optional channel encryption. The local channel
// defaults to plaintext loopback; TLS applies to TCP deployments.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines session reliability and liveness defaults.
type Config struct {
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatMissLimit int
	ErrorBurstWindow   time.Duration
	ErrorBurstLimit    int
	FlushGrace         time.Duration
	Backoff            BackoffConfig
	SecurityMode       SecurityMode
	TLS                TLSConfig
}

// DefaultConfig returns the contract defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     1500 * time.Millisecond,
		HandshakeTimeout:   1500 * time.Millisecond,
		ReadTimeout:        500 * time.Millisecond,
		WriteTimeout:       500 * time.Millisecond,
		HeartbeatInterval:  1000 * time.Millisecond,
		HeartbeatMissLimit: 3,
		ErrorBurstWindow:   10 * time.Second,
		ErrorBurstLimit:    5,
		FlushGrace:         250 * time.Millisecond,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatMissLimit <= 0 {
		c.HeartbeatMissLimit = def.HeartbeatMissLimit
	}
	if c.ErrorBurstWindow <= 0 {
		c.ErrorBurstWindow = def.ErrorBurstWindow
	}
	if c.ErrorBurstLimit <= 0 {
		c.ErrorBurstLimit = def.ErrorBurstLimit
	}
	if c.FlushGrace <= 0 {
		c.FlushGrace = def.FlushGrace
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.SecurityMode == "" {
		c.SecurityMode = def.SecurityMode
	}
	return c
}
