// Package config loads the scenectl TOML configuration and converts it
// into the runtime configs of the packages it feeds.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrListenAddrRequired  = errors.New("config: listen addr required")
	ErrSceneNameRequired   = errors.New("config: scene name required")
	ErrInvalidSecurityMode = errors.New("config: invalid security mode")
	ErrInvalidLogLevel     = errors.New("config: invalid log level")
)

// Config is the on-disk shape of scenectl.toml. Duration fields carry
// explicit units in their key names; conversion to time.Duration
// happens in convert.go.
type Config struct {
	Listen    ListenConfig    `toml:"listen"`
	Transport TransportConfig `toml:"transport"`
	Engine    EngineConfig    `toml:"engine"`
	Lanes     LanesConfig     `toml:"lanes"`
	Scenes    ScenesConfig    `toml:"scenes"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Ops       OpsConfig       `toml:"ops"`
	Logging   LoggingConfig   `toml:"logging"`
	TLS       TLSConfig       `toml:"tls"`
}

type ListenConfig struct {
	Addr string `toml:"addr"`
	Name string `toml:"name"`
}

type TransportConfig struct {
	ConnectTimeoutMS    int    `toml:"connect_timeout_ms"`
	HandshakeTimeoutMS  int    `toml:"handshake_timeout_ms"`
	ReadTimeoutMS       int    `toml:"read_timeout_ms"`
	WriteTimeoutMS      int    `toml:"write_timeout_ms"`
	HeartbeatIntervalMS int    `toml:"heartbeat_interval_ms"`
	HeartbeatMissLimit  int    `toml:"heartbeat_miss_limit"`
	ErrorBurstWindowS   int    `toml:"error_burst_window_s"`
	ErrorBurstLimit     int    `toml:"error_burst_limit"`
	FlushGraceMS        int    `toml:"flush_grace_ms"`
	BackoffInitialMS    int    `toml:"backoff_initial_ms"`
	BackoffMaxMS        int    `toml:"backoff_max_ms"`
	SecurityMode        string `toml:"security_mode"`
}

type EngineConfig struct {
	TickIntervalMS       int `toml:"tick_interval_ms"`
	HysteresisTicks      int `toml:"hysteresis_ticks"`
	GraceWindowS         int `toml:"grace_window_s"`
	ActivationTimeoutS   int `toml:"activation_timeout_s"`
	HardFailureTicks     int `toml:"hard_failure_ticks"`
	ChatCooldownS        int `toml:"chat_cooldown_s"`
	SwitchResultTimeoutS int `toml:"switch_result_timeout_s"`
}

type LanesConfig struct {
	Capacity int `toml:"capacity"`
}

type ScenesConfig struct {
	Nominal  string `toml:"nominal"`
	Failover string `toml:"failover"`
}

type TelemetryConfig struct {
	PollIntervalMS int    `toml:"poll_interval_ms"`
	StatsURL       string `toml:"stats_url"`
}

// OpsConfig controls the operational HTTP surface (health, readiness,
// Prometheus metrics, manual control). Empty addr disables it; empty
// role tokens disable that role's control access.
type OpsConfig struct {
	Addr          string   `toml:"addr"`
	CorsOrigins   []string `toml:"cors_origins"`
	AdminToken    string   `toml:"admin_token"`
	OperatorToken string   `toml:"operator_token"`
	ChatToken     string   `toml:"chat_token"`
}

type LoggingConfig struct {
	Level   string `toml:"level"`
	NoColor bool   `toml:"no_color"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// Load reads, defaults, and validates a scenectl config file.
func Load(path string) (Config, error) {
	var cfg Config
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// WithDefaults fills unset fields with the contract defaults.
func (c Config) WithDefaults() Config {
	if c.Listen.Addr == "" {
		c.Listen.Addr = "127.0.0.1:7230"
	}
	if c.Listen.Name == "" {
		c.Listen.Name = "scenectl"
	}
	if c.Scenes.Nominal == "" {
		c.Scenes.Nominal = "live"
	}
	if c.Scenes.Failover == "" {
		c.Scenes.Failover = "backup"
	}
	if c.Telemetry.PollIntervalMS <= 0 {
		c.Telemetry.PollIntervalMS = 500
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Transport.SecurityMode == "" {
		c.Transport.SecurityMode = "development"
	}
	return c
}

// Validate rejects configs the runtime could not act on. Zero numeric
// fields are legal; the target packages overlay their own defaults.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen.Addr) == "" {
		return ErrListenAddrRequired
	}
	if strings.TrimSpace(c.Scenes.Nominal) == "" || strings.TrimSpace(c.Scenes.Failover) == "" {
		return ErrSceneNameRequired
	}
	switch c.Transport.SecurityMode {
	case "development", "production":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.Transport.SecurityMode)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}
	if c.TLS.Enabled {
		if strings.TrimSpace(c.TLS.CertFile) == "" || strings.TrimSpace(c.TLS.KeyFile) == "" {
			return fmt.Errorf("config: tls enabled requires cert_file and key_file")
		}
	}
	return nil
}
