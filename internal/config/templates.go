package config

import (
	"fmt"
	"os"
)

// Template returns a commented starter config.
func Template() string {
	return coreTemplate
}

// WriteTemplate writes the starter config, refusing to clobber an
// existing file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(coreTemplate), 0o600)
}

const coreTemplate = `[listen]
addr = "127.0.0.1:7230"
name = "scenectl"

[transport]
connect_timeout_ms = 1500
handshake_timeout_ms = 1500
read_timeout_ms = 500
write_timeout_ms = 500
heartbeat_interval_ms = 1000
heartbeat_miss_limit = 3
error_burst_window_s = 10
error_burst_limit = 5
flush_grace_ms = 250
backoff_initial_ms = 250
backoff_max_ms = 5000
security_mode = "development"

[engine]
tick_interval_ms = 500
hysteresis_ticks = 3
grace_window_s = 600
activation_timeout_s = 15
hard_failure_ticks = 2
chat_cooldown_s = 30
switch_result_timeout_s = 5

[lanes]
capacity = 32

[scenes]
nominal = "live"
failover = "backup"

[telemetry]
poll_interval_ms = 500
# stats_url = "http://127.0.0.1:8085/stats"

[ops]
# addr = "127.0.0.1:7231"
# cors_origins = ["http://localhost:3000"]
# admin_token = ""
# operator_token = ""
# chat_token = ""

[logging]
level = "info"
no_color = false

[tls]
enabled = false
`
