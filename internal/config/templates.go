package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Market simulator configuration

[simulation]
# Seed for live sessions; empty means a fresh id per session
season_id = ""
# Starting cash in whole currency units
initial_capital = 10000000
# Session length in ticks (0 runs until interrupted)
total_ticks = 3600
# Ticks per in-game trading day
ticks_per_day = 360
# Wall-clock time between ticks for live sessions
tick_interval = "250ms"

[execution]
# Fee in percent of notional (0.015 means 0.015%)
fee_rate = 0.015
# Skill level 0-5, each level takes 10% off the fee
skill_level = 0
# Apply kind-dependent slippage to market and stop orders
slippage_enabled = true
# Largest accepted order quantity, also enforced when validating logs
max_quantity = 1000000000

[crisis]
enabled = true

[replay]
# Parallel verifications
workers = 4
queue_size = 64
min_supported_version = "2.0"

[store]
enabled = false
# path = "/var/lib/marketsim/marketsim.db"

[metrics]
enabled = false
addr = ":9108"

[kafka]
enabled = false
brokers = ["localhost:9092"]
topic = "marketsim.events"
# Writer batching: flush after batch_size messages or batch_timeout
batch_size = 100
batch_timeout = "1s"

[notifications]
enabled = false
# Notification level: all, trades_only, errors_only
level = "all"
# Events wait here for delivery; when full, new ones are dropped
queue_size = 256
# How long a finished session waits for queued events to go out
drain_wait = "5s"

[notifications.webhook]
enabled = false
url = ""

[logging]
level = "info"
console = true
file = false

# Per-kind overrides replace the built-in row, e.g.
# [kinds.crypto]
# base_volatility = 0.01
# max_daily_move = 0.5
# typical_move = 0.05
# momentum_factor = 0.5
# min_price = 1
# force_tick_probability = 0.6
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.WriteFile(path, []byte(configTemplate), 0644)
}
