// Package config loads the daemon's YAML configuration: tick/fan-out
// tuning, per-family discovery roots, operator/relay config paths, and
// risk pricing — the same LoadOrDefault/XDG-path shape the teacher uses
// for its own config.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agent-racer/observatory/internal/risk"
)

// Config is the daemon's top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Operators OperatorsConfig `yaml:"operators"`
	Relay     RelayConfig     `yaml:"relay"`
	Risk      RiskConfig      `yaml:"risk"`
	Notify    NotifyConfig    `yaml:"notify"`
	State     StateConfig     `yaml:"state"`
}

// StateConfig names the on-disk location of the daemon's own persisted
// state (spec.md §6 "Persistent state written by the core").
type StateConfig struct {
	LabelsJSONPath      string `yaml:"labels_json_path"`
	LabelsDBPath        string `yaml:"labels_db_path"`
	PlanHistoryJSONPath string `yaml:"plan_history_json_path"`
	PlanHistoryDBPath   string `yaml:"plan_history_db_path"`
}

// ServerConfig covers the tick loop and local fan-out listener.
type ServerConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	ListenAddr     string        `yaml:"listen_addr"`
	AuthToken      string        `yaml:"auth_token"`
	MaxSubscribers int           `yaml:"max_subscribers"`
}

// DiscoveryConfig names the per-family directories Discovery walks.
type DiscoveryConfig struct {
	ClaudeRoot string `yaml:"claude_root"`
	CodexRoot  string `yaml:"codex_root"`
}

// OperatorsConfig points at the operator roster file (spec.md §4.5 step 1).
type OperatorsConfig struct {
	ConfigPath string `yaml:"config_path"`
}

// RelayConfig points at the uplink relay roster and its at-rest key.
type RelayConfig struct {
	ConfigPath string `yaml:"config_path"`
	KeyPath    string `yaml:"key_path"`
}

// RiskConfig carries operator overrides for the Risk Engine's pricing
// table; thresholds themselves stay as package constants in internal/risk
// per spec.md §4.8 (they're invariant, not tunable).
type RiskConfig struct {
	Prices map[string]ModelPrice `yaml:"prices"`
}

// ModelPrice mirrors risk.ModelPrice for YAML decoding.
type ModelPrice struct {
	InputPerMTok         float64 `yaml:"input_per_mtok"`
	OutputPerMTok        float64 `yaml:"output_per_mtok"`
	CacheReadPerMTok     float64 `yaml:"cache_read_per_mtok"`
	CacheCreationPerMTok float64 `yaml:"cache_creation_per_mtok"`
}

// NotifyConfig gates the desktop toast companion.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PriceTable converts the configured overrides into a risk.PriceTable
// layered over the defaults (configured prefixes win).
func (c *Config) PriceTable() risk.PriceTable {
	table := make(risk.PriceTable, len(risk.DefaultPriceTable)+len(c.Risk.Prices))
	for prefix, price := range risk.DefaultPriceTable {
		table[prefix] = price
	}
	for prefix, price := range c.Risk.Prices {
		table[prefix] = risk.ModelPrice{
			InputPerMTok:         price.InputPerMTok,
			OutputPerMTok:        price.OutputPerMTok,
			CacheReadPerMTok:     price.CacheReadPerMTok,
			CacheCreationPerMTok: price.CacheCreationPerMTok,
		}
	}
	return table
}

// Load reads and parses the YAML config at path, layering it over defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default
// configuration if the file doesn't exist — malformed config is treated
// as a Configuration-class error (spec.md §7): callers should fall back
// to defaultConfig() on any Load error, not just os.IsNotExist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return defaultConfig()
	}
	return cfg
}

func defaultConfig() *Config {
	stateDir := filepath.Join(defaultStateDir(), "observatory")
	return &Config{
		Server: ServerConfig{
			TickInterval:   time.Second,
			ListenAddr:     "127.0.0.1:7777",
			MaxSubscribers: 64,
		},
		Discovery: DiscoveryConfig{
			ClaudeRoot: filepath.Join(defaultHomeDir(), ".claude", "projects"),
			CodexRoot:  defaultCodexRoot(),
		},
		Operators: OperatorsConfig{
			ConfigPath: filepath.Join(defaultConfigDir(), "observatory", "operators.yaml"),
		},
		Relay: RelayConfig{
			ConfigPath: filepath.Join(defaultConfigDir(), "observatory", "relay.json"),
			KeyPath:    filepath.Join(stateDir, "relay.key"),
		},
		Notify: NotifyConfig{Enabled: true},
		State: StateConfig{
			LabelsJSONPath:      filepath.Join(stateDir, "labels.json"),
			LabelsDBPath:        filepath.Join(stateDir, "labels.db"),
			PlanHistoryJSONPath: filepath.Join(stateDir, "plan-history.json"),
			PlanHistoryDBPath:   filepath.Join(stateDir, "plan-history.db"),
		},
	}
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func defaultCodexRoot() string {
	if v := os.Getenv("CODEX_HOME"); v != "" {
		return filepath.Join(v, "sessions")
	}
	return filepath.Join(defaultHomeDir(), ".codex", "sessions")
}

func defaultStateDir() string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}
	return filepath.Join(defaultHomeDir(), ".local", "state")
}

func defaultConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	return filepath.Join(defaultHomeDir(), ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "observatory", "config.yaml")
}
