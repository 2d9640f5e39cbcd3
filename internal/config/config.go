// Package config handles loading and validating taskpilot configuration.
// Supports YAML config files and TASKPILOT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marcus/taskpilot/internal/tasks"
)

// Validation errors.
var (
	ErrInvalidLogLevel    = errors.New("invalid log level: must be debug, info, warn, or error")
	ErrInvalidLogFormat   = errors.New("invalid log format: must be json or text")
	ErrInvalidHistorySize = errors.New("selection.max_decision_history must be positive")
	ErrInvalidInterval    = errors.New("selection intervals must be positive")
	ErrInvalidConcurrency = errors.New("selection.max_concurrent_cycles must be positive")
	ErrInvalidCooldown    = errors.New("task cooldowns must not be negative")
	ErrMissingAgentID     = errors.New("agent id is required")
	ErrDuplicateAgent     = errors.New("duplicate agent id")
	ErrMissingCommand     = errors.New("task command is required")
)

const (
	projectConfigName = "taskpilot.yaml"
	envPrefix         = "TASKPILOT"
)

// Config holds all taskpilot configuration.
type Config struct {
	Selection SelectionConfig `mapstructure:"selection"`
	Agents    []AgentConfig   `mapstructure:"agents"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	DBPath    string          `mapstructure:"db_path"`
}

// SelectionConfig tunes the selection engine.
type SelectionConfig struct {
	BaseInterval        time.Duration            `mapstructure:"base_interval"`
	MinTaskInterval     time.Duration            `mapstructure:"min_task_interval"` // floor for agent cycle intervals
	MaxDecisionHistory  int                      `mapstructure:"max_decision_history"`
	MaxConcurrentCycles int                      `mapstructure:"max_concurrent_cycles"`
	DefaultCooldown     time.Duration            `mapstructure:"default_cooldown"`
	ExecutionTimeout    time.Duration            `mapstructure:"execution_timeout"` // 0 disables
	Cooldowns           map[string]time.Duration `mapstructure:"cooldowns"`
}

// AgentConfig describes one managed agent.
type AgentConfig struct {
	ID          string            `mapstructure:"id"`
	Name        string            `mapstructure:"name"`
	Personality PersonalityConfig `mapstructure:"personality"`
}

// PersonalityConfig is the raw personality an agent profile is derived from.
type PersonalityConfig struct {
	RiskProfile         string             `mapstructure:"risk_profile"`
	TimeHorizon         string             `mapstructure:"time_horizon"`
	LearningStyle       string             `mapstructure:"learning_style"`
	CompetitionApproach string             `mapstructure:"competition_approach"`
	StrategicWeights    map[string]float64 `mapstructure:"strategic_weights"`
}

// TasksConfig controls the catalog.
type TasksConfig struct {
	Disabled []string                 `mapstructure:"disabled"`
	Commands map[string]CommandConfig `mapstructure:"commands"`
}

// CommandConfig binds a task type to an external command.
type CommandConfig struct {
	Command      string   `mapstructure:"command"`
	Args         []string `mapstructure:"args"`
	MetadataArgs []string `mapstructure:"metadata_args"`
	WorkDir      string   `mapstructure:"work_dir"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// GlobalConfigPath returns ~/.config/taskpilot/config.yaml.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskpilot", "config.yaml")
}

// DefaultDBPath returns the default journal database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "taskpilot", "taskpilot.db")
}

// Load reads the global config merged with ./taskpilot.yaml.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return LoadFromPaths(wd, GlobalConfigPath())
}

// LoadFile reads a single explicit config file.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(expandPath(path))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

// LoadFromPaths merges the global config with projectDir/taskpilot.yaml.
// Missing files are skipped; project values win.
func LoadFromPaths(projectDir, globalPath string) (*Config, error) {
	v := newViper()

	for _, path := range []string{globalPath, filepath.Join(projectDir, projectConfigName)} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("selection.base_interval", "10m")
	v.SetDefault("selection.min_task_interval", "2m")
	v.SetDefault("selection.max_decision_history", 100)
	v.SetDefault("selection.max_concurrent_cycles", 4)
	v.SetDefault("selection.default_cooldown", tasks.DefaultCooldown.String())
	v.SetDefault("selection.execution_timeout", "0s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.retention_days", 7)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return cfg
}

// normalize fills the cooldown table from the built-in defaults.
func (c *Config) normalize() {
	if c.Selection.Cooldowns == nil {
		c.Selection.Cooldowns = make(map[string]time.Duration)
	}
	for t, d := range tasks.DefaultCooldowns() {
		if _, ok := c.Selection.Cooldowns[string(t)]; !ok {
			c.Selection.Cooldowns[string(t)] = d
		}
	}
}

// Validate checks config values.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return ErrInvalidLogFormat
	}

	s := cfg.Selection
	if s.MaxDecisionHistory <= 0 {
		return ErrInvalidHistorySize
	}
	if s.MaxConcurrentCycles <= 0 {
		return ErrInvalidConcurrency
	}
	if s.BaseInterval < 0 || s.MinTaskInterval < 0 || s.DefaultCooldown < 0 || s.ExecutionTimeout < 0 {
		return ErrInvalidInterval
	}
	for _, d := range s.Cooldowns {
		if d < 0 {
			return ErrInvalidCooldown
		}
	}

	seen := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if strings.TrimSpace(a.ID) == "" {
			return ErrMissingAgentID
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID)
		}
		seen[a.ID] = true
	}

	for taskType, cmd := range cfg.Tasks.Commands {
		if strings.TrimSpace(cmd.Command) == "" {
			return fmt.Errorf("%w: %s", ErrMissingCommand, taskType)
		}
	}
	return nil
}

// CooldownFor returns the minimum re-execution interval for a task type.
func (s SelectionConfig) CooldownFor(taskType string) time.Duration {
	if d, ok := s.Cooldowns[taskType]; ok {
		return d
	}
	if s.DefaultCooldown > 0 {
		return s.DefaultCooldown
	}
	return tasks.DefaultCooldown
}

// IsTaskDisabled reports whether a task type is disabled in config.
func (c *Config) IsTaskDisabled(taskType string) bool {
	for _, d := range c.Tasks.Disabled {
		if d == taskType {
			return true
		}
	}
	return false
}

// Agent returns the agent config with the given id.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// ExpandedDBPath returns the journal path with ~ expanded.
func (c *Config) ExpandedDBPath() string {
	if c.DBPath == "" {
		return DefaultDBPath()
	}
	return expandPath(c.DBPath)
}

// ExpandedLogPath returns the log dir with ~ expanded.
func (c *Config) ExpandedLogPath() string {
	if c.Logging.Path == "" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "taskpilot", "logs")
	}
	return expandPath(c.Logging.Path)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
