// Package config loads and validates the learning configuration from YAML
// files, with struct-tag validation on every hyperparameter so invalid
// settings fail at load time rather than mid-episode.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/XiaoConstantine/qlearn-go/pkg/errors"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl/reward"
)

// EnvDatabasePath overrides the configured store path when set.
const EnvDatabasePath = "QLEARN_DB_PATH"

// AgentConfig holds the hyperparameters for one agent type.
type AgentConfig struct {
	LearningRate       float64 `yaml:"learning_rate" validate:"gt=0,lte=1"`
	DiscountFactor     float64 `yaml:"discount_factor" validate:"gt=0,lte=1"`
	ExplorationRate    float64 `yaml:"exploration_rate" validate:"gte=0,lte=1"`
	ExplorationDecay   float64 `yaml:"exploration_decay" validate:"gt=0,lte=1"`
	MinExplorationRate float64 `yaml:"min_exploration_rate" validate:"gte=0,lte=1"`

	// UpdateFrequency is how many Q-value updates accumulate before a
	// durable flush.
	UpdateFrequency int `yaml:"update_frequency" validate:"gte=1"`

	// DecayCadence selects when epsilon decays: episode, step, or reward.
	DecayCadence string `yaml:"decay_cadence" validate:"oneof=episode step reward"`

	// InitialQValue is the prior for unvisited state-action pairs.
	InitialQValue float64 `yaml:"initial_q_value"`

	// RewardWeights overrides the reward component weighting; omitted
	// weights fall back to the defaults.
	RewardWeights *reward.Weights `yaml:"reward_weights,omitempty"`
}

// StoreConfig bounds the durable store's resource usage.
type StoreConfig struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`

	// QValueTTL, when positive, expires persisted Q-values.
	QValueTTL time.Duration `yaml:"q_value_ttl"`
}

// Config is the root learning configuration.
type Config struct {
	// Mode selects the operating mode: disabled, ephemeral, or full.
	Mode string `yaml:"mode" validate:"oneof=disabled ephemeral full"`

	Store StoreConfig `yaml:"store"`

	// Defaults apply to any agent type without an explicit entry.
	Defaults AgentConfig `yaml:"defaults"`

	// Agents holds per-agent-type overrides keyed by identifier.
	Agents map[string]AgentConfig `yaml:"agents,omitempty"`
}

// DefaultConfig returns a validated baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode: "full",
		Store: StoreConfig{
			Path:            "qlearn.db",
			MaxOpenConns:    8,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Defaults: AgentConfig{
			LearningRate:       0.1,
			DiscountFactor:     0.95,
			ExplorationRate:    0.3,
			ExplorationDecay:   0.995,
			MinExplorationRate: 0.05,
			UpdateFrequency:    10,
			DecayCadence:       "episode",
		},
	}
}

// Load reads and validates a YAML configuration file. Missing agent-level
// fields inherit from the defaults section.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ConfigurationInvalid, "failed to read config file"),
			errors.Fields{"path": path},
		)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ConfigurationInvalid, "failed to parse config file"),
			errors.Fields{"path": path},
		)
	}

	for id, agent := range cfg.Agents {
		cfg.Agents[id] = mergeAgent(cfg.Defaults, agent)
	}

	if override := os.Getenv(EnvDatabasePath); override != "" {
		cfg.Store.Path = override
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeAgent fills zero-valued fields from the defaults.
func mergeAgent(defaults, agent AgentConfig) AgentConfig {
	if agent.LearningRate == 0 {
		agent.LearningRate = defaults.LearningRate
	}
	if agent.DiscountFactor == 0 {
		agent.DiscountFactor = defaults.DiscountFactor
	}
	if agent.ExplorationRate == 0 {
		agent.ExplorationRate = defaults.ExplorationRate
	}
	if agent.ExplorationDecay == 0 {
		agent.ExplorationDecay = defaults.ExplorationDecay
	}
	if agent.MinExplorationRate == 0 {
		agent.MinExplorationRate = defaults.MinExplorationRate
	}
	if agent.UpdateFrequency == 0 {
		agent.UpdateFrequency = defaults.UpdateFrequency
	}
	if agent.DecayCadence == "" {
		agent.DecayCadence = defaults.DecayCadence
	}
	if agent.RewardWeights == nil {
		agent.RewardWeights = defaults.RewardWeights
	}
	return agent
}

// AgentType builds the registration record for an agent type id using the
// per-agent config, or the defaults when none exists.
func (c *Config) AgentType(id string) rl.AgentType {
	agent, ok := c.Agents[id]
	if !ok {
		agent = c.Defaults
	}
	return rl.AgentType{
		ID:                 id,
		LearningRate:       agent.LearningRate,
		DiscountFactor:     agent.DiscountFactor,
		ExplorationRate:    agent.ExplorationRate,
		ExplorationDecay:   agent.ExplorationDecay,
		MinExplorationRate: agent.MinExplorationRate,
	}
}

// ParsedMode returns the configured operating mode.
func (c *Config) ParsedMode() rl.Mode {
	return rl.ParseMode(c.Mode)
}
