// Package config loads the service configuration: a YAML file overlaid
// with environment variables. SHEEP_AGENT_ID (or AGENT_ID) selects the
// agent, HOME locates the store root, PORT the HTTP port.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	AgentID string `yaml:"agentId"`
	Home    string `yaml:"home"`
	Port    int    `yaml:"port"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Memory    MemoryConfig    `yaml:"memory"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
}

// EmbeddingConfig configures the optional embedding provider.
type EmbeddingConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
}

// SchedulerConfig tunes consolidation triggers.
type SchedulerConfig struct {
	IdleThresholdMs int    `yaml:"idleThresholdMs"`
	MinIntervalMs   int    `yaml:"minIntervalMs"`
	CronSpec        string `yaml:"cronSpec"`
}

// MemoryConfig tunes the pipeline and limits.
type MemoryConfig struct {
	MaxEpisodesPerRun int     `yaml:"maxEpisodesPerRun"`
	MinRetentionScore float64 `yaml:"minRetentionScore"`
	EnableSleep       *bool   `yaml:"enableSleep"`
	MaxEpisodes       int     `yaml:"maxEpisodes"`
	MaxFacts          int     `yaml:"maxFacts"`
	MaxCausalLinks    int     `yaml:"maxCausalLinks"`
	MaxProcedures     int     `yaml:"maxProcedures"`
}

// LoggingConfig selects output level and encoding.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Defaults returns the baseline configuration before file and env
// overlays.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		AgentID: "default",
		Home:    home,
		Port:    8700,
		Scheduler: SchedulerConfig{
			IdleThresholdMs: int((30 * time.Minute).Milliseconds()),
			MinIntervalMs:   int((6 * time.Hour).Milliseconds()),
			CronSpec:        "0 3 * * *",
		},
		Memory: MemoryConfig{
			MaxEpisodesPerRun: 50,
			MinRetentionScore: 0.2,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the optional YAML file at path and applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to env overrides.
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SHEEP_AGENT_ID"); v != "" {
		cfg.AgentID = v
	} else if v := os.Getenv("AGENT_ID"); v != "" {
		cfg.AgentID = v
	}
	if v := os.Getenv("HOME"); v != "" {
		cfg.Home = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SHEEP_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SHEEP_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SHEEP_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("SHEEP_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("SHEEP_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
}

// IdleThreshold returns the idle trigger threshold as a duration.
func (c SchedulerConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdMs) * time.Millisecond
}

// MinInterval returns the minimum gap between consolidations.
func (c SchedulerConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}
