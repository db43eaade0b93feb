package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/teleprompt/teleprompt/pkg/sites"
)

type Config struct {
	Server  ServerConfig  `json:"server"`
	Relay   RelayConfig   `json:"relay"`
	Agent   AgentConfig   `json:"agent"`
	Sites   []sites.Rule  `json:"target_selectors"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig configures the relay server binary.
type ServerConfig struct {
	Host         string `json:"host" env:"TELEPROMPT_SERVER_HOST"`
	Port         int    `json:"port" env:"TELEPROMPT_SERVER_PORT"`
	APIKey       string `json:"api_key" env:"TELEPROMPT_SERVER_API_KEY"`
	MaxBodyBytes int64  `json:"max_body_bytes" env:"TELEPROMPT_SERVER_MAX_BODY_BYTES"`

	// Optional janitor: cron schedule plus max payload age in minutes. Both
	// must be set for the sweep to run; by default an undrained payload is
	// held forever.
	ExpirySchedule    string `json:"expiry_schedule" env:"TELEPROMPT_SERVER_EXPIRY_SCHEDULE"`
	MaxPayloadAgeMins int    `json:"max_payload_age_minutes" env:"TELEPROMPT_SERVER_MAX_PAYLOAD_AGE_MINUTES"`
}

// RelayConfig is the client-side view of the relay server.
type RelayConfig struct {
	URL            string `json:"url" env:"TELEPROMPT_RELAY_URL"`
	APIKey         string `json:"api_key" env:"TELEPROMPT_RELAY_API_KEY"`
	Proxy          string `json:"proxy,omitempty" env:"TELEPROMPT_RELAY_PROXY"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"TELEPROMPT_RELAY_TIMEOUT_SECONDS"`
}

// AgentConfig configures the local agent: the poll cadence and the bridge
// endpoint browser tabs connect to.
type AgentConfig struct {
	PollIntervalMS int          `json:"poll_interval_ms" env:"TELEPROMPT_AGENT_POLL_INTERVAL_MS"`
	StatePath      string       `json:"state_path" env:"TELEPROMPT_AGENT_STATE_PATH"`
	Bridge         BridgeConfig `json:"bridge"`
}

type BridgeConfig struct {
	Host string `json:"host" env:"TELEPROMPT_AGENT_BRIDGE_HOST"`
	Port int    `json:"port" env:"TELEPROMPT_AGENT_BRIDGE_PORT"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"TELEPROMPT_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"TELEPROMPT_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"TELEPROMPT_LOGGING_FILE_PATH"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5858,
			APIKey:       "",
			MaxBodyBytes: 20 * 1024 * 1024,
		},
		Relay: RelayConfig{
			URL:            "http://localhost:5858",
			APIKey:         "",
			TimeoutSeconds: 15,
		},
		Agent: AgentConfig{
			PollIntervalMS: 1000,
			StatePath:      "~/.teleprompt/state/receiving_tabs.json",
			Bridge: BridgeConfig{
				Host: "127.0.0.1",
				Port: 5859,
			},
		},
		Sites: sites.DefaultRules(),
		Logging: LoggingConfig{
			Level:       "INFO",
			FileEnabled: false,
			FilePath:    "~/.teleprompt/teleprompt.log",
		},
	}
}

// LoadConfig layers the JSON file at path (if present) and then environment
// variables over the defaults. API keys may reference environment variables
// as "$NAME" or "${NAME}".
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envErr := env.Parse(cfg); envErr != nil {
				return nil, envErr
			}
			resolveKeyRefs(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	resolveKeyRefs(cfg)

	return cfg, nil
}

func resolveKeyRefs(cfg *Config) {
	cfg.Server.APIKey = resolveEnvRef(cfg.Server.APIKey)
	cfg.Relay.APIKey = resolveEnvRef(cfg.Relay.APIKey)
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		key := strings.TrimSpace(s[1:])
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
	}
	return v
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// StatePath returns the registry state path with "~" expanded.
func (c *Config) StatePath() string {
	return ExpandHome(c.Agent.StatePath)
}

// DefaultPath is the config file location used by all three binaries.
func DefaultPath() string {
	return ExpandHome("~/.teleprompt/config.json")
}

func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	// Only "~" and "~/..." expand; "~user" forms pass through untouched.
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return home + path[1:]
	}
	return path
}
