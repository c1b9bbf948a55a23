package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Load loads config from the default path (~/.relaybot/config.json).
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromFile(filepath.Join(home, ".relaybot", "config.json"))
}

// LoadFromFile loads config from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader loads config from an io.Reader, applying defaults and env overrides.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	if err := json.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	expandHomePaths(cfg)

	if cfg.Cron.RunLogDir == "" {
		cfg.Cron.RunLogDir = filepath.Join(filepath.Dir(cfg.Cron.StorePath), "runs")
	}

	return cfg, nil
}

// applyEnvOverrides applies RELAYBOT_-prefixed environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]*string{
		"RELAYBOT_PROVIDERS_OPENAI_APIKEY":    &cfg.Providers.OpenAI.APIKey,
		"RELAYBOT_PROVIDERS_ANTHROPIC_APIKEY": &cfg.Providers.Anthropic.APIKey,
		"RELAYBOT_PROVIDERS_CUSTOM_APIKEY":    &cfg.Providers.Custom.APIKey,
		"RELAYBOT_WORKSPACE":                  &cfg.Workspace,
		"RELAYBOT_HEARTBEAT_MODEL":            &cfg.Heartbeat.Model,
		"RELAYBOT_CRON_STOREPATH":             &cfg.Cron.StorePath,
		"RELAYBOT_CRON_WEBHOOK_URL":           &cfg.Cron.Webhook.URL,
		"RELAYBOT_CRON_WEBHOOK_TOKEN":         &cfg.Cron.Webhook.Token,
	}

	for env, ptr := range envMap {
		if val := os.Getenv(env); val != "" {
			*ptr = val
		}
	}
}

// expandHomePaths expands a leading ~ in path-valued settings.
func expandHomePaths(cfg *Config) {
	for _, p := range []*string{&cfg.Workspace, &cfg.Cron.StorePath, &cfg.Cron.RunLogDir} {
		*p = expandHome(*p)
	}
}

func expandHome(path string) string {
	if len(path) >= 2 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
