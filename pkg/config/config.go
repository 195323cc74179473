// Package config loads the daemon configuration from a YAML file and
// overlays AVATARCHAT_* environment variables. Flags, file and env merge in
// the usual order: defaults < file < env.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`

	Validation struct {
		MinLength int      `yaml:"min_length"`
		Denylist  []string `yaml:"denylist"`
	} `yaml:"validation"`

	Generator struct {
		Model string `yaml:"model"`
		// APIKey may be left empty in the file and provided via
		// AVATARCHAT_GENERATOR_API_KEY instead; config files should not
		// carry live credentials.
		APIKey    string `yaml:"api_key"`
		MaxTokens int    `yaml:"max_tokens"`
	} `yaml:"generator"`

	// Personas maps avatar id -> persona description injected as the system
	// prompt before reply generation.
	Personas map[string]string `yaml:"personas"`

	Security struct {
		// SigningKeys verify the X-User-Signature HMAC; empty disables
		// signature checking (trusted frontends only).
		SigningKeys []string `yaml:"signing_keys"`
		RPS         float64  `yaml:"rps"`
		Burst       int      `yaml:"burst"`
	} `yaml:"security"`

	Retention struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
	} `yaml:"retention"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	var c Config
	c.Server.Addr = ":8080"
	c.Logging.Level = "info"
	c.Storage.DBPath = "./data"
	c.Validation.MinLength = 4
	c.Generator.Model = "gemini-1.5-flash"
	c.Security.RPS = 5
	c.Security.Burst = 10
	c.Retention.Cron = "0 2 * * *"
	return c
}

// Load reads path (when non-empty), applies env overrides and returns the
// effective config. A missing file with an explicit path is an error; an
// empty path skips the file layer entirely.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := envStr("AVATARCHAT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := envStr("AVATARCHAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := envStr("AVATARCHAT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := envStr("AVATARCHAT_MIN_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Validation.MinLength = n
		}
	}
	if v := envStr("AVATARCHAT_DENYLIST"); v != "" {
		cfg.Validation.Denylist = splitList(v)
	}
	if v := envStr("AVATARCHAT_GENERATOR_MODEL"); v != "" {
		cfg.Generator.Model = v
	}
	if v := envStr("AVATARCHAT_GENERATOR_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
	}
	if v := envStr("AVATARCHAT_SIGNING_KEYS"); v != "" {
		cfg.Security.SigningKeys = splitList(v)
	}
	if v := envStr("AVATARCHAT_RETENTION_CRON"); v != "" {
		cfg.Retention.Cron = v
		cfg.Retention.Enabled = true
	}
}

func envStr(key string) string { return strings.TrimSpace(os.Getenv(key)) }

// splitList parses a comma-separated env value, dropping empty entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SigningKeySet returns the configured signing keys as a set.
func (c Config) SigningKeySet() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Security.SigningKeys))
	for _, k := range c.Security.SigningKeys {
		if k != "" {
			out[k] = struct{}{}
		}
	}
	return out
}
