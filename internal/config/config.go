// Package config handles loading and validating the chatrelay configuration.
// Config is stored at ~/.chatrelay/chatrelay.json (JSON with comments tolerated).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the top-level chatrelay configuration.
type Config struct {
	Server    ServerConfig              `json:"server"`
	Providers map[string]ProviderConfig `json:"providers"`
	Models    ModelsConfig              `json:"models"`
	Tools     ToolsConfig               `json:"tools"`
	Store     StoreConfig               `json:"store"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int    `json:"port"`
	Bind string `json:"bind"` // "loopback" or "all"
	Mode string `json:"mode"` // "local" or "production"
}

// ProviderConfig represents an upstream model provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
}

// ModelOption describes one selectable model.
type ModelOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Provider string `json:"provider,omitempty"`
}

// ModelsConfig configures the model catalog.
type ModelsConfig struct {
	Default string        `json:"default"`
	Catalog []ModelOption `json:"catalog"`
	Local   []string      `json:"local"` // models served by the local endpoint
}

// ToolsConfig configures built-in tool credentials.
type ToolsConfig struct {
	BraveAPIKey string `json:"braveApiKey"`
}

// StoreConfig configures the transcript store.
type StoreConfig struct {
	Path string `json:"path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3000,
			Bind: "loopback",
		},
		Models: ModelsConfig{
			Default: "gpt-4.1-mini",
			Catalog: []ModelOption{
				{Value: "gpt-4.1-mini", Label: "GPT-4.1 Mini", Provider: "openai"},
				{Value: "claude-4.5-sonnet", Label: "Claude 4.5 Sonnet", Provider: "anthropic"},
				{Value: "gemini-2.0-flash", Label: "Gemini 2.0 Flash", Provider: "google"},
				{Value: "huihui-gpt-oss-20b-abliterated", Label: "GPT OSS 20B Abliterated", Provider: "lmstudio"},
			},
			Local: []string{"huihui-gpt-oss-20b-abliterated"},
		},
		Store: StoreConfig{
			Path: filepath.Join(ConfigDir(), "conversations.db"),
		},
	}
}

// ConfigDir returns the chatrelay config directory (~/.chatrelay).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatrelay"
	}
	return filepath.Join(home, ".chatrelay")
}

// ConfigPath returns the path to the main config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "chatrelay.json")
}

// Load reads and parses the config from disk.
// If the config file doesn't exist, it returns defaults.
func Load() (*Config, error) {
	cfg := Default()

	configPath := ConfigPath()
	if envPath := os.Getenv("CHATRELAY_CONFIG"); envPath != "" {
		configPath = envPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	clean := preprocessJSONLike(string(data))
	if err := json.Unmarshal([]byte(clean), cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg *Config) error {
	path := ConfigPath()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// KnownModel reports whether a model value is present in the catalog.
func (c *Config) KnownModel(model string) bool {
	for _, m := range c.Models.Catalog {
		if m.Value == model {
			return true
		}
	}
	return false
}

// LocalModel reports whether a model is served by the local endpoint.
func (c *Config) LocalModel(model string) bool {
	for _, m := range c.Models.Local {
		if m == model {
			return true
		}
	}
	return false
}

// Provider returns the configuration for a named provider.
func (c *Config) Provider(name string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[strings.ToLower(strings.TrimSpace(name))]
}

// applyEnvOverrides merges environment variables into configuration.
func applyEnvOverrides(cfg *Config) {
	setKey := func(provider, key string) {
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		p := cfg.Providers[provider]
		p.APIKey = key
		cfg.Providers[provider] = p
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		setKey("openai", v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		setKey("anthropic", v)
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		setKey("google", v)
	}
	if v := os.Getenv("LMSTUDIO_BASE_URL"); v != "" {
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		p := cfg.Providers["lmstudio"]
		p.BaseURL = v
		cfg.Providers["lmstudio"] = p
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" {
		cfg.Tools.BraveAPIKey = v
	}
	if v := os.Getenv("CHATRELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHATRELAY_DB"); v != "" {
		cfg.Store.Path = v
	}
}

var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// preprocessJSONLike strips // and /* */ comments plus trailing commas so a
// hand-edited config file still parses as JSON.
func preprocessJSONLike(input string) string {
	s := input
	for {
		start := strings.Index(s, "/*")
		if start < 0 {
			break
		}
		end := strings.Index(s[start+2:], "*/")
		if end < 0 {
			s = s[:start]
			break
		}
		end += start + 2
		s = s[:start] + s[end+2:]
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		inString := false
		escape := false
		for j := 0; j < len(line)-1; j++ {
			ch := line[j]
			if ch == '\\' && inString {
				escape = !escape
				continue
			}
			if ch == '"' && !escape {
				inString = !inString
			}
			escape = false
			if !inString && ch == '/' && line[j+1] == '/' {
				line = line[:j]
				break
			}
		}
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s
}
