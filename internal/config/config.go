package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay.
type Config struct {
	General     GeneralConfig     `json:"general" yaml:"general"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	WhatsApp    WhatsAppConfig    `json:"whatsapp" yaml:"whatsapp"`
	Forward     ForwardConfig     `json:"forward" yaml:"forward"`
	Dedup       DedupConfig       `json:"dedup" yaml:"dedup"`
	Diagnostics DiagnosticsConfig `json:"diagnostics" yaml:"diagnostics"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// WhatsAppConfig holds platform credentials and Graph API coordinates. Every
// field may be left empty; endpoints needing a missing value answer an
// explicit "not configured" error instead of the process failing at startup.
type WhatsAppConfig struct {
	VerifyToken       string `json:"verifyToken" yaml:"verifyToken"`
	AccessToken       string `json:"accessToken" yaml:"accessToken"`
	AppSecret         string `json:"appSecret,omitempty" yaml:"appSecret,omitempty"`
	PhoneNumberID     string `json:"phoneNumberId" yaml:"phoneNumberId"`
	BusinessAccountID string `json:"businessAccountId,omitempty" yaml:"businessAccountId,omitempty"`
	GraphBaseURL      string `json:"graphBaseUrl,omitempty" yaml:"graphBaseUrl,omitempty"`
	GraphVersion      string `json:"graphVersion,omitempty" yaml:"graphVersion,omitempty"`
}

type ForwardConfig struct {
	MessagesURL    string `json:"messagesUrl" yaml:"messagesUrl"`
	StatusesURL    string `json:"statusesUrl" yaml:"statusesUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

// DedupConfig configures the advisory duplicate filter. TTLMinutes == 0 keeps
// identifiers for the process lifetime; DBPath switches to the persistent
// SQLite tracker.
type DedupConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	TTLMinutes int    `json:"ttlMinutes,omitempty" yaml:"ttlMinutes,omitempty"`
	DBPath     string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"`
}

type DiagnosticsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.warelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warelay"
	}
	return filepath.Join(home, ".warelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON, or YAML when the extension is .yaml/.yml),
// expands ${VAR} references from the environment, applies defaults for
// absent keys, and validates the result.
func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.Dedup.DBPath = ExpandPath(cfg.Dedup.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks structural values only. Missing credentials are legal:
// endpoints that need them answer an explicit error instead of the process
// refusing to start.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.Forward.TimeoutSeconds < 0 {
		errs = append(errs, "forward.timeoutSeconds must be >= 0")
	}
	if cfg.Dedup.TTLMinutes < 0 {
		errs = append(errs, "dedup.ttlMinutes must be >= 0")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
