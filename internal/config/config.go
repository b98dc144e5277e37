package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for transcribebot.
type Config struct {
	General       GeneralConfig       `yaml:"general" toml:"general"`
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Twilio        TwilioConfig        `yaml:"twilio" toml:"twilio"`
	Transcription TranscriptionConfig `yaml:"transcription" toml:"transcription"`
	Media         MediaConfig         `yaml:"media" toml:"media"`
	Processing    ProcessingConfig    `yaml:"processing" toml:"processing"`
	Messages      MessagesConfig      `yaml:"messages" toml:"messages"`
	Audit         AuditConfig         `yaml:"audit" toml:"audit"`
	Metrics       MetricsConfig       `yaml:"metrics" toml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `yaml:"logLevel" toml:"logLevel"`
	LogFile  string `yaml:"logFile,omitempty" toml:"logFile,omitempty"` // optional, tees logs to this file
	Debug    bool   `yaml:"debug" toml:"debug"`
}

type ServerConfig struct {
	Host        string `yaml:"host" toml:"host"`
	Port        int    `yaml:"port" toml:"port"`
	WebhookPath string `yaml:"webhookPath" toml:"webhookPath"`

	// MaxConnections caps concurrent client connections; 0 means unlimited.
	MaxConnections int `yaml:"maxConnections" toml:"maxConnections"`

	// PublicBaseURL is the externally visible scheme://host the platform
	// signs against. Empty means reconstruct it from the request.
	PublicBaseURL string `yaml:"publicBaseUrl,omitempty" toml:"publicBaseUrl,omitempty"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"accountSid" toml:"accountSid"`
	AuthToken  string `yaml:"authToken" toml:"authToken"`
	From       string `yaml:"from" toml:"from"`
	Channel    string `yaml:"channel" toml:"channel"` // address scheme prefix, e.g. "whatsapp"
}

// Configured reports whether outbound API credentials are present.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != ""
}

type TranscriptionConfig struct {
	Engine        string   `yaml:"engine" toml:"engine"` // "whisper-api" | "command"
	APIBase       string   `yaml:"apiBase,omitempty" toml:"apiBase,omitempty"`
	APIKey        string   `yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	Model         string   `yaml:"model" toml:"model"`
	Language      string   `yaml:"language,omitempty" toml:"language,omitempty"`
	Command       []string `yaml:"command,omitempty" toml:"command,omitempty"` // argv with {input}, {model}, {language}
	MaxConcurrent int      `yaml:"maxConcurrent" toml:"maxConcurrent"`
}

type MediaConfig struct {
	TempDir             string `yaml:"tempDir,omitempty" toml:"tempDir,omitempty"`
	FetchTimeoutSeconds int    `yaml:"fetchTimeoutSeconds" toml:"fetchTimeoutSeconds"`
	ChunkSize           int    `yaml:"chunkSize" toml:"chunkSize"`
	MaxBytes            int64  `yaml:"maxBytes" toml:"maxBytes"` // 0 = unlimited
}

type ProcessingConfig struct {
	AsyncReply bool `yaml:"asyncReply" toml:"asyncReply"`
	Workers    int  `yaml:"workers" toml:"workers"`
	QueueSize  int  `yaml:"queueSize" toml:"queueSize"`
}

// MessagesConfig holds the fixed reply texts.
type MessagesConfig struct {
	Help         string `yaml:"help" toml:"help"`
	NotAudio     string `yaml:"notAudio" toml:"notAudio"`
	Processing   string `yaml:"processing" toml:"processing"`
	Error        string `yaml:"error" toml:"error"`
	NoTranscript string `yaml:"noTranscript" toml:"noTranscript"`
}

type AuditConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	DBPath        string `yaml:"dbPath" toml:"dbPath"`
	RetentionDays int    `yaml:"retentionDays" toml:"retentionDays"` // 0 keeps events forever
	PruneSchedule string `yaml:"pruneSchedule" toml:"pruneSchedule"` // cron spec, e.g. "@hourly"
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultConfigDir returns the default config directory (~/.transcribebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".transcribebot"
	}
	return filepath.Join(home, ".transcribebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the config file at path (if any), applies environment overrides
// and validates the result. Files ending in .toml are parsed as TOML,
// anything else as YAML. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.Media.TempDir = ExpandPath(cfg.Media.TempDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decode(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnv overrides cfg from the environment variables the service has
// always accepted (ACCOUNT_SID, AUTH_TOKEN, FROM, MODEL_NAME, PORT, DEBUG,
// ASYNC_REPLY) plus the transcription engine settings.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("ACCOUNT_SID", &cfg.Twilio.AccountSID)
	str("AUTH_TOKEN", &cfg.Twilio.AuthToken)
	str("FROM", &cfg.Twilio.From)
	str("MODEL_NAME", &cfg.Transcription.Model)
	str("TRANSCRIPTION_ENGINE", &cfg.Transcription.Engine)
	str("TRANSCRIPTION_API_BASE", &cfg.Transcription.APIBase)
	str("TRANSCRIPTION_API_KEY", &cfg.Transcription.APIKey)
	str("PUBLIC_BASE_URL", &cfg.Server.PublicBaseURL)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("DEBUG"); ok && v != "" {
		cfg.General.Debug = parseFlag(v)
	}
	if v, ok := lookup("ASYNC_REPLY"); ok && v != "" {
		cfg.Processing.AsyncReply = parseFlag(v)
	}
	return nil
}

func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := Marshal(path, cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Marshal encodes cfg in the format implied by path's extension.
func Marshal(path string, cfg *Config) ([]byte, error) {
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("cannot marshal config: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	return data, nil
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if cfg.Server.PublicBaseURL != "" {
		u, err := url.Parse(cfg.Server.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "server.publicBaseUrl must be an absolute URL")
		}
	}
	if cfg.Server.MaxConnections < 0 {
		errs = append(errs, "server.maxConnections must be >= 0")
	}

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Transcription.Engine {
	case "whisper-api":
	case "command":
		if len(cfg.Transcription.Command) == 0 {
			errs = append(errs, "transcription.command is required for the command engine")
		}
	default:
		errs = append(errs, "transcription.engine must be one of: whisper-api, command")
	}
	if cfg.Transcription.MaxConcurrent < 1 || cfg.Transcription.MaxConcurrent > 64 {
		errs = append(errs, "transcription.maxConcurrent must be between 1 and 64")
	}

	if cfg.Media.FetchTimeoutSeconds < 1 {
		errs = append(errs, "media.fetchTimeoutSeconds must be >= 1")
	}
	if cfg.Media.ChunkSize < 512 {
		errs = append(errs, "media.chunkSize must be >= 512")
	}
	if cfg.Media.MaxBytes < 0 {
		errs = append(errs, "media.maxBytes must be >= 0")
	}

	if cfg.Processing.Workers < 1 || cfg.Processing.Workers > 256 {
		errs = append(errs, "processing.workers must be between 1 and 256")
	}
	if cfg.Processing.QueueSize < 0 {
		errs = append(errs, "processing.queueSize must be >= 0")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retentionDays must be >= 0")
	}
	if cfg.Audit.Enabled && cfg.Audit.RetentionDays > 0 {
		if _, err := cron.ParseStandard(cfg.Audit.PruneSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("audit.pruneSchedule is not a valid cron spec: %v", err))
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
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
