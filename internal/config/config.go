package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// WebhookPrefix is mounted in front of every listener path when
// server.defaultPrefix is on.
const WebhookPrefix = "/webhook"

// Config is the root configuration for hookbridge.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Logging   LoggingConfig    `json:"logging" yaml:"logging"`
	Renderer  RendererConfig   `json:"renderer" yaml:"renderer"`
	Bots      []BotConfig      `json:"bots" yaml:"bots" validate:"dive"`
	Journal   JournalConfig    `json:"journal" yaml:"journal"`
	Metrics   MetricsConfig    `json:"metrics" yaml:"metrics"`
	Listeners []ListenerConfig `json:"listeners" yaml:"listeners" validate:"dive"`
}

type ServerConfig struct {
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
	DefaultPrefix bool   `json:"defaultPrefix" yaml:"defaultPrefix"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type LoggingConfig struct {
	Level       string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File        string `json:"file,omitempty" yaml:"file,omitempty"`
	PrintData   bool   `json:"printData" yaml:"printData"`     // log each decoded payload
	PrintResult bool   `json:"printResult" yaml:"printResult"` // log each rendered message
}

// RendererConfig configures text-to-image rendering through a headless browser.
type RendererConfig struct {
	Enabled                bool    `json:"enabled" yaml:"enabled"`
	RemoteURL              string  `json:"remoteURL,omitempty" yaml:"remoteURL,omitempty" validate:"omitempty,url"`
	ExecPath               string  `json:"execPath,omitempty" yaml:"execPath,omitempty"`
	TimeoutSeconds         int     `json:"timeoutSeconds" yaml:"timeoutSeconds" validate:"min=1"`
	SelectorTimeoutSeconds int     `json:"selectorTimeoutSeconds" yaml:"selectorTimeoutSeconds" validate:"min=1"`
	AssetTimeoutSeconds    int     `json:"assetTimeoutSeconds" yaml:"assetTimeoutSeconds" validate:"min=1"`
	ViewportWidth          int     `json:"viewportWidth" yaml:"viewportWidth" validate:"min=100"`
	ViewportHeight         int     `json:"viewportHeight" yaml:"viewportHeight" validate:"min=100"`
	DeviceScale            float64 `json:"deviceScale" yaml:"deviceScale" validate:"gt=0,lte=4"`
	Margin                 int     `json:"margin" yaml:"margin" validate:"min=0"`
	EmojiBaseURL           string  `json:"emojiBaseURL" yaml:"emojiBaseURL" validate:"required,url"`
}

// BotConfig describes one chat bot session.
type BotConfig struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Platform    string `json:"platform" yaml:"platform" validate:"required,oneof=telegram discord slack"`
	Token       string `json:"token" yaml:"token" validate:"required"`
	APIEndpoint string `json:"apiEndpoint,omitempty" yaml:"apiEndpoint,omitempty"` // Telegram Bot API or Slack Web API base
	Enabled     *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`         // nil means enabled
}

// IsEnabled reports whether the bot should be connected.
func (b BotConfig) IsEnabled() bool { return b.Enabled == nil || *b.Enabled }

type JournalConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Path          string `json:"path" yaml:"path" validate:"required_if=Enabled true"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays" validate:"min=1"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"required,startswith=/"`
}

// ListenerConfig binds one webhook route to a template and its destinations.
type ListenerConfig struct {
	URL            string            `json:"url" yaml:"url" validate:"required"`
	Method         string            `json:"method" yaml:"method" validate:"oneof=get post"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	PushChannelIDs FlexStringList    `json:"pushChannelIds" yaml:"pushChannelIds"`
	PushPrivateIDs FlexStringList    `json:"pushPrivateIds" yaml:"pushPrivateIds"`
	Msg            string            `json:"msg" yaml:"msg"`
	Secret         string            `json:"secret,omitempty" yaml:"secret,omitempty"` // HMAC-SHA256 key for X-Signature-256
}

// Path returns the HTTP path the listener is mounted on.
func (l ListenerConfig) Path(defaultPrefix bool) string {
	p := l.URL
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if defaultPrefix {
		p = WebhookPrefix + p
	}
	return p
}

// FlexStringList is a []string that also accepts numbers and a single scalar.
// Chat ids are often written as bare numbers.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*f = nil
	case []any:
		result := make(FlexStringList, 0, len(v))
		for _, item := range v {
			s, err := flexString(item)
			if err != nil {
				return err
			}
			result = append(result, s)
		}
		*f = result
	default:
		s, err := flexString(v)
		if err != nil {
			return err
		}
		*f = FlexStringList{s}
	}
	return nil
}

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*f = nil
			return nil
		}
		*f = FlexStringList{node.Value}
	case yaml.SequenceNode:
		result := make(FlexStringList, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected an id, got a nested value", item.Line)
			}
			result = append(result, item.Value)
		}
		*f = result
	default:
		return fmt.Errorf("line %d: expected an id or a list of ids", node.Line)
	}
	return nil
}

func flexString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	default:
		return "", fmt.Errorf("expected string or number, got %T", v)
	}
}

// DefaultConfigDir returns the default config directory (~/.hookbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hookbridge"
	}
	return filepath.Join(home, ".hookbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads, expands, defaults and validates the config at path.
// A .env file next to the config is loaded first; it never overrides
// variables already set in the environment.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("cannot load %s: %w", envFile, err)
		}
	}

	cfg, err := Parse(path, []byte(ExpandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Parse decodes data over Defaults() and normalizes it. The format follows
// the file extension of name: YAML for .yaml/.yml, JSON otherwise.
func Parse(name string, data []byte) (*Config, error) {
	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", name, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", name, err)
		}
	}
	cfg.normalize()
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	cfg.Journal.Path = ExpandPath(cfg.Journal.Path)
	cfg.Renderer.ExecPath = ExpandPath(cfg.Renderer.ExecPath)
	cfg.Renderer.EmojiBaseURL = strings.TrimRight(cfg.Renderer.EmojiBaseURL, "/")
	for i := range cfg.Bots {
		cfg.Bots[i].Platform = strings.ToLower(strings.TrimSpace(cfg.Bots[i].Platform))
	}
	for i := range cfg.Listeners {
		l := &cfg.Listeners[i]
		l.Method = strings.ToLower(strings.TrimSpace(l.Method))
		if l.Method == "" {
			l.Method = "post"
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match // keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as YAML or JSON depending on the extension of path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct constraints and cross-field rules, reporting every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}

	seenBots := make(map[string]bool)
	for i, b := range cfg.Bots {
		if b.Name == "" {
			continue
		}
		if seenBots[b.Name] {
			errs = append(errs, fmt.Sprintf("bots[%d]: duplicate bot name %q", i, b.Name))
		}
		seenBots[b.Name] = true
	}

	seenRoutes := make(map[string]int)
	for i, l := range cfg.Listeners {
		if l.URL == "" {
			continue
		}
		key := l.Method + " " + l.Path(cfg.Server.DefaultPrefix)
		if prev, ok := seenRoutes[key]; ok {
			errs = append(errs, fmt.Sprintf("listeners[%d]: %s already declared by listeners[%d]", i, key, prev))
			continue
		}
		seenRoutes[key] = i
		if l.Path(cfg.Server.DefaultPrefix) == "/health" ||
			(cfg.Metrics.Enabled && l.Path(cfg.Server.DefaultPrefix) == cfg.Metrics.Endpoint) {
			errs = append(errs, fmt.Sprintf("listeners[%d]: path %s is reserved", i, l.Path(cfg.Server.DefaultPrefix)))
		}
		if l.Method == "get" && l.Secret != "" {
			errs = append(errs, fmt.Sprintf("listeners[%d]: secret requires method post", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_if":
		return field + " is required when enabled"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got %q)", field, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", field, fe.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, fe.Param())
	case "url":
		return field + " must be a URL"
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
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
