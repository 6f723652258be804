// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/promptbuilder/internal/tokens"
	"github.com/jeranaias/promptbuilder/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete promptbuilder configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server  ServerConfig  `toml:"server" json:"server"`
	Ollama  OllamaConfig  `toml:"ollama" json:"ollama"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Session SessionConfig `toml:"session" json:"session"`
	Auth    AuthConfig    `toml:"auth" json:"auth"`
	Client  ClientConfig  `toml:"client" json:"client"`
	Tokens  TokensConfig  `toml:"tokens" json:"tokens"`
	UI      UIConfig      `toml:"ui" json:"ui"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Listen is the host:port the server binds.
	Listen string `toml:"listen" json:"listen"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`

	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`

	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes"`
}

// OllamaConfig configures the upstream model server.
type OllamaConfig struct {
	URL          string `toml:"url" json:"url"`
	TimeoutSecs  int    `toml:"timeout_secs" json:"timeout_secs"`
	DefaultModel string `toml:"default_model" json:"default_model"`
}

// StorageConfig selects where conversations live.
type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend    string `toml:"backend" json:"backend"`
	Dir        string `toml:"dir" json:"dir"`
	SQLitePath string `toml:"sqlite_path" json:"sqlite_path"`
}

// SessionConfig holds the reconciler's debounce windows.
type SessionConfig struct {
	SaveDebounceMs  int `toml:"save_debounce_ms" json:"save_debounce_ms"`
	TokenDebounceMs int `toml:"token_debounce_ms" json:"token_debounce_ms"`
}

// AuthConfig configures server-side authentication.
type AuthConfig struct {
	Enabled         bool   `toml:"enabled" json:"enabled"`
	UsersFile       string `toml:"users_file" json:"users_file"`
	SessionTTLHours int    `toml:"session_ttl_hours" json:"session_ttl_hours"`
}

// ClientConfig is used by commands that talk to a remote server.
type ClientConfig struct {
	ServerURL string `toml:"server_url" json:"server_url"`
	Token     string `toml:"token" json:"token"`
}

// TokensConfig configures token estimation.
type TokensConfig struct {
	// DefaultEncoding is used for models with no known tokenizer family.
	DefaultEncoding string `toml:"default_encoding" json:"default_encoding"`
}

// UIConfig configures the terminal interface.
type UIConfig struct {
	NoColor  bool `toml:"no_color" json:"no_color"`
	Markdown bool `toml:"markdown" json:"markdown"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := DataDir()
	return &Config{
		Version: "1",

		Server: ServerConfig{
			Listen:       "127.0.0.1:3001",
			CORSOrigins:  []string{"http://localhost:5173"},
			RateLimit:    10,
			RateBurst:    50,
			MaxBodyBytes: 4 * 1024 * 1024,
		},

		Ollama: OllamaConfig{
			URL:          "http://127.0.0.1:11434",
			TimeoutSecs:  30,
			DefaultModel: "llama3",
		},

		Storage: StorageConfig{
			Backend:    "file",
			Dir:        filepath.Join(dataDir, "conversations"),
			SQLitePath: filepath.Join(dataDir, "promptbuilder.db"),
		},

		Session: SessionConfig{
			SaveDebounceMs:  500,
			TokenDebounceMs: 2000,
		},

		Auth: AuthConfig{
			Enabled:         false,
			UsersFile:       filepath.Join(dataDir, "users.json"),
			SessionTTLHours: 24,
		},

		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:3001",
		},

		Tokens: TokensConfig{
			DefaultEncoding: tokens.DefaultEncoding,
		},

		UI: UIConfig{
			Markdown: true,
		},
	}
}

// SaveDelay returns the save debounce window.
func (c *Config) SaveDelay() time.Duration {
	return time.Duration(c.Session.SaveDebounceMs) * time.Millisecond
}

// TokenDelay returns the token estimate debounce window.
func (c *Config) TokenDelay() time.Duration {
	return time.Duration(c.Session.TokenDebounceMs) * time.Millisecond
}

// OllamaTimeout returns the timeout for non-streaming Ollama calls.
func (c *Config) OllamaTimeout() time.Duration {
	return time.Duration(c.Ollama.TimeoutSecs) * time.Second
}

// SessionTTL returns the auth session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLHours) * time.Hour
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// DataDir returns ~/.promptbuilder, or a relative .promptbuilder when the
// home directory is unknown. PB_DATA_DIR overrides it.
func DataDir() string {
	if dir := os.Getenv("PB_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptbuilder"
	}
	return filepath.Join(home, ".promptbuilder")
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() string {
	return filepath.Join(DataDir(), "config.toml")
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() string {
	return filepath.Join(DataDir(), "config.json")
}

// ensureSecurePermissions tightens a config file to 0600; it may hold a token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file. TOML is tried first, then JSON, then
// built-in defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	for _, path := range []string{ConfigPathTOML(), ConfigPathJSON()} {
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads configuration from a specific file. The format follows
// the extension; anything but .json is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	var err error
	if strings.HasSuffix(path, ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Version == "" {
		cfg.Version = d.Version
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = d.Server.Listen
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = d.Server.CORSOrigins
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = d.Server.RateBurst
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}

	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = d.Ollama.URL
	}
	if cfg.Ollama.TimeoutSecs == 0 {
		cfg.Ollama.TimeoutSecs = d.Ollama.TimeoutSecs
	}
	if cfg.Ollama.DefaultModel == "" {
		cfg.Ollama.DefaultModel = d.Ollama.DefaultModel
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = d.Storage.Dir
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = d.Storage.SQLitePath
	}

	if cfg.Session.SaveDebounceMs == 0 {
		cfg.Session.SaveDebounceMs = d.Session.SaveDebounceMs
	}
	if cfg.Session.TokenDebounceMs == 0 {
		cfg.Session.TokenDebounceMs = d.Session.TokenDebounceMs
	}

	if cfg.Auth.UsersFile == "" {
		cfg.Auth.UsersFile = d.Auth.UsersFile
	}
	if cfg.Auth.SessionTTLHours == 0 {
		cfg.Auth.SessionTTLHours = d.Auth.SessionTTLHours
	}

	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = d.Client.ServerURL
	}

	if cfg.Tokens.DefaultEncoding == "" {
		cfg.Tokens.DefaultEncoding = d.Tokens.DefaultEncoding
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	return SaveTOML(cfg, ConfigPathTOML())
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# promptbuilder configuration file")
	fmt.Fprintln(&buf, "# Environment variables PB_* override these values.")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if _, port, err := net.SplitHostPort(c.Server.Listen); err != nil {
		add("server.listen", "invalid address '%s': %v", c.Server.Listen, err)
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		add("server.listen", "invalid port '%s'", port)
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "cannot be negative")
	}
	if c.Server.RateBurst < 0 {
		add("server.rate_burst", "cannot be negative")
	}
	if c.Server.MaxBodyBytes < 0 {
		add("server.max_body_bytes", "cannot be negative")
	}

	// Ollama
	validateURL(c.Ollama.URL, "ollama.url", add)
	if c.Ollama.TimeoutSecs < 0 {
		add("ollama.timeout_secs", "cannot be negative")
	}

	// Storage
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite", c.Storage.Backend)
	}

	// Session
	if c.Session.SaveDebounceMs < 0 || c.Session.SaveDebounceMs > 60000 {
		add("session.save_debounce_ms", "must be between 0 and 60000")
	}
	if c.Session.TokenDebounceMs < 0 || c.Session.TokenDebounceMs > 60000 {
		add("session.token_debounce_ms", "must be between 0 and 60000")
	}

	// Auth
	if c.Auth.Enabled && c.Auth.UsersFile == "" {
		add("auth.users_file", "required when auth is enabled")
	}
	if c.Auth.SessionTTLHours < 0 {
		add("auth.session_ttl_hours", "cannot be negative")
	}

	// Client
	validateURL(c.Client.ServerURL, "client.server_url", add)

	// Tokens
	if !tokens.ValidEncoding(c.Tokens.DefaultEncoding) {
		add("tokens.default_encoding", "unknown encoding '%s'", c.Tokens.DefaultEncoding)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw, field string, add func(string, string, ...any)) {
	u, err := url.Parse(raw)
	if err != nil {
		add(field, "invalid URL: %v", err)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		add(field, "URL scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		add(field, "URL has no host")
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PB_LISTEN: overrides server.listen
//   - PB_OLLAMA_URL: overrides ollama.url
//   - PB_MODEL: overrides ollama.default_model
//   - PB_STORAGE: overrides storage.backend
//   - PB_DATA_DIR: moves storage and the users file under this directory
//   - PB_SERVER_URL: overrides client.server_url
//   - PB_TOKEN: overrides client.token
//   - PB_AUTH: set to "1" or "true" to enable auth
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PB_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("PB_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("PB_MODEL"); v != "" {
		c.Ollama.DefaultModel = v
	}
	if v := os.Getenv("PB_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("PB_DATA_DIR"); v != "" {
		c.Storage.Dir = filepath.Join(v, "conversations")
		c.Storage.SQLitePath = filepath.Join(v, "promptbuilder.db")
		c.Auth.UsersFile = filepath.Join(v, "users.json")
	}
	if v := os.Getenv("PB_SERVER_URL"); v != "" {
		c.Client.ServerURL = v
	}
	if v := os.Getenv("PB_TOKEN"); v != "" {
		c.Client.Token = v
	}
	if v := os.Getenv("PB_AUTH"); v != "" {
		c.Auth.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "server.listen").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the TOML tag names of key's parts.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i], "."))
		}
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if s, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(s)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(b)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(s, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		name, _, _ := strings.Cut(section.Tag.Get("toml"), ",")
		if section.Type.Kind() != reflect.Struct {
			keys = append(keys, name)
			continue
		}
		for j := 0; j < section.Type.NumField(); j++ {
			field, _, _ := strings.Cut(section.Type.Field(j).Tag.Get("toml"), ",")
			keys = append(keys, name+"."+field)
		}
	}
	return keys
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.CORSOrigins != nil {
		clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	}
	return &clone
}

// String returns the config as JSON with the client token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Client.Token != "" {
		safe.Client.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
