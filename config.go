package tabchat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/stores"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TABCHAT_"

// ProviderConfig registers one completer. Kind is "anthropic", "gemini", or one of the
// OpenAI-compatible presets ("openrouter", "groq", "cerebras"). Name defaults to Kind.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Model     string `yaml:"model,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

func (p ProviderConfig) name() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Kind
}

// TraceConfig controls completion trace recording and pruning.
type TraceConfig struct {
	Enabled  bool          `yaml:"enabled"`
	MaxAge   time.Duration `yaml:"max_age,omitempty"`
	Schedule string        `yaml:"schedule,omitempty"`
}

// ToolConfig controls server-side execution of AutoExecute tool choices.
type ToolConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Workspace string `yaml:"workspace,omitempty"`
	MaxRounds int    `yaml:"max_rounds,omitempty"`
}

// HTTPConfig tunes the HTTP surface.
type HTTPConfig struct {
	CORSOrigins    []string      `yaml:"cors_origins,omitempty"`
	SendsPerMinute int           `yaml:"sends_per_minute,omitempty"`
	SendBurst      int           `yaml:"send_burst,omitempty"`
	WriteTimeout   time.Duration `yaml:"write_timeout,omitempty"`
}

// Config holds everything needed to assemble a Runtime.
type Config struct {
	Mode           string                   `yaml:"mode"`
	Address        string                   `yaml:"address"`
	HTTP           HTTPConfig               `yaml:"http"`
	Store          stores.StoreConfig       `yaml:"store"`
	NotifyInterval time.Duration            `yaml:"notify_interval"`
	Defaults       models.GenerationOptions `yaml:"defaults"`
	Providers      []ProviderConfig         `yaml:"providers"`
	Traces         TraceConfig              `yaml:"traces"`
	Tools          ToolConfig               `yaml:"tools"`
}

// NewConfig creates a configuration with default values: a local SQLite store, every
// built-in provider, and traces kept for a week.
func NewConfig() *Config {
	return &Config{
		Mode:           "development",
		Address:        ":8080",
		HTTP:           HTTPConfig{SendsPerMinute: 30, SendBurst: 5, WriteTimeout: 10 * time.Second},
		Store:          *stores.NewStoreConfig("sqlite", "tabchat.sqlite"),
		NotifyInterval: 250 * time.Millisecond,
		Defaults:       models.GenerationOptions{Provider: "anthropic"},
		Providers: []ProviderConfig{
			{Kind: "anthropic"},
			{Kind: "gemini"},
			{Kind: "openrouter"},
			{Kind: "groq"},
			{Kind: "cerebras"},
		},
		Traces: TraceConfig{Enabled: true, MaxAge: 7 * 24 * time.Hour, Schedule: stores.DefaultRetentionSchedule},
		Tools:  ToolConfig{MaxRounds: 4},
	}
}

// WithMode sets the logger mode ("production" for JSON output).
func (c *Config) WithMode(mode string) *Config {
	c.Mode = mode
	return c
}

// WithAddress sets the HTTP listen address.
func (c *Config) WithAddress(addr string) *Config {
	c.Address = addr
	return c
}

// WithCORS allows browser clients from origins.
func (c *Config) WithCORS(origins ...string) *Config {
	c.HTTP.CORSOrigins = origins
	return c
}

// WithSendRateLimit caps generation requests per tab; perMinute <= 0 disables it.
func (c *Config) WithSendRateLimit(perMinute, burst int) *Config {
	c.HTTP.SendsPerMinute = perMinute
	c.HTTP.SendBurst = burst
	return c
}

// WithStore sets the conversation store configuration.
func (c *Config) WithStore(store *stores.StoreConfig) *Config {
	c.Store = *store
	return c
}

// WithSQLiteStore stores conversations in the SQLite file at dbPath.
func (c *Config) WithSQLiteStore(dbPath string) *Config {
	return c.WithStore(stores.NewStoreConfig("sqlite", dbPath))
}

// WithPostgresStore stores conversations in PostgreSQL.
func (c *Config) WithPostgresStore(dsn string) *Config {
	return c.WithStore(stores.NewStoreConfig("postgres", dsn))
}

// WithNotifyInterval sets the streaming coalescing interval.
func (c *Config) WithNotifyInterval(d time.Duration) *Config {
	c.NotifyInterval = d
	return c
}

// WithDefaults sets the generation options of newly opened tabs.
func (c *Config) WithDefaults(opts models.GenerationOptions) *Config {
	c.Defaults = opts
	return c
}

// WithProviders replaces the registered providers.
func (c *Config) WithProviders(providers ...ProviderConfig) *Config {
	c.Providers = providers
	return c
}

// WithTraceRetention records completion traces and prunes those older than maxAge on
// schedule. A zero maxAge disables tracing.
func (c *Config) WithTraceRetention(maxAge time.Duration, schedule string) *Config {
	c.Traces = TraceConfig{Enabled: maxAge > 0, MaxAge: maxAge, Schedule: schedule}
	return c
}

// WithToolWorkspace enables server-side tools, with the file tools scoped to root.
func (c *Config) WithToolWorkspace(root string) *Config {
	c.Tools.Enabled = true
	c.Tools.Workspace = root
	return c
}

// Validate reports configuration that cannot produce a working runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Type != "sqlite" && c.Store.Type != "postgres" {
		errs = append(errs, fmt.Errorf("unsupported store type %q", c.Store.Type))
	}
	if c.Store.Connection == "" {
		errs = append(errs, errors.New("store connection is required"))
	}
	if c.NotifyInterval < 0 {
		errs = append(errs, fmt.Errorf("notify interval must not be negative, got %s", c.NotifyInterval))
	}
	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider is required"))
	}
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Kind == "" {
			errs = append(errs, errors.New("provider kind is required"))
			continue
		}
		if seen[p.name()] {
			errs = append(errs, fmt.Errorf("duplicate provider %q", p.name()))
		}
		seen[p.name()] = true
	}
	if c.Defaults.Provider != "" && len(seen) > 0 && !seen[c.Defaults.Provider] {
		errs = append(errs, fmt.Errorf("default provider %q is not configured", c.Defaults.Provider))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config from defaults, the YAML file at path (skipped when path is
// empty), a .env file in the working directory, and TABCHAT_* environment variables,
// later sources winning.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
		return nil
	}

	if v, ok := get("MODE"); ok {
		c.Mode = v
	}
	if v, ok := get("ADDRESS"); ok {
		c.Address = v
	}
	if v, ok := get("CORS_ORIGINS"); ok {
		c.HTTP.CORSOrigins = strings.Split(v, ",")
		for i := range c.HTTP.CORSOrigins {
			c.HTTP.CORSOrigins[i] = strings.TrimSpace(c.HTTP.CORSOrigins[i])
		}
	}
	if v, ok := get("STORE_TYPE"); ok {
		c.Store.Type = v
	}
	if v, ok := get("STORE_CONNECTION"); ok {
		c.Store.Connection = v
	}
	if v, ok := get("PROVIDER"); ok {
		c.Defaults.Provider = v
	}
	if v, ok := get("MODEL"); ok {
		c.Defaults.Model = v
	}
	if v, ok := get("TOOLS_WORKSPACE"); ok {
		c.WithToolWorkspace(v)
	}
	if v, ok := get("TOOLS_MAX_ROUNDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTOOLS_MAX_ROUNDS: %w", envPrefix, err)
		}
		c.Tools.MaxRounds = n
	}
	if err := duration("NOTIFY_INTERVAL", &c.NotifyInterval); err != nil {
		return err
	}
	if err := duration("TRACE_MAX_AGE", &c.Traces.MaxAge); err != nil {
		return err
	}
	if _, ok := get("TRACE_MAX_AGE"); ok {
		c.Traces.Enabled = c.Traces.MaxAge > 0
	}
	return nil
}
