// Package tabchat assembles the tabbed chat runtime: conversation storage, provider
// completers, the tab manager and orchestrator, and the HTTP surface that drives them.
package tabchat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Desarso/tabchat/completion"
	"github.com/Desarso/tabchat/logger"
	"github.com/Desarso/tabchat/models/anthropic"
	"github.com/Desarso/tabchat/models/gemini"
	"github.com/Desarso/tabchat/models/openrouter"
	"github.com/Desarso/tabchat/sessions"
	"github.com/Desarso/tabchat/stores"
	"github.com/Desarso/tabchat/stream"
	"github.com/Desarso/tabchat/tabs"
	"github.com/Desarso/tabchat/toolbox"
)

// Runtime owns every long-lived component built from a Config.
type Runtime struct {
	Config       *Config
	Log          *logger.Logger
	Store        *stores.ConversationStore
	Traces       *stores.GORMTraceStore
	Retention    *stores.TraceRetention
	Registry     *completion.Registry
	Tabs         *tabs.Manager
	Orchestrator *completion.Orchestrator
	Toolbox      *toolbox.Toolbox
	Server       *sessions.Server
}

// NewRuntime builds a runtime. log may be nil, in which case one is created from
// cfg.Mode. Retention, when enabled, is started; Close stops it.
func NewRuntime(cfg *Config, log *logger.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		l, err := logger.New(cfg.Mode)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		log = l
	}

	rt := &Runtime{Config: cfg, Log: log}
	registry, err := NewRegistry(cfg.Providers, log)
	if err != nil {
		return nil, err
	}
	if cfg.Defaults.Provider != "" {
		registry.SetDefault(cfg.Defaults.Provider)
	}
	rt.Registry = registry

	store, err := stores.NewStore(&cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	rt.Store = store

	orchOpts := []completion.Option{
		completion.WithStore(store),
		completion.WithDefaults(cfg.Defaults),
		completion.WithLogger(log),
	}
	if cfg.Traces.Enabled {
		traces, err := stores.NewGORMTraceStore(store.DB())
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("opening trace store: %w", err)
		}
		retention, err := stores.NewTraceRetention(traces, cfg.Traces.MaxAge, cfg.Traces.Schedule, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		rt.Traces, rt.Retention = traces, retention
		orchOpts = append(orchOpts, completion.WithTracer(traces))
	}

	rt.Tabs = tabs.NewManager(
		tabs.WithLogger(log),
		tabs.WithNotifierOptions(stream.WithInterval(cfg.NotifyInterval), stream.WithLogger(log)),
	)
	rt.Orchestrator = completion.NewOrchestrator(rt.Tabs, registry, orchOpts...)

	serverOpts := []sessions.Option{
		sessions.WithStore(store),
		sessions.WithLogger(log),
		sessions.WithDefaults(cfg.Defaults),
		sessions.WithSendRateLimit(cfg.HTTP.SendsPerMinute, cfg.HTTP.SendBurst),
	}
	if len(cfg.HTTP.CORSOrigins) > 0 {
		serverOpts = append(serverOpts, sessions.WithCORS(cfg.HTTP.CORSOrigins...))
	}
	if cfg.HTTP.WriteTimeout > 0 {
		serverOpts = append(serverOpts, sessions.WithWriteTimeout(cfg.HTTP.WriteTimeout))
	}
	if cfg.Tools.Enabled {
		rt.Toolbox = toolbox.Defaults(cfg.Tools.Workspace, nil)
		serverOpts = append(serverOpts, sessions.WithToolbox(rt.Toolbox, cfg.Tools.MaxRounds))
	}
	rt.Server = sessions.NewServer(rt.Orchestrator, serverOpts...)

	if rt.Retention != nil {
		rt.Retention.Start()
	}
	log.Info("runtime ready",
		"store", cfg.Store.Type,
		"providers", registry.Providers(),
		"default_provider", registry.Default(),
		"traces", cfg.Traces.Enabled,
		"tools", cfg.Tools.Enabled,
	)
	return rt, nil
}

// NewRegistry creates a completer for every provider entry.
func NewRegistry(providers []ProviderConfig, log *logger.Logger) (*completion.Registry, error) {
	registry := completion.NewRegistry()
	for _, p := range providers {
		c, err := newCompleter(p, log)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.name(), err)
		}
		registry.Register(p.name(), c)
	}
	return registry, nil
}

func newCompleter(p ProviderConfig, log *logger.Logger) (completion.Completer, error) {
	var maxTokens *int
	if p.MaxTokens > 0 {
		n := p.MaxTokens
		maxTokens = &n
	}
	switch p.Kind {
	case "anthropic":
		return &anthropic.Anthropic_Model{
			Model: p.Model, MaxTokens: maxTokens, BaseURL: p.BaseURL, APIKeyEnv: p.APIKeyEnv, Log: log,
		}, nil
	case "gemini":
		return &gemini.Gemini_Model{Model: p.Model, BaseURL: p.BaseURL, APIKeyEnv: p.APIKeyEnv, Log: log}, nil
	}

	m, err := openrouter.FromPreset(p.Kind)
	if err != nil {
		return nil, err
	}
	if p.Model != "" {
		m.Model = p.Model
	}
	if p.BaseURL != "" {
		m.BaseURL = p.BaseURL
	}
	if p.APIKeyEnv != "" {
		m.APIKeyEnv = p.APIKeyEnv
	}
	m.MaxTokens = maxTokens
	m.Log = log
	return m, nil
}

// Handler returns the HTTP handler serving the tab API under /api/v1.
func (rt *Runtime) Handler() http.Handler {
	return rt.Server.Router()
}

// ListenAndServe serves the API on Config.Address until ctx is done, then shuts the
// listener down gracefully.
func (rt *Runtime) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              rt.Config.Address,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		rt.Log.Info("listening", "address", rt.Config.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close stops background generations and pruning, then closes the store.
func (rt *Runtime) Close() error {
	if rt.Server != nil {
		rt.Server.Close()
	}
	if rt.Retention != nil {
		rt.Retention.Stop()
	}
	var err error
	if rt.Store != nil {
		err = rt.Store.Close()
	}
	rt.Log.Sync()
	return err
}
