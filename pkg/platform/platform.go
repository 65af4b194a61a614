package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/txn2/threadsync/pkg/identity"
	"github.com/txn2/threadsync/pkg/middleware"
	"github.com/txn2/threadsync/pkg/provider"
	"github.com/txn2/threadsync/pkg/syncchan"
)

// Platform owns the configured identity codec, providers, and sync
// channel, and produces the HTTP middleware that ties them to a
// routing layer.
type Platform struct {
	cfg      *Config
	codec    *identity.Codec
	channel  *syncchan.Channel // nil when remote persistence is disabled
	threads  *provider.ThreadProvider
	sessions *provider.SessionProvider
	registry *prometheus.Registry
}

// New creates a platform from options. When an API key is configured
// the sync channel starts connecting in the background; operations
// that need it await the in-flight attempt lazily.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	cfg := options.Config
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry := options.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
	}

	codec := identity.NewCodec(cfg.Thread.Secret)

	source := options.IDSource
	if source == nil {
		source = provider.NewHeaderCookieSource(codec, cfg.Thread.Header, cfg.Thread.Cookie)
	}

	p := &Platform{
		cfg:      cfg,
		codec:    codec,
		registry: registry,
		sessions: provider.NewSessionProvider(),
	}

	syncer := options.Syncer
	if syncer == nil && cfg.Sync.APIKey != "" {
		p.channel = syncchan.New(syncchan.Config{
			URL:            cfg.Sync.URL,
			APIKey:         cfg.Sync.APIKey,
			RequestTimeout: cfg.Sync.RequestTimeout,
			ReconnectBase:  cfg.Sync.ReconnectBase,
			ReconnectMax:   cfg.Sync.ReconnectMax,
			MaxAttempts:    cfg.Sync.MaxAttempts,
			Metrics:        syncchan.NewMetrics(registry),
		})
		syncer = p.channel

		// Connect in the background; initialization does not block.
		go func() { _ = p.channel.Connect(context.Background()) }()
	}

	p.threads = provider.NewThreadProvider(source, syncer, provider.ThreadConfig{
		IdleTTL:         cfg.Thread.IdleTTL,
		CleanupInterval: cfg.Thread.CleanupInterval,
		OnThreadCreated: options.OnThreadCreated,
	})
	p.threads.StartCleanup()

	return p, nil
}

// Handler wraps inner with thread and session lifecycle management.
func (p *Platform) Handler(inner http.Handler) http.Handler {
	return middleware.NewThreadHandler(inner, middleware.HandlerConfig{
		Threads:  p.threads,
		Sessions: p.sessions,
		Codec:    p.codec,
		Header:   p.cfg.Thread.Header,
		Cookie:   p.cfg.Thread.Cookie,
	})
}

// MetricsHandler exposes the platform's Prometheus registry.
func (p *Platform) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config { return p.cfg }

// Codec returns the identifier codec.
func (p *Platform) Codec() *identity.Codec { return p.codec }

// Threads returns the thread provider.
func (p *Platform) Threads() *provider.ThreadProvider { return p.threads }

// Sessions returns the session provider.
func (p *Platform) Sessions() *provider.SessionProvider { return p.sessions }

// Channel returns the sync channel, or nil when remote persistence is
// disabled or a custom syncer was supplied.
func (p *Platform) Channel() *syncchan.Channel { return p.channel }

// Close stops background work and disposes the sync channel.
func (p *Platform) Close() error {
	if err := p.threads.Close(); err != nil {
		return fmt.Errorf("closing thread provider: %w", err)
	}
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return fmt.Errorf("closing sync channel: %w", err)
		}
	}
	return nil
}
