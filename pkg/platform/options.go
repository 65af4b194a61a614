package platform

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/txn2/threadsync/pkg/provider"
	"github.com/txn2/threadsync/pkg/thread"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// IDSource (optional, default header/cookie source if not provided).
	IDSource provider.IDSource

	// Syncer (optional, a channel is built from config if not provided).
	Syncer provider.Syncer

	// Registry (optional, a private registry is created if not provided).
	Registry *prometheus.Registry

	// OnThreadCreated is forwarded to the thread provider. Optional.
	OnThreadCreated func(th *thread.Thread)
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithIDSource sets a custom thread identifier source.
func WithIDSource(source provider.IDSource) Option {
	return func(o *Options) {
		o.IDSource = source
	}
}

// WithSyncer sets a custom remote persistence client.
func WithSyncer(syncer provider.Syncer) Option {
	return func(o *Options) {
		o.Syncer = syncer
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *Options) {
		o.Registry = reg
	}
}

// WithThreadCreatedHook sets the thread-created lifecycle notification.
func WithThreadCreatedHook(fn func(th *thread.Thread)) Option {
	return func(o *Options) {
		o.OnThreadCreated = fn
	}
}
