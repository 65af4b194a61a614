// Package server provides factories for the gateway and the reference
// persistence service.
package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	// PostgreSQL driver for the "postgres" store backend.
	_ "github.com/lib/pq"

	"github.com/txn2/threadsync/pkg/database/migrate"
	"github.com/txn2/threadsync/pkg/middleware"
	"github.com/txn2/threadsync/pkg/platform"
	"github.com/txn2/threadsync/pkg/upstream"
	"github.com/txn2/threadsync/pkg/upstream/postgres"
)

// Version is set at build time.
var Version = "dev"

// NewGateway builds the gateway HTTP server: the demo routes wrapped
// in the platform's thread/session middleware.
func NewGateway(cfg *platform.Config) (*http.Server, *platform.Platform, error) {
	p, err := platform.New(platform.WithConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("creating platform: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v1/thread", handleThreadInfo)
	mux.HandleFunc("POST /v1/thread/state", handleThreadSet)

	root := http.NewServeMux()
	root.Handle("/", p.Handler(mux))
	root.Handle("/metrics", p.MetricsHandler())

	return &http.Server{
		Addr:    cfg.Server.Address,
		Handler: root,
	}, p, nil
}

// handleThreadInfo reports the request's thread identity and state.
func handleThreadInfo(w http.ResponseWriter, r *http.Request) {
	th := middleware.ThreadFromContext(r.Context())
	sess := middleware.SessionFromContext(r.Context())
	if th == nil || sess == nil {
		http.Error(w, "no thread context", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"thread_id":  th.ID(),
		"session_id": sess.ID(),
		"dirty":      th.IsDirty(),
		"state":      th.State().Snapshot(),
	})
}

// handleThreadSet stores one key/value pair on the request's thread.
func handleThreadSet(w http.ResponseWriter, r *http.Request) {
	th := middleware.ThreadFromContext(r.Context())
	if th == nil {
		http.Error(w, "no thread context", http.StatusInternalServerError)
		return
	}

	var body struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		http.Error(w, "key and value are required", http.StatusBadRequest)
		return
	}

	th.State().Set(body.Key, body.Value)
	w.WriteHeader(http.StatusNoContent)
}

// NewStore builds the reference persistence service: the websocket
// protocol handler over the configured storage backend.
func NewStore(cfg *platform.Config) (*http.Server, upstream.Store, error) {
	store, err := newStoreBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	handler := upstream.NewHandler(store, upstream.Config{
		APIKey:     cfg.Store.APIKey,
		APIKeyHash: cfg.Store.APIKeyHash,
	})

	mux := http.NewServeMux()
	mux.Handle("/sync", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
	}, store, nil
}

// newStoreBackend constructs the configured storage engine.
func newStoreBackend(cfg *platform.Config) (upstream.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return upstream.NewMemoryStore(), nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("pinging postgres: %w", err)
		}
		if err := migrate.Run(db); err != nil {
			return nil, fmt.Errorf("migrating postgres: %w", err)
		}
		slog.Info("store backend ready", "backend", "postgres")
		return postgres.New(db), nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
