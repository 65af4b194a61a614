package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/txn2/threadsync/pkg/identity"
	"github.com/txn2/threadsync/pkg/thread"
)

// Defaults for the thread registry.
const (
	// DefaultIdleTTL is how long a thread may sit with no activity
	// before it is expired from the registry.
	DefaultIdleTTL = time.Hour

	// DefaultCleanupInterval is how often idle threads are checked.
	DefaultCleanupInterval = time.Minute
)

// Syncer is the remote persistence surface the provider needs. A
// *syncchan.Channel satisfies it.
type Syncer interface {
	Restore(ctx context.Context, threadID string) (string, error)
	Save(ctx context.Context, threadID, userData string) error
	Delete(ctx context.Context, threadID string) error
}

// ThreadConfig configures a ThreadProvider.
type ThreadConfig struct {
	// IdleTTL expires threads with no activity. Default 1h.
	IdleTTL time.Duration

	// CleanupInterval is the idle-check period. Default 1m.
	CleanupInterval time.Duration

	// OnThreadCreated is a lifecycle notification for external
	// collaborators (telemetry). Optional.
	OnThreadCreated func(th *thread.Thread)
}

// trackedThread is a registry entry.
type trackedThread struct {
	thread     *thread.Thread
	lastActive time.Time
}

// ThreadProvider restores, saves, and destroys threads per request.
// The same thread instance is shared by all requests presenting the
// same identifier within its lifetime.
type ThreadProvider struct {
	source IDSource
	sync   Syncer // nil when no remote persistence is configured
	cfg    ThreadConfig

	mu      sync.Mutex
	threads map[string]*trackedThread

	cancel context.CancelFunc
	done   chan struct{}
}

// NewThreadProvider creates a provider using source for identifier
// resolution and syncer for remote persistence. A nil syncer degrades
// to local-only threads.
func NewThreadProvider(source IDSource, syncer Syncer, cfg ThreadConfig) *ThreadProvider {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	return &ThreadProvider{
		source:  source,
		sync:    syncer,
		cfg:     cfg,
		threads: make(map[string]*trackedThread),
	}
}

// Restore resolves the request's thread identifier and returns its
// thread, creating one (hydrated from remote state when available) on
// first sight. Remote failures degrade to an empty thread; the only
// error is an IDSource returning an invalid identifier.
func (p *ThreadProvider) Restore(ctx context.Context, r *http.Request) (*thread.Thread, error) {
	id, err := p.source.ThreadID(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolving thread id: %w", err)
	}
	if !identity.ValidateFormat(id) {
		return nil, fmt.Errorf("thread id source returned invalid identifier %q", id)
	}

	p.mu.Lock()
	if tr, ok := p.threads[id]; ok {
		tr.lastActive = time.Now()
		p.mu.Unlock()
		return tr.thread, nil
	}
	p.mu.Unlock()

	th := p.hydrate(ctx, id)

	// Another request may have registered the identifier concurrently;
	// the registry copy wins so sessions share one instance.
	p.mu.Lock()
	if tr, ok := p.threads[id]; ok {
		tr.lastActive = time.Now()
		p.mu.Unlock()
		return tr.thread, nil
	}
	p.threads[id] = &trackedThread{thread: th, lastActive: time.Now()}
	p.mu.Unlock()

	slog.Debug("provider: thread created", "thread_id", id, "empty", th.Empty())
	if p.cfg.OnThreadCreated != nil {
		p.cfg.OnThreadCreated(th)
	}
	return th, nil
}

// hydrate builds the thread for id, restoring remote state on a best
// effort basis.
func (p *ThreadProvider) hydrate(ctx context.Context, id string) *thread.Thread {
	if p.sync == nil {
		return thread.New(id)
	}

	data, err := p.sync.Restore(ctx, id)
	if err != nil {
		slog.Warn("provider: remote restore failed, continuing with empty thread",
			"thread_id", id, "error", err)
		return thread.New(id)
	}
	if data == "" {
		return thread.New(id)
	}

	th, err := thread.Restore(id, []byte(data))
	if err != nil {
		slog.Warn("provider: restored state is corrupt, continuing with empty thread",
			"thread_id", id, "error", err)
		return thread.New(id)
	}
	return th
}

// Save persists the thread's state remotely. It is a no-op for clean
// or empty threads, drops oversized state with a diagnostic, and
// swallows remote failures; a failed save never fails a request.
func (p *ThreadProvider) Save(ctx context.Context, th *thread.Thread) {
	if th.Empty() || !th.IsDirty() {
		return
	}

	data := th.SerializeUserData()
	if data == nil {
		// Oversized or unserializable; already logged.
		return
	}
	if p.sync == nil {
		return
	}

	if err := p.sync.Save(ctx, th.ID(), string(data)); err != nil {
		slog.Warn("provider: thread save failed", "thread_id", th.ID(), "error", err)
		return
	}
	th.MarkSaved(data)
	slog.Debug("provider: thread saved", "thread_id", th.ID(), "size", len(data))
}

// Destroy removes the thread's remote state and retires it locally.
// Remote failures (including "not found" for threads that never
// persisted) are treated as success; the destroyed event always fires
// and the thread always leaves the registry.
func (p *ThreadProvider) Destroy(ctx context.Context, th *thread.Thread) {
	defer func() {
		th.Destroy(ctx)
		p.mu.Lock()
		delete(p.threads, th.ID())
		p.mu.Unlock()
	}()

	if p.sync == nil {
		return
	}
	if err := p.sync.Delete(ctx, th.ID()); err != nil {
		slog.Debug("provider: remote delete failed, treating as success",
			"thread_id", th.ID(), "error", err)
	}
}

// Len returns the number of live threads in the registry.
func (p *ThreadProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// StartCleanup starts a background goroutine that expires idle
// threads. The goroutine is stopped when Close is called.
func (p *ThreadProvider) StartCleanup() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.expireIdle(ctx)
			}
		}
	}()
}

// expireIdle retires threads idle past the TTL: dirty state gets a
// best-effort save, the destroyed event fires, and the entry is
// evicted. The remote copy is kept; expiry is eviction, not deletion.
func (p *ThreadProvider) expireIdle(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.IdleTTL)

	p.mu.Lock()
	var expired []*thread.Thread
	for id, tr := range p.threads {
		if tr.lastActive.Before(cutoff) {
			expired = append(expired, tr.thread)
			delete(p.threads, id)
		}
	}
	p.mu.Unlock()

	for _, th := range expired {
		p.Save(ctx, th)
		th.Destroy(ctx)
		slog.Debug("provider: idle thread expired", "thread_id", th.ID())
	}
}

// Close stops the cleanup goroutine and waits for it to exit. It is
// safe to call Close even if StartCleanup was never called.
func (p *ThreadProvider) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}
