package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// NewUserListener inspects a freshly persisted identity and may veto it.
type NewUserListener interface {
	OnNewUser(ctx context.Context, record *UserRecord) (bool, error)
}

// NewUserListenerFunc adapts a function to the NewUserListener interface.
type NewUserListenerFunc func(ctx context.Context, record *UserRecord) (bool, error)

// OnNewUser implements NewUserListener.
func (f NewUserListenerFunc) OnNewUser(ctx context.Context, record *UserRecord) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f(ctx, record)
}

// ListenerEntry names a listener. It is resolved to an implementation each
// time listeners are notified.
type ListenerEntry struct {
	Locator  string
	Function string
}

func (e ListenerEntry) String() string {
	return e.Locator + "#" + e.Function
}

// ListenerResolver turns an entry into a callable listener.
type ListenerResolver interface {
	Resolve(entry ListenerEntry) (NewUserListener, error)
}

// ListenerTable is a ListenerResolver backed by a table that can be
// rebound while the process runs.
type ListenerTable struct {
	mu        sync.RWMutex
	listeners map[ListenerEntry]NewUserListener
}

// NewListenerTable creates an empty table.
func NewListenerTable() *ListenerTable {
	return &ListenerTable{listeners: map[ListenerEntry]NewUserListener{}}
}

// Bind sets or replaces the implementation of locator#function.
func (t *ListenerTable) Bind(locator, function string, listener NewUserListener) *ListenerTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[ListenerEntry{Locator: locator, Function: function}] = listener
	return t
}

// Unbind removes the implementation of locator#function.
func (t *ListenerTable) Unbind(locator, function string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, ListenerEntry{Locator: locator, Function: function})
}

// Resolve implements ListenerResolver.
func (t *ListenerTable) Resolve(entry ListenerEntry) (NewUserListener, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	listener, ok := t.listeners[entry]
	if !ok || listener == nil {
		return nil, goerrors.New("listener is not bound", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"listener": entry.String()})
	}
	return listener, nil
}

// ListenerRegistry is the ordered list of new-user listeners. Every
// listener is consulted in registration order and the first veto stops the
// notification. A listener that can not be resolved, fails, panics or times
// out counts as a veto.
type ListenerRegistry struct {
	mu       sync.RWMutex
	entries  []ListenerEntry
	resolver ListenerResolver
	timeout  time.Duration
	logger   Logger
	provider LoggerProvider
}

// NewListenerRegistry creates a registry resolving entries through resolver.
func NewListenerRegistry(resolver ListenerResolver) *ListenerRegistry {
	provider, logger := ResolveLogger("admission.listeners", nil, nil)
	return &ListenerRegistry{
		resolver: resolver,
		logger:   logger,
		provider: provider,
	}
}

// WithTimeout bounds each listener call. Zero disables the bound.
func (r *ListenerRegistry) WithTimeout(timeout time.Duration) *ListenerRegistry {
	r.timeout = timeout
	return r
}

// WithLoggerProvider resolves the registry logger from provider.
func (r *ListenerRegistry) WithLoggerProvider(provider LoggerProvider) *ListenerRegistry {
	r.provider, r.logger = ResolveLogger("admission.listeners", provider, r.logger)
	return r
}

// Register appends locator#function to the registry.
func (r *ListenerRegistry) Register(locator, function string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, ListenerEntry{Locator: locator, Function: function})
}

// Entries returns the registered entries in order.
func (r *ListenerRegistry) Entries() []ListenerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ListenerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Notify runs every listener against record and reports whether none
// vetoed. An empty registry accepts.
func (r *ListenerRegistry) Notify(ctx context.Context, record *UserRecord) bool {
	if r == nil {
		return true
	}

	for _, entry := range r.Entries() {
		listener, err := r.resolver.Resolve(entry)
		if err != nil {
			r.logger.Error("listener resolution failed", "listener", entry.String(), "error", err)
			return false
		}

		ok, err := r.invoke(ctx, listener, record)
		if err != nil {
			r.logger.Error("listener failed", "listener", entry.String(), "id", record.ID, "error", err)
			return false
		}
		if !ok {
			r.logger.Warn("listener vetoed registration", "listener", entry.String(), "id", record.ID)
			return false
		}
	}
	return true
}

type listenerOutcome struct {
	ok  bool
	err error
}

func (r *ListenerRegistry) invoke(ctx context.Context, listener NewUserListener, record *UserRecord) (bool, error) {
	if r.timeout <= 0 {
		out := callListener(ctx, listener, record)
		return out.ok, out.err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan listenerOutcome, 1)
	go func() {
		done <- callListener(ctx, listener, record)
	}()

	select {
	case out := <-done:
		return out.ok, out.err
	case <-ctx.Done():
		return false, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "listener timed out")
	}
}

func callListener(ctx context.Context, listener NewUserListener, record *UserRecord) (out listenerOutcome) {
	defer func() {
		if p := recover(); p != nil {
			out = listenerOutcome{err: fmt.Errorf("listener panic: %v", p)}
		}
	}()
	ok, err := listener.OnNewUser(ctx, record)
	return listenerOutcome{ok: ok, err: err}
}
