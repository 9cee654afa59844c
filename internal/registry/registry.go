package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"PicFlow/pkg/imagehost"

	"go.uber.org/zap"
)

// BuiltinFactory constructs a host for an __internal__/ locator. This is the
// one sanctioned way a host avoids the script sandbox: its Upload/Remove run
// in privileged native code so secrets never reach the script engine.
type BuiltinFactory func() (imagehost.Host, error)

// Registry turns discovered entries into usable hosts, caching both the
// entry list and each loaded host by id until invalidation.
type Registry struct {
	source   EntrySource
	logger   *zap.Logger
	builtins map[string]BuiltinFactory

	mu           sync.Mutex
	entries      []Entry
	entriesValid bool
	hosts        map[string]imagehost.Host
}

func New(source EntrySource, logger *zap.Logger) *Registry {
	return &Registry{
		source:   source,
		logger:   logger,
		builtins: make(map[string]BuiltinFactory),
		hosts:    make(map[string]imagehost.Host),
	}
}

// RegisterBuiltin installs the factory for an __internal__/<name> locator.
func (r *Registry) RegisterBuiltin(name string, factory BuiltinFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[name] = factory
}

// ListEntries returns the discovered plugin entries, querying the source at
// most once until invalidation. forceRefresh drops the cached list first.
func (r *Registry) ListEntries(ctx context.Context, forceRefresh bool) ([]Entry, error) {
	r.mu.Lock()
	if forceRefresh {
		r.entriesValid = false
	}
	if r.entriesValid {
		cached := make([]Entry, len(r.entries))
		copy(cached, r.entries)
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	entries, err := r.source.Entries(ctx)
	if err != nil {
		r.logger.Error("plugin enumeration failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", imagehost.ErrDiscovery, err)
	}

	r.mu.Lock()
	r.entries = entries
	r.entriesValid = true
	result := make([]Entry, len(entries))
	copy(result, entries)
	r.mu.Unlock()
	return result, nil
}

// Load resolves an entry into a validated host, cached per id for the
// process lifetime until InvalidateCache.
func (r *Registry) Load(ctx context.Context, entry Entry) (imagehost.Host, error) {
	r.mu.Lock()
	if host, ok := r.hosts[entry.ID]; ok {
		r.mu.Unlock()
		return host, nil
	}
	r.mu.Unlock()

	host, err := r.load(entry)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have raced us; keep the first loaded instance so
	// identity stays stable for the cache lifetime.
	if cached, ok := r.hosts[entry.ID]; ok {
		return cached, nil
	}
	r.hosts[entry.ID] = host
	return host, nil
}

func (r *Registry) load(entry Entry) (imagehost.Host, error) {
	if name, ok := strings.CutPrefix(entry.Locator, BuiltinLocatorPrefix); ok {
		r.mu.Lock()
		factory, known := r.builtins[name]
		r.mu.Unlock()
		if !known {
			return nil, fmt.Errorf("%w: unknown builtin host %q", imagehost.ErrInvalidPlugin, name)
		}
		host, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to construct builtin host %s: %w", name, err)
		}
		desc := host.Descriptor()
		if err := imagehost.ValidateDescriptor(&desc); err != nil {
			return nil, err
		}
		return host, nil
	}
	return LoadScriptHost(entry.ID, entry.Locator, r.logger)
}

// LoadAll loads every discovered entry, skipping the ones that fail. A
// single broken plugin never blocks the rest; failures are logged with the
// offending id.
func (r *Registry) LoadAll(ctx context.Context) []imagehost.Host {
	entries, err := r.ListEntries(ctx, false)
	if err != nil {
		return nil
	}
	hosts := make([]imagehost.Host, 0, len(entries))
	for _, entry := range entries {
		host, err := r.Load(ctx, entry)
		if err != nil {
			r.logger.Warn("plugin failed to load",
				zap.String("plugin", entry.ID),
				zap.String("locator", entry.Locator),
				zap.Error(err))
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}

// Find loads the host with the given id, or nil when it is not available.
func (r *Registry) Find(ctx context.Context, id string) imagehost.Host {
	entries, err := r.ListEntries(ctx, false)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.ID != id {
			continue
		}
		host, err := r.Load(ctx, entry)
		if err != nil {
			r.logger.Warn("plugin failed to load", zap.String("plugin", id), zap.Error(err))
			return nil
		}
		return host
	}
	return nil
}

// InvalidateCache drops all cached entries and loaded hosts. Call it after a
// user installs a plugin or requests a manual reload.
func (r *Registry) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entriesValid = false
	r.entries = nil
	r.hosts = make(map[string]imagehost.Host)
}
