// Package hostsettings hydrates and persists per-plugin configuration.
// Hydration prefers the primary backend and falls back to the legacy
// key-value store, migrating legacy data forward on first sight. Edits are
// persisted on a debounce timer so rapid interactive changes coalesce into
// one write.
package hostsettings

import (
	"context"
	"maps"
	"sync"
	"time"

	"PicFlow/pkg/imagehost"

	"go.uber.org/zap"
)

// DefaultDebounce is the write-coalescing window for interactive edits.
const DefaultDebounce = 400 * time.Millisecond

// Backend is the privileged persistent settings store, partitioned per
// plugin id. Load returns nil when no values are stored.
type Backend interface {
	Load(ctx context.Context, pluginID string) (map[string]any, error)
	Save(ctx context.Context, pluginID string, values map[string]any) error
}

// LegacyStore is the old local key-value area settings migrate away from.
type LegacyStore interface {
	Load(pluginID string) (map[string]any, bool, error)
	Clear(pluginID string) error
}

// Phase tracks the per-plugin hydration lifecycle.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseHydrating     Phase = "hydrating"
	PhaseReady         Phase = "ready"
)

// State is a snapshot of one plugin's settings state.
type State struct {
	Phase       Phase
	Values      map[string]any
	Saving      bool
	LastSavedAt time.Time
	Err         string
}

type pluginState struct {
	desc        imagehost.Descriptor
	phase       Phase
	values      map[string]any
	saving      bool
	lastSavedAt time.Time
	err         string
	timer       *time.Timer
}

// Store manages settings for all registered plugins. Persistence is
// one-at-a-time per plugin id: a new edit reschedules the pending timer
// instead of stacking writes.
type Store struct {
	backend  Backend
	legacy   LegacyStore
	logger   *zap.Logger
	debounce time.Duration

	mu     sync.Mutex
	states map[string]*pluginState
}

func NewStore(backend Backend, legacy LegacyStore, logger *zap.Logger, debounce time.Duration) *Store {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{
		backend:  backend,
		legacy:   legacy,
		logger:   logger,
		debounce: debounce,
		states:   make(map[string]*pluginState),
	}
}

// Hydrate loads stored values for a plugin, applies schema defaults and
// returns the resulting value map. Storage failures degrade to defaults and
// are logged, never returned: settings are best-effort by contract.
// Hydration writes values directly into state, so no persist is triggered
// while it runs.
func (s *Store) Hydrate(ctx context.Context, desc imagehost.Descriptor) map[string]any {
	s.mu.Lock()
	st, ok := s.states[desc.ID]
	if ok && st.phase == PhaseReady {
		vals := maps.Clone(st.values)
		s.mu.Unlock()
		return vals
	}
	st = &pluginState{desc: desc, phase: PhaseHydrating}
	s.states[desc.ID] = st
	s.mu.Unlock()

	stored, err := s.backend.Load(ctx, desc.ID)
	if err != nil {
		s.logger.Warn("primary settings load failed",
			zap.String("plugin", desc.ID), zap.Error(err))
		stored = nil
	}
	if stored == nil && s.legacy != nil {
		stored = s.migrateLegacy(ctx, desc.ID)
	}

	values := ApplyDefaults(desc, stored)

	s.mu.Lock()
	st.values = values
	st.phase = PhaseReady
	vals := maps.Clone(values)
	s.mu.Unlock()
	return vals
}

// migrateLegacy reads the old store and, when data exists, writes it through
// to the primary backend and clears the legacy entry.
func (s *Store) migrateLegacy(ctx context.Context, pluginID string) map[string]any {
	legacyValues, found, err := s.legacy.Load(pluginID)
	if err != nil {
		s.logger.Warn("legacy settings load failed",
			zap.String("plugin", pluginID), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	s.logger.Info("migrating legacy settings", zap.String("plugin", pluginID))
	if err := s.backend.Save(ctx, pluginID, legacyValues); err != nil {
		// Keep the legacy entry so the next hydration can retry.
		s.logger.Error("legacy settings migration failed",
			zap.String("plugin", pluginID), zap.Error(err))
		return legacyValues
	}
	if err := s.legacy.Clear(pluginID); err != nil {
		s.logger.Warn("failed to clear legacy settings",
			zap.String("plugin", pluginID), zap.Error(err))
	}
	return legacyValues
}

// ApplyDefaults merges stored values with the parameter schema: stored value
// wins, then the declared default, then the type-appropriate zero. Stored
// keys not in the schema are preserved for forward compatibility.
func ApplyDefaults(desc imagehost.Descriptor, stored map[string]any) map[string]any {
	out := make(map[string]any, len(desc.Parameters)+len(stored))
	maps.Copy(out, stored)
	for _, p := range desc.Parameters {
		if v, ok := out[p.Key]; ok && v != nil {
			continue
		}
		if p.Default != nil {
			out[p.Key] = p.Default
			continue
		}
		out[p.Key] = p.ZeroValue()
	}
	return out
}

// Values returns a copy of the hydrated values for a plugin, or nil when the
// plugin has not been hydrated.
func (s *Store) Values(pluginID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[pluginID]
	if !ok || st.phase != PhaseReady {
		return nil
	}
	return maps.Clone(st.values)
}

// Ready reports whether a plugin's settings have finished hydrating.
func (s *Store) Ready(pluginID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[pluginID]
	return ok && st.phase == PhaseReady
}

// Update records a single edit and (re)schedules the debounced persist.
func (s *Store) Update(pluginID, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[pluginID]
	if !ok || st.phase != PhaseReady {
		s.logger.Warn("settings update before hydration, dropped",
			zap.String("plugin", pluginID), zap.String("key", key))
		return
	}
	st.values[key] = value
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(s.debounce, func() {
		s.persist(pluginID)
	})
}

// Flush cancels any pending debounce and persists immediately.
func (s *Store) Flush(pluginID string) {
	s.mu.Lock()
	st, ok := s.states[pluginID]
	if ok && st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	s.mu.Unlock()
	if ok {
		s.persist(pluginID)
	}
}

func (s *Store) persist(pluginID string) {
	s.mu.Lock()
	st, ok := s.states[pluginID]
	if !ok || st.phase != PhaseReady {
		s.mu.Unlock()
		return
	}
	snapshot := maps.Clone(st.values)
	st.saving = true
	s.mu.Unlock()

	err := s.backend.Save(context.Background(), pluginID, snapshot)

	s.mu.Lock()
	st.saving = false
	if err != nil {
		st.err = err.Error()
		s.mu.Unlock()
		s.logger.Error("settings persist failed",
			zap.String("plugin", pluginID), zap.Error(err))
		return
	}
	st.err = ""
	st.lastSavedAt = time.Now()
	s.mu.Unlock()
}

// State returns a snapshot of a plugin's settings state.
func (s *Store) State(pluginID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[pluginID]
	if !ok {
		return State{Phase: PhaseUninitialized}
	}
	return State{
		Phase:       st.phase,
		Values:      maps.Clone(st.values),
		Saving:      st.saving,
		LastSavedAt: st.lastSavedAt,
		Err:         st.err,
	}
}
