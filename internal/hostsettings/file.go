package hostsettings

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend stores all plugin settings in one JSON document keyed by
// plugin id (image-hosts.json in the app config directory).
type FileBackend struct {
	path string
	mu   sync.Mutex
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

var _ Backend = (*FileBackend)(nil)

func (b *FileBackend) Load(ctx context.Context, pluginID string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.read()
	if err != nil {
		return nil, err
	}
	values, ok := doc[pluginID]
	if !ok {
		return nil, nil
	}
	return maps.Clone(values), nil
}

func (b *FileBackend) Save(ctx context.Context, pluginID string, values map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.read()
	if err != nil {
		return err
	}
	if values == nil {
		delete(doc, pluginID)
	} else {
		doc[pluginID] = maps.Clone(values)
	}
	return b.write(doc)
}

func (b *FileBackend) read() (map[string]map[string]any, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return map[string]map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	doc := map[string]map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", b.path, err)
	}
	return doc, nil
}

func (b *FileBackend) write(doc map[string]map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize settings: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", b.path, err)
	}
	return nil
}

// LegacyFile reads the flat key-value file older releases stored plugin
// settings in. It only ever shrinks: entries are cleared as they migrate to
// the primary backend.
type LegacyFile struct {
	path string
	mu   sync.Mutex
}

func NewLegacyFile(path string) *LegacyFile {
	return &LegacyFile{path: path}
}

var _ LegacyStore = (*LegacyFile)(nil)

func (l *LegacyFile) Load(pluginID string) (map[string]any, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return nil, false, err
	}
	values, ok := doc[pluginID]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(values), true, nil
}

func (l *LegacyFile) Clear(pluginID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return err
	}
	if _, ok := doc[pluginID]; !ok {
		return nil
	}
	delete(doc, pluginID)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize legacy settings: %w", err)
	}
	return os.WriteFile(l.path, data, 0o600)
}

func (l *LegacyFile) read() (map[string]map[string]any, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return map[string]map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}
	doc := map[string]map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", l.path, err)
	}
	return doc, nil
}
