package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// BuiltinLocatorPrefix marks entries that load through privileged native
// code instead of a plugin script.
const BuiltinLocatorPrefix = "__internal__/"

// S3Locator is the synthetic entry for the bundled S3 host.
const S3Locator = BuiltinLocatorPrefix + "s3"

// Entry is a discovered, not-yet-loaded plugin: a stable id plus the locator
// the loader resolves. Entries are immutable once produced.
type Entry struct {
	ID      string `json:"id"`
	Locator string `json:"script"`
}

// EntrySource enumerates the available plugin entries. Implementations must
// be idempotent and cheap to call repeatedly.
type EntrySource interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// DirSource discovers script plugins on disk: the bundled resources
// directory first, then the user plugin directory, so user plugins with the
// same id shadow bundled ones. The id is the script file stem.
type DirSource struct {
	builtinDir string
	userDir    string
	logger     *zap.Logger
}

func NewDirSource(builtinDir, userDir string, logger *zap.Logger) *DirSource {
	return &DirSource{builtinDir: builtinDir, userDir: userDir, logger: logger}
}

func (s *DirSource) Entries(ctx context.Context) ([]Entry, error) {
	collected := make(map[string]string)
	for _, dir := range []string{s.builtinDir, s.userDir} {
		if dir == "" {
			continue
		}
		if err := s.collectDir(dir, collected); err != nil {
			s.logger.Warn("plugin directory scan failed",
				zap.String("dir", dir), zap.Error(err))
		}
	}

	entries := make([]Entry, 0, len(collected)+1)
	for id, path := range collected {
		entries = append(entries, Entry{ID: id, Locator: path})
	}

	// The bundled S3 host is always present unless a script shadows it.
	if _, shadowed := collected["s3"]; !shadowed {
		entries = append(entries, Entry{ID: "s3", Locator: S3Locator})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (s *DirSource) collectDir(dir string, collected map[string]string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		s.logger.Debug("plugin directory not found, skipping", zap.String("dir", dir))
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !isScriptName(name) {
			s.logger.Debug("skip non-script plugin candidate", zap.String("file", name))
			continue
		}
		id := strings.TrimSuffix(strings.TrimSuffix(name, ".mjs"), ".js")
		collected[id] = filepath.Join(dir, name)
	}
	return nil
}

// AddUserPlugin copies a local script into the user plugin directory and
// returns its entry. The caller must invalidate the registry cache for the
// new plugin to become visible.
func (s *DirSource) AddUserPlugin(source string) (Entry, error) {
	if _, err := os.Stat(source); err != nil {
		return Entry{}, fmt.Errorf("source file not found: %w", err)
	}
	name := filepath.Base(source)
	if !isScriptName(name) {
		return Entry{}, fmt.Errorf("only .js or .mjs plugin files are supported")
	}
	if err := os.MkdirAll(s.userDir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("failed to create user plugin directory: %w", err)
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read plugin source: %w", err)
	}
	dest := filepath.Join(s.userDir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return Entry{}, fmt.Errorf("failed to install plugin: %w", err)
	}

	id := strings.TrimSuffix(strings.TrimSuffix(name, ".mjs"), ".js")
	s.logger.Info("user plugin installed", zap.String("id", id), zap.String("path", dest))
	return Entry{ID: id, Locator: dest}, nil
}

func isScriptName(name string) bool {
	return strings.HasSuffix(name, ".js") || strings.HasSuffix(name, ".mjs")
}

var _ EntrySource = (*DirSource)(nil)
