package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Preference keys in the local key-value area. Losing this file degrades to
// the documented defaults: first available plugin, plain-link citations.
const (
	prefLastPluginID   = "last_plugin_id"
	prefCitationFormat = "citation_format"

	// DefaultCitationFormat is used when no preference is stored.
	DefaultCitationFormat = "plain"
)

// Preferences is the small persisted key-value area outside the primary
// settings store. Read once at startup, written on change.
type Preferences struct {
	logger *zap.Logger
	v      *viper.Viper
	path   string
	mu     sync.Mutex
}

// LoadPreferences reads the preference file, tolerating its absence.
func LoadPreferences(path string, logger *zap.Logger) *Preferences {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault(prefCitationFormat, DefaultCitationFormat)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, missing := err.(viper.ConfigFileNotFoundError); !missing {
				logger.Warn("preference file unreadable, using defaults",
					zap.String("path", path), zap.Error(err))
			}
		}
	}
	return &Preferences{logger: logger, v: v, path: path}
}

// LastPluginID returns the last-used plugin id, empty when unset (callers
// fall back to the first available plugin).
func (p *Preferences) LastPluginID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetString(prefLastPluginID)
}

func (p *Preferences) SetLastPluginID(id string) {
	p.set(prefLastPluginID, id)
}

// CitationFormat returns the preferred output format name.
func (p *Preferences) CitationFormat() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetString(prefCitationFormat)
}

func (p *Preferences) SetCitationFormat(format string) {
	p.set(prefCitationFormat, format)
}

func (p *Preferences) set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set(key, value)
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		p.logger.Warn("failed to create preference dir", zap.Error(err))
		return
	}
	if err := p.v.WriteConfigAs(p.path); err != nil {
		p.logger.Warn("failed to persist preferences",
			zap.String("key", key), zap.Error(err))
	}
}
