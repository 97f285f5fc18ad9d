// Package prefs remembers small UI choices between runs, such as the last
// folders used in the file dialogs.
package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const prefsFile = "preferences.json"

// Keys.
const (
	LastImageDir  = "lastImageDir"
	LastExportDir = "lastExportDir"
)

// Prefs stores preferences as a string map.
type Prefs struct {
	mu     sync.RWMutex
	values map[string]string
	path   string
	dirty  bool
}

// Load reads preferences from the user config directory. A missing or
// corrupt file yields empty preferences.
func Load() *Prefs {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return LoadFrom(filepath.Join(configDir, "plate-reader", prefsFile))
}

// LoadFrom reads preferences from path.
func LoadFrom(path string) *Prefs {
	p := &Prefs{
		values: make(map[string]string),
		path:   path,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p
	}
	_ = json.Unmarshal(data, &p.values)
	return p
}

// Save writes preferences to disk if anything changed.
func (p *Prefs) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty {
		return nil
	}
	data, err := json.MarshalIndent(p.values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return err
	}
	p.dirty = false
	return nil
}

// String returns a preference, or "" if not set.
func (p *Prefs) String(key string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[key]
}

// SetString stores a preference.
func (p *Prefs) SetString(key, val string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values[key] != val {
		p.values[key] = val
		p.dirty = true
	}
}

// Dir returns a remembered directory, or "" if it no longer exists.
func (p *Prefs) Dir(key string) string {
	dir := p.String(key)
	if dir == "" {
		return ""
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ""
	}
	return dir
}

// SetDirOf remembers the directory containing file.
func (p *Prefs) SetDirOf(key, file string) {
	p.SetString(key, filepath.Dir(file))
}
