// Package features holds the runtime switches for optional parts of the
// service. Flags are fixed at startup from configuration.
package features

import (
	"fmt"
	"sort"
	"sync"
)

// Known flag names.
const (
	FeatureFramePages     = "frame_pages"
	FeaturePurchaseEvents = "purchase_events"
	FeatureProductCache   = "product_cache"
)

// Flag describes one switch and its current state.
type Flag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

var defaultFlags = []Flag{
	{Name: FeatureFramePages, Enabled: true, Description: "serve /p/{id} and /api/frame/{id}"},
	{Name: FeaturePurchaseEvents, Enabled: true, Description: "publish purchase.recorded events"},
	{Name: FeatureProductCache, Enabled: true, Description: "cache attestation responses"},
}

// UnknownFlagError is returned when an override names a flag that does not exist.
type UnknownFlagError struct {
	Name string
}

func (e *UnknownFlagError) Error() string {
	return fmt.Sprintf("unknown feature flag %q", e.Name)
}

// Manager answers flag lookups. A nil *Manager reports every flag disabled.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]Flag
}

// NewManager creates a manager with no flags registered.
func NewManager() *Manager {
	return &Manager{flags: make(map[string]Flag)}
}

// NewDefaultManager registers the known flags and applies overrides. Unknown
// override names are skipped; use Apply to have them reported.
func NewDefaultManager(overrides map[string]bool) *Manager {
	m := NewManager()
	for _, f := range defaultFlags {
		m.Register(f.Name, f.Enabled, f.Description)
	}
	m.Apply(overrides)
	return m
}

// Register adds or replaces a flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[name] = Flag{Name: name, Enabled: enabled, Description: description}
}

// Set changes a registered flag.
func (m *Manager) Set(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.flags[name]
	if !ok {
		return &UnknownFlagError{Name: name}
	}
	f.Enabled = enabled
	m.flags[name] = f
	return nil
}

// Apply sets every override and returns the names it did not recognise,
// sorted.
func (m *Manager) Apply(overrides map[string]bool) []string {
	var unknown []string
	for name, enabled := range overrides {
		if err := m.Set(name, enabled); err != nil {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func (m *Manager) IsEnabled(name string) bool {
	if m == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[name].Enabled
}

// Flags lists every flag ordered by name.
func (m *Manager) Flags() []Flag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Flag, 0, len(m.flags))
	for _, f := range m.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enabled returns the state of every flag keyed by name, for logging.
func (m *Manager) Enabled() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.flags))
	for name, f := range m.flags {
		out[name] = f.Enabled
	}
	return out
}
