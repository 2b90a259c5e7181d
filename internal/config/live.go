package config

import "sync"

// Live is the daemon's mutable view of the configuration. Reloads and profile
// switches go through it so readers always see a consistent layout.
type Live struct {
	mu  sync.RWMutex
	cfg *Config

	// fileProfile is active_profile as last read from disk.
	fileProfile string
}

// NewLive wraps cfg.
func NewLive(cfg *Config) *Live {
	return &Live{cfg: cfg, fileProfile: cfg.Layout.ActiveProfile}
}

// Get returns the current config. Callers must not mutate it.
func (l *Live) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// ReferencedSources returns the active profile's source names.
func (l *Live) ReferencedSources() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.ReferencedSources()
}

// ActiveProfile returns the active profile name.
func (l *Live) ActiveProfile() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Layout.ActiveProfile
}

// SwitchProfile makes name the active profile.
func (l *Live) SwitchProfile(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := *l.cfg
	if err := next.SetActiveProfile(name); err != nil {
		return err
	}
	l.cfg = &next
	return nil
}

// ReplaceLayout swaps in the layout from a reloaded config. Daemon, helper and
// discord sections only take effect on restart.
//
// A profile chosen at runtime survives the reload while it still exists,
// unless the file's active_profile itself was edited.
func (l *Live) ReplaceLayout(reloaded *Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := *l.cfg
	next.Layout = reloaded.Layout
	current := l.cfg.Layout.ActiveProfile
	if reloaded.Layout.ActiveProfile == l.fileProfile {
		if _, ok := reloaded.Layout.Profiles[current]; ok {
			next.Layout.ActiveProfile = current
		}
	}
	l.fileProfile = reloaded.Layout.ActiveProfile
	l.cfg = &next
}
