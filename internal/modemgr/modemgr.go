// Package modemgr centralizes the Dev/Release mode state shared by every
// supervised process, with activity-based auto-transition back to Release.
package modemgr

import (
	"context"
	"sync"
	"time"
)

type Mode int

const (
	Release Mode = iota
	Dev
)

func (m Mode) String() string {
	if m == Dev {
		return "dev"
	}
	return "release"
}

// RebuildRequester is notified when the idle sweep transitions Dev->Release,
// so every rust-typed process can be rebuilt in place. The Controller wires
// this to its per-process Supervisors.
type RebuildRequester interface {
	RequestRebuildAll()
}

// Manager tracks the current mode and the timestamp of the most recent
// externally-observed activity. Initial mode is Release, matching the
// boot-time default for unattended launches.
type Manager struct {
	mu             sync.Mutex
	mode           Mode
	lastActivityAt time.Time

	devTimeout  time.Duration
	sweepPeriod time.Duration
	rebuild     RebuildRequester
}

func New(devTimeout time.Duration, rebuild RebuildRequester) *Manager {
	return &Manager{
		mode:        Release,
		devTimeout:  devTimeout,
		sweepPeriod: 60 * time.Second,
		rebuild:     rebuild,
	}
}

// SetSweepPeriod overrides the default 60s sweep interval; intended for
// tests that need a faster tick than the idle timeout itself.
func (m *Manager) SetSweepPeriod(d time.Duration) {
	m.mu.Lock()
	m.sweepPeriod = d
	m.mu.Unlock()
}

func (m *Manager) Current() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// RecordActivity stamps the activity clock and, if currently in Release,
// transitions to Dev.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivityAt = time.Now()
	if m.mode == Release {
		m.mode = Dev
	}
}

func (m *Manager) ForceDev() {
	m.mu.Lock()
	m.mode = Dev
	m.lastActivityAt = time.Now()
	m.mu.Unlock()
}

func (m *Manager) ForceRelease() {
	m.mu.Lock()
	m.mode = Release
	m.mu.Unlock()
}

// Run drives the periodic idle sweep until ctx is cancelled. Each tick
// checks whether Dev mode has gone idle for at least devTimeout and, if so,
// transitions to Release and asks the wired RebuildRequester to rebuild
// every rust-typed process.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	period := m.sweepPeriod
	m.mu.Unlock()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	m.mu.Lock()
	idle := m.mode == Dev && !m.lastActivityAt.IsZero() && time.Since(m.lastActivityAt) >= m.devTimeout
	if idle {
		m.mode = Release
	}
	rebuild := m.rebuild
	m.mu.Unlock()

	if idle && rebuild != nil {
		rebuild.RequestRebuildAll()
	}
}
