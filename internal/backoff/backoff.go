// Package backoff computes the next post-crash wait duration for a
// supervised process, given its mode and consecutive-crash count.
package backoff

import (
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds the tunables loaded from the project's .mcp-run file.
type Config struct {
	DevCrashWait   time.Duration
	ReleaseInitial time.Duration
	ReleaseMax     time.Duration
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		DevCrashWait:   120 * time.Second,
		ReleaseInitial: 1 * time.Second,
		ReleaseMax:     300 * time.Second,
	}
}

// releaseMultiplier is fixed sub-exponential growth, deliberately below the
// doubling that cenkalti/backoff's own defaults use.
const releaseMultiplier = 1.5

// State tracks consecutive crashes for one supervised process. Mode
// switches between crashes do not reset the count; only a sustained
// Running episode or a manual restart does, via Reset.
type State struct {
	mu          sync.Mutex
	consecutive int
	lastCrashAt time.Time
	lastWait    time.Duration

	// release generates the Release-mode sequence; it is the backing
	// curve RecordCrash samples so a Reset cleanly restarts the
	// sequence at A rather than continuing from wherever n left off.
	release *backoff.ExponentialBackOff
}

func NewState(cfg Config) *State {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.ReleaseInitial
	eb.Multiplier = releaseMultiplier
	eb.MaxInterval = cfg.ReleaseMax
	eb.RandomizationFactor = 0 // deterministic wait sequence
	eb.MaxElapsedTime = 0      // never stop producing intervals
	eb.Reset()
	return &State{release: eb, lastWait: cfg.ReleaseInitial}
}

// RecordCrash advances the consecutive-crash count, timestamps it, and
// samples the next Release-mode wait from the backoff curve.
func (s *State) RecordCrash(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive++
	s.lastCrashAt = at
	if w := s.release.NextBackOff(); w != backoff.Stop {
		s.lastWait = w
	}
}

// Reset zeros the consecutive-crash count, called after a sustained
// Running episode of at least the grace period or a manual restart.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive = 0
	s.release.Reset()
	s.lastWait = s.release.InitialInterval
}

// Consecutive reports the current consecutive-crash count.
func (s *State) Consecutive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutive
}

// Mode selects which wait policy NextWait applies.
type Mode int

const (
	ModeDev Mode = iota
	ModeRelease
)

// NextWait returns the wait duration for the current consecutive-crash
// count under mode. Dev mode always returns the fixed pause; Release mode
// returns the backoff curve's last sampled wait, capped at M and rounded
// to the nearest second, never less than one second.
func (s *State) NextWait(mode Mode, cfg Config) time.Duration {
	if mode == ModeDev {
		return cfg.DevCrashWait
	}

	s.mu.Lock()
	raw := s.lastWait
	s.mu.Unlock()

	capped := math.Min(float64(raw), float64(cfg.ReleaseMax))
	rounded := time.Duration(math.Round(capped/float64(time.Second))) * time.Second
	if rounded <= 0 {
		rounded = time.Second
	}
	return rounded
}

// GraceForReset is the sustained-uptime threshold after which a Running
// episode counts as recovered and resets the consecutive-crash count.
const GraceForReset = 60 * time.Second
