// Package supervisor implements the per-process monitor loop and the
// zero-downtime manual-restart protocol.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/mcprun/internal/backoff"
	"github.com/loykin/mcprun/internal/build"
	"github.com/loykin/mcprun/internal/modemgr"
	"github.com/loykin/mcprun/internal/procexec"
)

// ErrBusy is returned by Restart/RebuildInPlace when a swap is already in
// flight for this process; the caller is expected to treat it as the
// transport layer's Busy error kind rather than retry internally.
var ErrBusy = errors.New("supervisor: restart already in progress")

// EventRecorder is notified of lifecycle events for the event journal.
// Implemented by internal/journal.
type EventRecorder interface {
	RecordEvent(process, kind, detail string)
}

type noopRecorder struct{}

func (noopRecorder) RecordEvent(string, string, string) {}

type sleepOutcome int

const (
	sleepElapsed sleepOutcome = iota
	sleepShutdown
	sleepManualWake
)

// Supervisor owns the end-to-end lifecycle of one configured process: its
// ProcessHandle, CrashBackoff state, and monitor loop.
type Supervisor struct {
	name       string
	spec       procexec.Spec
	projectDir string
	envWrapped bool
	handle     *procexec.Handle
	builder    *build.Builder
	backoffSt  *backoff.State
	backoffCfg backoff.Config
	modeMgr    *modemgr.Manager
	events     EventRecorder

	mu            sync.Mutex
	artifact      string
	skipNextBuild bool

	wake chan struct{}

	// ctrl is the per-process control-plane: restart and the idle-sweep
	// rebuild funnel through it so at most one swap runs at a time. The
	// crash-driven respawn stays in Run; a swap that finds no running child
	// cuts Run's backoff sleep short via wake.
	ctrl chan ctrlRequest

	// swapInFlight guards the entire duration of one build+stop+spawn
	// swap, not just the time a request spends sitting in ctrl's buffer —
	// a request that arrives while it is true is rejected with ErrBusy
	// immediately, so two genuinely concurrent restarts always produce
	// exactly one build+swap, never two run back-to-back.
	swapInFlight atomic.Bool
}

type ctrlRequest struct {
	mode   modemgr.Mode
	result chan error
}

type Options struct {
	Name       string
	Spec       procexec.Spec
	ProjectDir string
	EnvWrapped bool
	Handle     *procexec.Handle
	Builder    *build.Builder
	BackoffCfg backoff.Config
	ModeMgr    *modemgr.Manager
	Events     EventRecorder
}

func New(o Options) *Supervisor {
	events := o.Events
	if events == nil {
		events = noopRecorder{}
	}
	return &Supervisor{
		name:       o.Name,
		spec:       o.Spec,
		projectDir: o.ProjectDir,
		envWrapped: o.EnvWrapped,
		handle:     o.Handle,
		builder:    o.Builder,
		backoffSt:  backoff.NewState(o.BackoffCfg),
		backoffCfg: o.BackoffCfg,
		modeMgr:    o.ModeMgr,
		events:     events,
		wake:       make(chan struct{}, 1),
		ctrl:       make(chan ctrlRequest, 1),
	}
}

func (s *Supervisor) Name() string { return s.name }

func (s *Supervisor) Handle() *procexec.Handle { return s.handle }

func (s *Supervisor) ConsecutiveCrashes() int { return s.backoffSt.Consecutive() }

// Run is the long-lived monitor loop: build (if needed) -> spawn -> wait
// for exit -> classify -> backoff -> repeat. It returns when ctx is
// cancelled, having stopped the child gracefully first.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			_ = s.handle.Stop(5 * time.Second)
			return nil
		}

		artifact, err := s.ensureArtifact(s.modeMgr.Current())
		if err != nil {
			s.handle.MarkCrashed(fmt.Sprintf("BuildFailed: %v", err))
			s.backoffSt.RecordCrash(time.Now())
			s.events.RecordEvent(s.name, "Crashed", err.Error())
			switch s.sleep(ctx, s.backoffSt.NextWait(s.modeMgr.Current(), s.backoffCfg)) {
			case sleepShutdown:
				return nil
			case sleepManualWake:
				s.backoffSt.Reset()
			}
			continue
		}

		cmd := s.buildCmd(artifact)
		if err := s.handle.Spawn(cmd); err != nil {
			s.handle.MarkCrashed(fmt.Sprintf("SpawnFailed: %v", err))
			s.backoffSt.RecordCrash(time.Now())
			s.events.RecordEvent(s.name, "Crashed", "SpawnFailed: "+err.Error())
			switch s.sleep(ctx, s.backoffSt.NextWait(s.modeMgr.Current(), s.backoffCfg)) {
			case sleepShutdown:
				return nil
			case sleepManualWake:
				s.backoffSt.Reset()
			}
			continue
		}
		s.events.RecordEvent(s.name, "Started", "")

		startedAt := s.handle.Snapshot().StartedAt
		exited := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = s.handle.Stop(5 * time.Second)
			case <-exited:
			}
		}()
		obs := s.handle.WaitForExit()
		close(exited)
		if ctx.Err() != nil {
			s.events.RecordEvent(s.name, "Stopped", "")
			return nil
		}

		if s.handle.TakeManualRestart() {
			s.backoffSt.Reset()
			s.events.RecordEvent(s.name, "Restarted", "")
			continue
		}

		if time.Since(startedAt) >= backoff.GraceForReset {
			s.backoffSt.Reset()
		}
		s.backoffSt.RecordCrash(time.Now())
		s.handle.MarkCrashed(describeObservation(obs))
		s.events.RecordEvent(s.name, "Crashed", describeObservation(obs))

		switch s.sleep(ctx, s.backoffSt.NextWait(s.modeMgr.Current(), s.backoffCfg)) {
		case sleepShutdown:
			return nil
		case sleepManualWake:
			s.backoffSt.Reset()
		}
	}
}

func describeObservation(obs procexec.ExitObservation) string {
	if obs.Err == nil {
		return "exited"
	}
	return obs.Err.Error()
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) sleepOutcome {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return sleepShutdown
	case <-s.wake:
		return sleepManualWake
	case <-timer.C:
		return sleepElapsed
	}
}

func (s *Supervisor) ensureArtifact(mode modemgr.Mode) (string, error) {
	if !s.spec.Kind.NeedsBuild() {
		return "", nil
	}
	s.mu.Lock()
	skip := s.skipNextBuild
	cached := s.artifact
	s.skipNextBuild = false
	s.mu.Unlock()
	if skip && cached != "" {
		return cached, nil
	}
	artifact, err := s.builder.Build(s.projectDir, s.name, mode, s.envWrapped)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.artifact = artifact
	s.mu.Unlock()
	return artifact, nil
}

func (s *Supervisor) buildCmd(artifact string) *exec.Cmd {
	cmd := s.spec.BuildCommand(artifact)
	return procexec.EnvWrap(cmd, s.projectDir, s.envWrapped)
}
