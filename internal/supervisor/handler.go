package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/mcprun/internal/modemgr"
	"github.com/loykin/mcprun/internal/procexec"
)

// Restart executes the zero-downtime manual-restart protocol: latch
// manual_restart, build the new artifact in Dev mode while the old process
// keeps serving, then swap it in. Concurrent Restart/RebuildInPlace calls
// for this process are serialized through the control-plane channel — a
// call that arrives while a swap is already in flight is rejected with
// ErrBusy immediately rather than queued, so two concurrent restarts never
// produce two builds or two swaps.
//
// Returns only once the new process is Running, or with BuildFailed if the
// build did not succeed (old process left untouched).
func (s *Supervisor) Restart(ctx context.Context) error {
	return s.requestSwap(ctx, modemgr.Dev)
}

// RebuildInPlace performs the same swap protocol triggered internally by
// the mode manager's idle sweep, building in the mode that is current at
// the moment of the request (Release, immediately after a Dev->Release
// auto-transition).
func (s *Supervisor) RebuildInPlace(ctx context.Context) error {
	return s.requestSwap(ctx, s.modeMgr.Current())
}

// requestSwap claims swapInFlight for the whole duration of one swap before
// ever touching the control-plane channel, so a second caller arriving
// anywhere during the build/stop/spawn sequence — not just while the first
// request is still sitting in ctrl's buffer — observes Busy immediately.
func (s *Supervisor) requestSwap(ctx context.Context, mode modemgr.Mode) error {
	if !s.swapInFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	result := make(chan error, 1)
	s.ctrl <- ctrlRequest{mode: mode, result: result}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ControlLoop drains the control-plane channel one request at a time,
// performing the actual swap. It must run for the lifetime of Run; the
// Controller fans both into the same errgroup.
func (s *Supervisor) ControlLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.ctrl:
			err := s.manualSwap(ctx, req.mode)
			s.swapInFlight.Store(false)
			req.result <- err
		}
	}
}

func (s *Supervisor) manualSwap(ctx context.Context, mode modemgr.Mode) error {
	s.handle.SetManualRestart(true)

	if s.spec.Kind.NeedsBuild() {
		artifact, err := s.builder.Build(s.projectDir, s.name, mode, s.envWrapped)
		if err != nil {
			s.handle.SetManualRestart(false)
			return err
		}
		s.mu.Lock()
		s.artifact = artifact
		s.skipNextBuild = true
		s.mu.Unlock()
	}

	running := s.handle.Snapshot().State == procexec.StateRunning
	if running {
		if err := s.handle.Stop(5 * time.Second); err != nil {
			s.handle.SetManualRestart(false)
			return err
		}
	} else {
		// No child to stop (e.g. currently sleeping out a crash backoff);
		// wake the monitor loop directly so it spawns without waiting out
		// the remainder of the backoff interval.
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}

	return s.waitUntilRunning(ctx)
}

func (s *Supervisor) waitUntilRunning(ctx context.Context) error {
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if s.handle.Snapshot().State == procexec.StateRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return fmt.Errorf("supervisor: %s did not resume running after swap", s.name)
}
