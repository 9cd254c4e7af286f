// Package controller is the top-level composition root: it owns one
// Supervisor per configured process, the shared ModeManager, the build and
// runtime LogBuffer stores, the event journal, and exposes the four
// remote-control operations to a transport layer.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/mcprun/internal/appconfig"
	"github.com/loykin/mcprun/internal/backoff"
	"github.com/loykin/mcprun/internal/build"
	"github.com/loykin/mcprun/internal/journal"
	"github.com/loykin/mcprun/internal/logbuf"
	"github.com/loykin/mcprun/internal/metrics"
	"github.com/loykin/mcprun/internal/modemgr"
	"github.com/loykin/mcprun/internal/procexec"
	"github.com/loykin/mcprun/internal/supervisor"
)

// ProcessStatus is the get_status shape for a single process.
type ProcessStatus struct {
	Name               string
	State              string
	CurrentMode        string
	PID                int
	UptimeSeconds      float64
	ConsecutiveCrashes int
	RecentEvents       []journal.Event
}

// Controller composes every Supervisor plus the shared ModeManager and
// serves the four remote-control operations.
type Controller struct {
	cfg         appconfig.Config
	runtimeLogs *logbuf.Store
	buildLogs   *logbuf.Store
	journal     *journal.Journal
	metrics     *metrics.Collector
	modeMgr     *modemgr.Manager
	lock        *flock.Flock

	supervisors map[string]*supervisor.Supervisor
}

type rebuildRequester struct{ c *Controller }

func (r rebuildRequester) RequestRebuildAll() {
	r.c.syncModeMetric()
	for name, sv := range r.c.supervisors {
		if !r.c.cfg.Process[name].Kind.NeedsBuild() {
			continue
		}
		sv := sv
		go func() {
			_ = sv.RebuildInPlace(context.Background())
		}()
	}
}

// syncModeMetric publishes the current mode onto the mcprun_mode gauge.
func (c *Controller) syncModeMetric() {
	v := 0.0
	if c.modeMgr.Current() == modemgr.Dev {
		v = 1.0
	}
	c.metrics.Mode.Set(v)
}

// New wires a Controller from a loaded config. It acquires an advisory
// filesystem lock on the project directory so that two supervisor
// instances never manage the same project concurrently; failure to acquire
// the lock is a fatal config-class error.
func New(cfg appconfig.Config, reg prometheus.Registerer) (*Controller, error) {
	lockPath := cfg.ProjectDir + "/.mcp-run.lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("controller: acquiring project lock: %w", err)
	}
	if !ok {
		return nil, appconfig.ErrInvalidConfig{Reason: "another supervisor instance already manages this project"}
	}

	runtimeLogs := logbuf.NewStore(logbuf.DefaultInstanceCap, logbuf.DefaultLineCap)
	buildLogs := logbuf.NewStore(logbuf.DefaultInstanceCap, logbuf.DefaultLineCap)

	j, err := journal.Open(cfg.ProjectDir + "/.mcp-run.events.db")
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	c := &Controller{
		cfg:         cfg,
		runtimeLogs: runtimeLogs,
		buildLogs:   buildLogs,
		journal:     j,
		metrics:     metrics.New(reg),
		lock:        lock,
		supervisors: make(map[string]*supervisor.Supervisor),
	}
	c.modeMgr = modemgr.New(cfg.DevTimeout(), rebuildRequester{c: c})

	builder := build.New(buildLogs)
	backoffCfg := backoff.Config{
		DevCrashWait:   cfg.DevCrashWait(),
		ReleaseInitial: cfg.ReleaseInitial(),
		ReleaseMax:     cfg.ReleaseMax(),
	}

	for name, spec := range cfg.Process {
		handle := procexec.New(name, runtimeLogs, &passthrough{name: name})
		c.supervisors[name] = supervisor.New(supervisor.Options{
			Name:       name,
			Spec:       spec,
			ProjectDir: cfg.ProjectDir,
			EnvWrapped: cfg.EnvWrapped,
			Handle:     handle,
			Builder:    builder,
			BackoffCfg: backoffCfg,
			ModeMgr:    c.modeMgr,
			Events:     &meteredRecorder{j: j, m: c.metrics},
		})
	}
	c.syncModeMetric()

	return c, nil
}

// Run starts every Supervisor's monitor loop and control-plane drain loop,
// plus the mode manager's idle sweep, under one cancellation scope,
// returning when ctx is cancelled and every task has wound down.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sv := range c.supervisors {
		sv := sv
		g.Go(func() error { return sv.Run(gctx) })
		g.Go(func() error { return sv.ControlLoop(gctx) })
	}
	g.Go(func() error {
		c.modeMgr.Run(gctx)
		return nil
	})
	return g.Wait()
}

// Journal exposes the event journal for the transport layer's stream
// endpoint.
func (c *Controller) Journal() *journal.Journal { return c.journal }

// Close releases the project lock and closes the event journal. Call after
// Run has returned.
func (c *Controller) Close() error {
	_ = c.journal.Close()
	return c.lock.Unlock()
}

// SearchLogs implements search_logs. Records activity.
func (c *Controller) SearchLogs(process string, params logbuf.Params) (logbuf.Result, error) {
	c.modeMgr.RecordActivity()
	return c.runtimeLogs.Search(process, params)
}

// SearchBuildLog implements search_build_log. Records activity.
func (c *Controller) SearchBuildLog(process string, params logbuf.Params) (logbuf.Result, error) {
	c.modeMgr.RecordActivity()
	return c.buildLogs.Search(build.LogKey(process), params)
}

// Restart implements restart: records activity, forces Dev mode, and
// executes the zero-downtime restart protocol. Concurrent restarts for the
// same process are serialized through that Supervisor's own control-plane
// channel, which rejects a second in-flight request with supervisor.ErrBusy
// instead of running a second build/swap; distinct processes proceed
// independently.
func (c *Controller) Restart(ctx context.Context, process string) error {
	c.modeMgr.RecordActivity()
	c.modeMgr.ForceDev()
	c.syncModeMetric()

	sv, ok := c.supervisors[process]
	if !ok {
		return fmt.Errorf("controller: unknown process %q", process)
	}

	err := sv.Restart(ctx)
	if err == nil {
		c.metrics.Restarts.WithLabelValues(process).Inc()
	}
	return err
}

// GetStatus implements get_status for every configured process. Records
// activity.
func (c *Controller) GetStatus() []ProcessStatus {
	c.modeMgr.RecordActivity()
	c.syncModeMetric()

	out := make([]ProcessStatus, 0, len(c.supervisors))
	for name, sv := range c.supervisors {
		snap := sv.Handle().Snapshot()
		recent, _ := c.journal.Recent(name, 20)
		out = append(out, ProcessStatus{
			Name:               name,
			State:              snap.State.String(),
			CurrentMode:        c.modeMgr.Current().String(),
			PID:                snap.PID,
			UptimeSeconds:      sv.Handle().Uptime().Seconds(),
			ConsecutiveCrashes: sv.ConsecutiveCrashes(),
			RecentEvents:       recent,
		})
	}
	return out
}

// meteredRecorder fans each lifecycle event out to the SQLite journal and
// the matching Prometheus counter/gauge.
type meteredRecorder struct {
	j *journal.Journal
	m *metrics.Collector
}

func (r *meteredRecorder) RecordEvent(process, kind, detail string) {
	r.j.RecordEvent(process, kind, detail)
	switch kind {
	case "Started":
		r.m.Starts.WithLabelValues(process).Inc()
		r.m.RunningProcesses.WithLabelValues(process).Set(1)
	case "Stopped":
		r.m.Stops.WithLabelValues(process).Inc()
		r.m.RunningProcesses.WithLabelValues(process).Set(0)
	case "Crashed":
		r.m.Crashes.WithLabelValues(process).Inc()
		r.m.RunningProcesses.WithLabelValues(process).Set(0)
	case "Restarted":
		r.m.RunningProcesses.WithLabelValues(process).Set(1)
	}
}

// passthrough mirrors captured child output to the controller process's
// own stdout, prefixed by process name, matching the "writer" interface
// procexec.Handle expects.
type passthrough struct {
	name string
	mu   sync.Mutex
}

func (p *passthrough) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Print(string(b))
}
