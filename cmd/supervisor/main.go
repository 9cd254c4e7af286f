// Command supervisor runs the process-lifecycle engine for one project
// directory: it loads .mcp-run, spawns and supervises every configured
// process, and serves the remote-control transport until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/mcprun/internal/appconfig"
	"github.com/loykin/mcprun/internal/controller"
	"github.com/loykin/mcprun/internal/logger"
	"github.com/loykin/mcprun/internal/mcpserver"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	exitOK          = 0
	exitConfigError = 64
	exitInternal    = 70
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var exitCode int
	cmd := &cobra.Command{
		Use:           "supervisor <project_directory>",
		Short:         "Process-lifecycle supervisor for a configured project directory",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			exitCode = supervise(posArgs[0])
			return nil
		},
	}
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	return exitCode
}

func supervise(projectDir string) int {
	cfg, err := appconfig.Load(projectDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	log := logger.NewDiagnostic(projectDir)
	log.Info("loaded configuration", "project_dir", projectDir, "processes", len(cfg.Process))

	ctrl, err := controller.New(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Error("failed to start controller", "error", err)
		if _, ok := err.(appconfig.ErrInvalidConfig); ok {
			return exitConfigError
		}
		return exitInternal
	}
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcpserver.New(ctrl, ctrl.Journal())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MCPPort),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "port", cfg.MCPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	interrupted := false
	transportFailed := false
	runDone := false
	select {
	case <-ctx.Done():
		interrupted = true
	case err := <-serveErr:
		log.Error("transport failed", "error", err)
		transportFailed = true
		stop()
	case err := <-runErr:
		runDone = true
		if err != nil {
			log.Error("supervision failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if !runDone {
		<-runErr
	}

	if transportFailed {
		return exitInternal
	}
	if interrupted {
		log.Info("shut down cleanly after interrupt")
		return exitInterrupted
	}
	log.Info("shut down cleanly")
	return exitOK
}
