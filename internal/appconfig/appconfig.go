// Package appconfig loads the per-project .mcp-run TOML configuration file.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/mcprun/internal/procexec"
)

// Config is the fully resolved .mcp-run configuration.
type Config struct {
	MCPPort                          int                      `mapstructure:"mcp_port"`
	DevTimeoutHours                  int                      `mapstructure:"dev_timeout_hours"`
	DevCrashWaitSeconds              int                      `mapstructure:"dev_crash_wait_seconds"`
	ReleaseCrashBackoffInitialSecond int                      `mapstructure:"release_crash_backoff_initial_seconds"`
	ReleaseCrashBackoffMaxSeconds    int                      `mapstructure:"release_crash_backoff_max_seconds"`
	Process                          map[string]procexec.Spec `mapstructure:"process"`

	// ProjectDir and EnvWrapped are resolved from the filesystem, not the
	// file's own contents.
	ProjectDir string
	EnvWrapped bool
}

func (c Config) DevTimeout() time.Duration {
	return time.Duration(c.DevTimeoutHours) * time.Hour
}

func (c Config) DevCrashWait() time.Duration {
	return time.Duration(c.DevCrashWaitSeconds) * time.Second
}

func (c Config) ReleaseInitial() time.Duration {
	return time.Duration(c.ReleaseCrashBackoffInitialSecond) * time.Second
}

func (c Config) ReleaseMax() time.Duration {
	return time.Duration(c.ReleaseCrashBackoffMaxSeconds) * time.Second
}

// ErrInvalidConfig maps onto the CLI's config-error exit code (64).
type ErrInvalidConfig struct{ Reason string }

func (e ErrInvalidConfig) Error() string { return "appconfig: " + e.Reason }

// Load reads <projectDir>/.mcp-run, applies documented defaults, validates
// required fields, and fills in each process Spec's Name/WorkDir.
func Load(projectDir string) (Config, error) {
	v := viper.New()
	v.SetConfigName(".mcp-run")
	v.SetConfigType("toml")
	v.AddConfigPath(projectDir)

	v.SetDefault("dev_timeout_hours", 3)
	v.SetDefault("dev_crash_wait_seconds", 120)
	v.SetDefault("release_crash_backoff_initial_seconds", 1)
	v.SetDefault("release_crash_backoff_max_seconds", 300)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, ErrInvalidConfig{Reason: fmt.Sprintf("reading .mcp-run: %v", err)}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return Config{}, ErrInvalidConfig{Reason: fmt.Sprintf("decoding .mcp-run: %v", err)}
	}

	if cfg.MCPPort <= 0 || cfg.MCPPort > 65535 {
		return Config{}, ErrInvalidConfig{Reason: "mcp_port is required and must be a valid port number"}
	}
	for name, spec := range cfg.Process {
		spec.Name = name
		if spec.WorkDir == "" {
			spec.WorkDir = projectDir
		}
		if spec.Kind == "" {
			return Config{}, ErrInvalidConfig{Reason: fmt.Sprintf("process.%s.type is required", name)}
		}
		if !spec.Kind.NeedsBuild() && len(spec.Command) == 0 {
			return Config{}, ErrInvalidConfig{Reason: fmt.Sprintf("process.%s.command is required for type %q", name, spec.Kind)}
		}
		cfg.Process[name] = spec
	}

	cfg.ProjectDir = projectDir
	if _, err := os.Stat(filepath.Join(projectDir, ".envrc")); err == nil {
		cfg.EnvWrapped = true
	}

	return cfg, nil
}
