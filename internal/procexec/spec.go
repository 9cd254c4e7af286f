package procexec

import (
	"os/exec"
	"strings"

	"github.com/loykin/mcprun/internal/env"
)

// Kind distinguishes processes that the supervisor must build from source
// before spawning from ones that run an externally supplied command as-is.
type Kind string

const (
	KindRust     Kind = "rust"
	KindExternal Kind = "npm"
)

func (k Kind) NeedsBuild() bool { return k == KindRust }

// Spec describes one configured process, loaded from the project's
// .mcp-run file and immutable once the Controller has started.
type Spec struct {
	Name    string   `mapstructure:"name"`
	Kind    Kind     `mapstructure:"type"`
	Args    []string `mapstructure:"args"`
	Command []string `mapstructure:"command"` // required for KindExternal
	WorkDir string   `mapstructure:"work_dir"`
	Env     []string `mapstructure:"env"` // KEY=VALUE overlays merged onto the OS environment
}

// BuildCommand constructs the argv used to spawn the process given the
// resolved artifact path (for Rust, the just-built binary; for external
// kinds, Command[0]).
func (s Spec) BuildCommand(artifact string) *exec.Cmd {
	var argv []string
	switch s.Kind {
	case KindExternal:
		argv = append(argv, s.Command...)
	default:
		argv = append(argv, artifact)
	}
	argv = append(argv, s.Args...)
	if len(argv) == 0 {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	// #nosec G204
	cmd := exec.Command(argv[0], argv[1:]...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	cmd.Env = env.New().Merge(s.Env)
	return cmd
}

// EnvWrap prefixes argv with a direnv invocation when the project directory
// carries a .envrc marker, per the external-interfaces contract.
func EnvWrap(cmd *exec.Cmd, projectDir string, wrapped bool) *exec.Cmd {
	if !wrapped {
		return cmd
	}
	argv := append([]string{"exec", projectDir}, cmd.Args...)
	// #nosec G204
	wrap := exec.Command("direnv", argv...)
	wrap.Dir = cmd.Dir
	wrap.Env = cmd.Env
	return wrap
}

func (k Kind) String() string { return string(k) }

// ParseKind maps the .mcp-run `type` key onto a Kind, defaulting unknown
// values to KindExternal so misconfigured processes fail at spawn time
// with a clear exec error rather than silently skipping builds.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rust":
		return KindRust
	default:
		return KindExternal
	}
}
