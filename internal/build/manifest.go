package build

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// manifest mirrors the subset of a Cargo.toml this package needs to resolve
// a process name to its binary name.
type manifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Bin []struct {
		Name string `toml:"name"`
	} `toml:"bin"`
}

// binaryName resolves the binary name Cargo will produce for process, by
// preferring an explicit [[bin]] entry matching the name, then the only
// [[bin]] entry when there is exactly one, and falling back to
// [package].name (Cargo's default single-binary convention).
func binaryName(projectDir, process string) (string, error) {
	path := filepath.Join(projectDir, "Cargo.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrManifestUnreadable, err)
	}
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("%w: %v", ErrManifestUnreadable, err)
	}
	for _, b := range m.Bin {
		if b.Name == process {
			return b.Name, nil
		}
	}
	if len(m.Bin) == 1 {
		return m.Bin[0].Name, nil
	}
	if m.Package.Name != "" {
		return m.Package.Name, nil
	}
	return "", fmt.Errorf("%w: no binary named %q in %s", ErrNoSuchBinary, process, path)
}
