// Package host embeds the collector core into a running program: it turns
// discovery descriptors into supervised child processes, polls them on their
// advertised cadence, and forwards readings to sinks.
package host

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/catapultcase/JunctionRelay-Collectors/pkg/discovery"
)

// ResolveCommand picks the launch command line for a discovered plugin based
// on its entry artifact. Pre-built artifacts run under the platform runtime;
// TypeScript sources run through a transpiling launcher when one is
// resolvable. The supervisor receives only the final command line.
func ResolveCommand(p discovery.Plugin) ([]string, error) {
	entry := filepath.Join(p.Path, p.Entry)

	switch strings.ToLower(filepath.Ext(p.Entry)) {
	case ".ts":
		launcher, err := resolveRuntime(p.Path, "tsx", "ts-node")
		if err != nil {
			return nil, fmt.Errorf("no TypeScript launcher for %s: %w", p.Name, err)
		}
		return []string{launcher, entry}, nil
	case ".js", ".mjs", ".cjs":
		node, err := resolveRuntime(p.Path, "node")
		if err != nil {
			return nil, fmt.Errorf("no JavaScript runtime for %s: %w", p.Name, err)
		}
		return []string{node, entry}, nil
	case ".py":
		python, err := resolveRuntime(p.Path, "python3", "python")
		if err != nil {
			return nil, fmt.Errorf("no Python runtime for %s: %w", p.Name, err)
		}
		return []string{python, entry}, nil
	default:
		// A native artifact is executed directly.
		return []string{entry}, nil
	}
}

// resolveRuntime finds a runtime binary by name. Resolution order per name:
// plugin-bundled binaries/, host-bundled binaries/, then the system PATH.
func resolveRuntime(pluginRoot string, names ...string) (string, error) {
	for _, name := range names {
		bundled := filepath.Join(pluginRoot, "binaries", name)
		if isExecutableFile(bundled) {
			return bundled, nil
		}
		if hostDir := hostBundledDir(); hostDir != "" {
			hostBundled := filepath.Join(hostDir, name)
			if isExecutableFile(hostBundled) {
				return hostBundled, nil
			}
		}
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("none of %v found", names)
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0111 != 0
}

// hostBundledDir is the binaries/ directory next to the host executable.
func hostBundledDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "binaries")
}
