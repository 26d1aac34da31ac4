// Package testutil provides shared helpers for package, integration, and
// E2E tests: a fake remote store and binary build helpers. It lives outside
// internal/ so the e2e package can import it.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// BuildBinary compiles the firmsync CLI from the module root into dir and
// returns its path.
func BuildBinary(moduleRoot, dir string) (string, error) {
	bin := filepath.Join(dir, "firmsync")

	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("building firmsync: %w", err)
	}

	return bin, nil
}
