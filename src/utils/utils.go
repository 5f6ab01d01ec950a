package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// FindProjectRoot returns the directory holding the module's go.mod, found by
// walking up from this source file. Tests use it to load .env and migrations
// whatever package they run from.
func FindProjectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	root, err := findModuleRoot(filepath.Dir(filename))
	if err != nil {
		panic(err)
	}
	return root
}

// ProjectPath joins elem onto the module root.
func ProjectPath(elem ...string) string {
	return filepath.Join(append([]string{FindProjectRoot()}, elem...)...)
}

func findModuleRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod above %s", dir)
		}
		dir = parent
	}
}
