package utils

import (
	"os"
	"os/user"
	"path/filepath"
)

// HomeDir prefers $HOME so services can be pointed elsewhere
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// FindProjectRoot walks up from startDir to the directory holding go.mod,
// falling back to startDir.
func FindProjectRoot(startDir string) string {
	for dir := startDir; ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}
