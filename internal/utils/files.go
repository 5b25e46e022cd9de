package utils

import (
	"os"
	"path/filepath"
	"sort"
)

// PermDir is u=rwx, g=rwx, o=rx (Requires +x to traverse)
const PermDir os.FileMode = 0775

// --- Filesystem Checks (OS-based) ---

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// EnsureDir checks if a directory exists, and creates it if it doesn't.
func EnsureDir(path string) error {
	if DirExists(path) {
		return nil
	}
	return os.MkdirAll(path, PermDir)
}

// GlobDirs returns the directories matching pattern, sorted by path.
// Non-directory matches are dropped.
func GlobDirs(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(matches))
	for _, m := range matches {
		if DirExists(m) {
			dirs = append(dirs, m)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// AbsPath returns the absolute, cleaned form of path. If the absolute path
// cannot be determined the cleaned input is returned.
func AbsPath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
