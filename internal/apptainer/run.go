// Package apptainer builds the container invocation executed by the batch job.
package apptainer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
)

// DeduplicateBindPaths cleans, deduplicates, and filters child paths from bind directories.
// It handles formats: "/path", "/path:/container", "/path:/container:ro".
// Symlinks are not resolved: a bind without a container path is mounted at
// the path as written, which is the path the pipeline receives.
// Host paths referencing shell variables ("$TMPDIR/...") are kept verbatim,
// they only resolve inside the job.
func DeduplicateBindPaths(paths []string) []string {
	seen := make(map[string]bool)
	resolved := make([]string, 0, len(paths))
	for _, bind := range paths {
		if bind == "" {
			continue
		}
		parts := strings.SplitN(bind, ":", 3)
		hostPath := cleanHostPath(parts[0])

		if seen[hostPath] {
			continue
		}
		seen[hostPath] = true

		parts[0] = hostPath
		resolved = append(resolved, strings.Join(parts, ":"))
	}

	// Drop binds whose host path lies below another bound host path
	filtered := make([]string, 0, len(resolved))
	for _, bind := range resolved {
		hostPath := strings.SplitN(bind, ":", 2)[0]
		isChild := false
		for _, other := range resolved {
			otherHost := strings.SplitN(other, ":", 2)[0]
			if hostPath == otherHost {
				continue
			}
			rel, err := filepath.Rel(otherHost, hostPath)
			if err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
				isChild = true
				break
			}
		}
		if !isChild {
			filtered = append(filtered, bind)
		}
	}
	return filtered
}

func cleanHostPath(p string) string {
	if strings.Contains(p, "$") {
		return filepath.Clean(p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

// RunOptions contains options for running a container image
type RunOptions struct {
	Bin        string   // apptainer executable, "apptainer" when empty
	Bind       []string // Bind mounts (format: "/host/path[:/container/path[:opts]]")
	Env        []string // Environment variables to set (format: "KEY=VALUE")
	CleanEnv   bool     // Do not pass the host environment
	Additional []string // Additional flags to pass to apptainer run
}

// RunArgs returns the argv that runs image with args, e.g.
//
//	apptainer run --cleanenv --bind /data image <args...>
func RunArgs(image string, args []string, opts *RunOptions) []string {
	if opts == nil {
		opts = &RunOptions{}
	}
	bin := opts.Bin
	if bin == "" {
		bin = "apptainer"
	}

	argv := []string{bin, "run"}
	if opts.CleanEnv {
		argv = append(argv, "--cleanenv")
	}
	for _, bind := range DeduplicateBindPaths(opts.Bind) {
		argv = append(argv, "--bind", bind)
	}
	for _, env := range opts.Env {
		argv = append(argv, "--env", env)
	}
	argv = append(argv, opts.Additional...)
	argv = append(argv, image)
	argv = append(argv, args...)

	utils.PrintDebug("Container command for %s: %s",
		utils.StylePath(image),
		utils.StyleCommand(strings.Join(argv, " ")))
	return argv
}

// ImageNotFoundError is returned when the container image is not readable
type ImageNotFoundError struct {
	Path string
	Err  error
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("container image not found: %s (%v)", e.Path, e.Err)
}

func (e *ImageNotFoundError) Unwrap() error { return e.Err }

// CheckImage verifies that the image exists and is a regular file.
func CheckImage(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ImageNotFoundError{Path: path, Err: err}
	}
	if info.IsDir() {
		// sandbox images are directories
		return nil
	}
	if !info.Mode().IsRegular() {
		return &ImageNotFoundError{Path: path, Err: fmt.Errorf("not a regular file")}
	}
	return nil
}
