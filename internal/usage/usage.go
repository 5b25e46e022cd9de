// Package usage reads the resource usage that Torque appends to job logs:
//
//	Used resources:	   cput=03:22:23,walltime=01:01:53,mem=17452716032b
package usage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
)

// DefaultPattern matches Torque stdout logs (<name>.o<jobid>).
const DefaultPattern = "*.o*"

var usedRe = regexp.MustCompile(`(?m)(Used resources:.*,walltime=.*,mem=.*)$`)

// Record is the usage of one job.
type Record struct {
	File     string
	CPUTime  time.Duration
	Walltime time.Duration
	MemBytes uint64
}

// WalltimeHours returns the walltime in hours.
func (r Record) WalltimeHours() float64 { return r.Walltime.Hours() }

// MemGB returns the memory in GiB.
func (r Record) MemGB() float64 { return float64(r.MemBytes) / (1 << 30) }

// ParseError is returned for a log without a readable usage line.
type ParseError struct {
	File   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %s: %s", e.File, e.Reason)
}

// IsParseError checks if an error is a ParseError
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Parse extracts the usage line from the content of a log file. The fields
// are taken by position: cput, walltime, mem.
func Parse(name string, content []byte) (Record, error) {
	rec := Record{File: name}
	m := usedRe.FindSubmatch(content)
	if m == nil {
		return rec, &ParseError{File: name, Reason: "no \"Used resources\" line"}
	}
	fields := strings.Split(strings.TrimSpace(string(m[1])), ",")
	if len(fields) < 3 {
		return rec, &ParseError{File: name, Reason: "too few fields in " + strconv.Quote(string(m[1]))}
	}

	var err error
	if cput, ok := fieldValue(fields[0]); ok {
		if rec.CPUTime, err = utils.ParseClock(cput); err != nil {
			return rec, &ParseError{File: name, Reason: err.Error()}
		}
	}
	wall, ok := fieldValue(fields[1])
	if !ok {
		return rec, &ParseError{File: name, Reason: "malformed walltime field " + strconv.Quote(fields[1])}
	}
	if rec.Walltime, err = utils.ParseClock(wall); err != nil {
		return rec, &ParseError{File: name, Reason: err.Error()}
	}
	mem, ok := fieldValue(fields[2])
	if !ok || !strings.HasSuffix(mem, "b") {
		return rec, &ParseError{File: name, Reason: "malformed mem field " + strconv.Quote(fields[2])}
	}
	if rec.MemBytes, err = strconv.ParseUint(strings.TrimSuffix(mem, "b"), 10, 64); err != nil {
		return rec, &ParseError{File: name, Reason: "malformed mem field " + strconv.Quote(fields[2])}
	}
	return rec, nil
}

func fieldValue(field string) (string, bool) {
	_, v, ok := strings.Cut(field, "=")
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

// ParseFile reads and parses one log file.
func ParseFile(path string) (Record, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Record{File: path}, err
	}
	return Parse(path, content)
}

// Folder is the parsed usage of all logs in one directory.
type Folder struct {
	Dir     string
	Records []Record
	Failed  []error
}

// MaxWalltime returns the longest walltime in the folder.
func (f *Folder) MaxWalltime() time.Duration {
	var m time.Duration
	for _, r := range f.Records {
		if r.Walltime > m {
			m = r.Walltime
		}
	}
	return m
}

// MaxMemBytes returns the largest memory use in the folder.
func (f *Folder) MaxMemBytes() uint64 {
	var m uint64
	for _, r := range f.Records {
		if r.MemBytes > m {
			m = r.MemBytes
		}
	}
	return m
}

// ScanDir parses every regular file in dir that matches pattern. Files that
// cannot be parsed are collected in Failed and skipped.
func ScanDir(dir, pattern string) (*Folder, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !utils.DirExists(dir) {
		return nil, fmt.Errorf("log folder %s does not exist: %w", dir, os.ErrNotExist)
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	folder := &Folder{Dir: dir}
	for _, path := range matches {
		if !utils.FileExists(path) {
			continue
		}
		rec, err := ParseFile(path)
		if err != nil {
			folder.Failed = append(folder.Failed, err)
			continue
		}
		folder.Records = append(folder.Records, rec)
	}
	return folder, nil
}
