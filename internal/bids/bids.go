// Package bids enumerates subjects and sessions of a BIDS-style data directory.
package bids

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
)

const (
	// SubjectPrefix is the fixed prefix of every subject folder ("sub-001").
	SubjectPrefix = "sub-"
	// SessionPrefix is the fixed prefix of every session folder ("ses-01").
	SessionPrefix = "ses-"
)

// Subject is one participant folder below a data root. The folder need not
// exist; callers check Exists before doing any work.
type Subject struct {
	ID   string // canonical identifier including the prefix, e.g. "sub-001"
	Path string // <root>/<ID>
}

// NewSubject builds the subject entry for label under root. The label may be
// given with or without the "sub-" prefix.
func NewSubject(root, label string) Subject {
	id := NormalizeID(label)
	return Subject{ID: id, Path: filepath.Join(root, id)}
}

// NormalizeID strips the subject prefix (if present) and re-applies it, so
// "001", "sub-001" and "sub-001/" all map to "sub-001".
func NormalizeID(label string) string {
	label = strings.Trim(strings.TrimSpace(label), "/")
	return SubjectPrefix + strings.TrimPrefix(label, SubjectPrefix)
}

// Label returns the identifier without the subject prefix.
func (s Subject) Label() string {
	return strings.TrimPrefix(s.ID, SubjectPrefix)
}

// Exists reports whether the subject folder is present.
func (s Subject) Exists() bool {
	return utils.DirExists(s.Path)
}

// In returns the same subject rooted at another directory, e.g. the
// derivatives folder.
func (s Subject) In(root string) Subject {
	return Subject{ID: s.ID, Path: filepath.Join(root, s.ID)}
}

// Sessions returns the names of the session folders of the subject, sorted.
// A missing subject folder yields no sessions and no error.
func (s Subject) Sessions() ([]string, error) {
	return ListSessions(s.Path)
}

// String implements fmt.Stringer.
func (s Subject) String() string { return s.ID }

// Scan returns the subjects to consider below root. With explicit labels the
// entries are normalized and returned in the given order without checking
// that they exist; duplicates are dropped. Without labels every "sub-*"
// directory directly below root is returned, sorted by name.
func Scan(root string, labels []string) ([]Subject, error) {
	if len(labels) > 0 {
		seen := make(map[string]bool, len(labels))
		subjects := make([]Subject, 0, len(labels))
		for _, label := range labels {
			if strings.TrimSpace(label) == "" {
				continue
			}
			s := NewSubject(root, label)
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			subjects = append(subjects, s)
		}
		return subjects, nil
	}

	if !utils.DirExists(root) {
		return nil, fmt.Errorf("data directory %s does not exist: %w", root, os.ErrNotExist)
	}

	dirs, err := utils.GlobDirs(filepath.Join(root, SubjectPrefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	subjects := make([]Subject, 0, len(dirs))
	for _, dir := range dirs {
		subjects = append(subjects, Subject{ID: filepath.Base(dir), Path: dir})
	}
	return subjects, nil
}

// ListSessions returns the "ses-*" directory names directly below dir.
func ListSessions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), SessionPrefix) {
			sessions = append(sessions, entry.Name())
		}
	}
	sort.Strings(sessions)
	return sessions, nil
}
