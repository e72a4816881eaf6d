package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/agentsh/agentguard/internal/fslock"
)

// GenerateDiff writes a unified diff of oldContent -> newContent for path
// into the dated diff directory. Identical content produces no diff and a
// nil record.
func (m *Manager) GenerateDiff(path string, oldContent, newContent []byte) (*DiffRecord, error) {
	abs := m.absolute(path)
	rel := m.relative(abs)
	if rel == "" {
		rel = abs
	}
	rel = filepath.ToSlash(rel)

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldContent)),
		B:        difflib.SplitLines(string(newContent)),
		FromFile: "a/" + strings.TrimPrefix(rel, "/"),
		ToFile:   "b/" + strings.TrimPrefix(rel, "/"),
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", abs, err)
	}
	if text == "" {
		return nil, nil
	}

	now := m.now()
	dest := filepath.Join(m.DiffDir(), fmt.Sprintf("%s.%d.diff", m.safeName(abs), now.UnixMilli()))
	dest = UniquePath(dest)
	if err := fslock.WriteFileAtomic(dest, []byte(text), 0o600); err != nil {
		return nil, fmt.Errorf("write diff: %w", err)
	}

	added, removed := countChanges(text)
	rec := DiffRecord{
		FilePath:     abs,
		DiffPath:     dest,
		Timestamp:    now.UTC(),
		LinesAdded:   added,
		LinesRemoved: removed,
	}
	if err := m.update(func(md *Metadata) error {
		md.Diffs = append(md.Diffs, rec)
		return nil
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DiffAgainstBackup diffs a snapshot against the current content of its
// original path.
func (m *Manager) DiffAgainstBackup(rec *BackupRecord) (*DiffRecord, error) {
	old, err := readSnapshot(rec)
	if err != nil {
		return nil, err
	}
	cur, err := os.ReadFile(rec.OriginalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return m.GenerateDiff(rec.OriginalPath, old, cur)
}

func countChanges(diff string) (added, removed int) {
	lines := strings.Split(diff, "\n")
	if len(lines) > 2 {
		// file header
		lines = lines[2:]
	}
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
