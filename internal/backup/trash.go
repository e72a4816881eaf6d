package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SoftDelete moves path into the session trash instead of deleting it. The
// trash mirrors the project layout; paths outside the project land in
// _external/<basename>.
func (m *Manager) SoftDelete(path string) (*DeletionRecord, error) {
	abs := m.absolute(path)
	info, err := os.Lstat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, abs)
	}
	if err != nil {
		return nil, err
	}
	if abs == m.projectRoot || within(m.projectRoot, abs) {
		return nil, fmt.Errorf("refusing to trash %s, it contains the project", abs)
	}
	if within(abs, m.dataDir) {
		return nil, fmt.Errorf("refusing to trash %s inside %s", abs, m.dataDir)
	}

	dest := UniquePath(m.TrashPathFor(abs))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(abs, dest); err != nil {
		// cross-device: copy then remove
		if err := copyPath(abs, dest, info); err != nil {
			return nil, fmt.Errorf("soft delete (copy fallback): %w", err)
		}
		if err := os.RemoveAll(abs); err != nil {
			return nil, fmt.Errorf("cleanup source: %w", err)
		}
	}
	return m.RecordDeletion(abs, dest)
}

// RecordDeletion logs a move into the trash that was carried out by someone
// else, such as a rewritten shell command.
func (m *Manager) RecordDeletion(original, trashPath string) (*DeletionRecord, error) {
	rec := DeletionRecord{
		OriginalPath:   original,
		TrashPath:      trashPath,
		DeletedAt:      m.now().UTC(),
		CanRestore:     true,
		RestoreCommand: fmt.Sprintf("mv %q %q", trashPath, original),
	}
	if err := m.update(func(md *Metadata) error {
		md.Deletions = append(md.Deletions, rec)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("record deletion: %w", err)
	}
	m.log.Info("soft delete", "path", original, "trash", trashPath)
	return &rec, nil
}

// TrashPathFor returns where abs would be placed in the trash, before
// collision handling.
func (m *Manager) TrashPathFor(abs string) string {
	if rel := m.relative(abs); rel != "" {
		return filepath.Join(m.trashDir, rel)
	}
	return filepath.Join(m.trashDir, "_external", filepath.Base(abs))
}

// Restore moves a soft-deleted file back to where it came from. It fails
// with ErrNotFound when no restorable record matches or the trash file is
// gone. An occupied destination is replaced only with force.
func (m *Manager) Restore(trashPath string, force bool) (*RestoreRecord, error) {
	trashPath = m.absolute(trashPath)
	md, err := m.Metadata()
	if err != nil {
		return nil, err
	}
	var rec *DeletionRecord
	for i := range md.Deletions {
		if md.Deletions[i].TrashPath == trashPath && md.Deletions[i].CanRestore {
			rec = &md.Deletions[i]
		}
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no restorable deletion for %s", ErrNotFound, trashPath)
	}
	info, err := os.Lstat(trashPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: trash file %s", ErrNotFound, trashPath)
	}
	if err != nil {
		return nil, err
	}

	target := rec.OriginalPath
	if existing, err := os.Lstat(target); err == nil {
		if !force {
			return nil, fmt.Errorf("destination exists: %s", target)
		}
		if existing.Mode().IsRegular() {
			if _, err := m.Backup(target); err != nil {
				return nil, err
			}
		}
		if err := os.RemoveAll(target); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(trashPath, target); err != nil {
		if err := copyPath(trashPath, target, info); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(trashPath); err != nil {
			return nil, err
		}
	}

	now := m.now().UTC()
	out := RestoreRecord{From: trashPath, To: target, RestoredAt: now}
	err = m.update(func(md *Metadata) error {
		for i := range md.Deletions {
			d := &md.Deletions[i]
			if d.TrashPath == trashPath && d.CanRestore {
				d.CanRestore = false
				d.RestoredAt = &now
			}
		}
		md.Restores = append(md.Restores, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("restored from trash", "path", target, "trash", trashPath)
	return &out, nil
}

// Restorable lists the deletions that can still be restored.
func (m *Manager) Restorable() ([]DeletionRecord, error) {
	md, err := m.Metadata()
	if err != nil {
		return nil, err
	}
	var out []DeletionRecord
	for _, d := range md.Deletions {
		if !d.CanRestore {
			continue
		}
		// recorded ahead of a move that never ran
		if _, err := os.Lstat(d.TrashPath); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

type Summary struct {
	SessionID     string `json:"sessionId"`
	Date          string `json:"date"`
	BackupCount   int    `json:"backupCount"`
	DiffCount     int    `json:"diffCount"`
	DeletionCount int    `json:"deletionCount"`
	RestoreCount  int    `json:"restoreCount"`
	Directories   struct {
		Session string `json:"session"`
		Diffs   string `json:"diffs"`
		Trash   string `json:"trash"`
	} `json:"directories"`
}

func (m *Manager) Summary() (*Summary, error) {
	md, err := m.Metadata()
	if err != nil {
		return nil, err
	}
	s := &Summary{
		SessionID:     m.sessionID,
		Date:          m.now().Format(dateLayout),
		BackupCount:   len(md.Backups),
		DiffCount:     len(md.Diffs),
		DeletionCount: len(md.Deletions),
		RestoreCount:  len(md.Restores),
	}
	s.Directories.Session = m.sessionDir
	s.Directories.Diffs = m.DiffDir()
	s.Directories.Trash = m.trashDir
	return s, nil
}

type PurgeOptions struct {
	// TTL removes session, trash and diff directories last modified before
	// now-TTL.
	TTL time.Duration
	// QuotaBytes trims the oldest trash directories until the trash fits.
	QuotaBytes int64
	Now        time.Time
}

// PurgeSessions removes artifacts of other sessions that are older than the
// TTL or push the trash over quota. The current session is never purged.
func (m *Manager) PurgeSessions(opts PurgeOptions) (int, error) {
	now := opts.Now
	if now.IsZero() {
		now = m.now()
	}
	removed := 0
	type dirEntry struct {
		path  string
		mtime time.Time
		size  int64
	}
	list := func(root string) ([]dirEntry, error) {
		ents, err := os.ReadDir(root)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var out []dirEntry
		for _, e := range ents {
			p := filepath.Join(root, e.Name())
			if !e.IsDir() || p == m.sessionDir || p == m.trashDir {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, dirEntry{path: p, mtime: info.ModTime()})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].mtime.Before(out[j].mtime) })
		return out, nil
	}

	if opts.TTL > 0 {
		cutoff := now.Add(-opts.TTL)
		for _, root := range []string{"sessions", "trash", "diffs"} {
			dirs, err := list(filepath.Join(m.dataDir, root))
			if err != nil {
				return removed, err
			}
			for _, d := range dirs {
				if root == "diffs" && d.path == m.DiffDir() {
					continue
				}
				if d.mtime.Before(cutoff) {
					if err := os.RemoveAll(d.path); err != nil {
						return removed, err
					}
					m.log.Info("purged old session artifacts", "path", d.path)
					removed++
				}
			}
		}
	}

	if opts.QuotaBytes > 0 {
		dirs, err := list(filepath.Join(m.dataDir, "trash"))
		if err != nil {
			return removed, err
		}
		var total int64
		for i := range dirs {
			info, err := os.Lstat(dirs[i].path)
			if err != nil {
				continue
			}
			dirs[i].size, _ = sizeOf(dirs[i].path, info)
			total += dirs[i].size
		}
		for total > opts.QuotaBytes && len(dirs) > 0 {
			if err := os.RemoveAll(dirs[0].path); err != nil {
				return removed, err
			}
			total -= dirs[0].size
			dirs = dirs[1:]
			removed++
		}
	}
	return removed, nil
}

// UniquePath appends .N before the extension until the path is unused.
func UniquePath(p string) string {
	if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
		return p
	}
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		c := base + "." + strconv.Itoa(i) + ext
		if _, err := os.Lstat(c); errors.Is(err, os.ErrNotExist) {
			return c
		}
	}
}

func within(p, root string) bool {
	if p == root {
		return true
	}
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func sizeOf(path string, info os.FileInfo) (int64, error) {
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err := filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

func copyPath(src, dest string, info os.FileInfo) error {
	if info.IsDir() {
		if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			childInfo, err := os.Lstat(filepath.Join(src, ent.Name()))
			if err != nil {
				return err
			}
			if err := copyPath(filepath.Join(src, ent.Name()), filepath.Join(dest, ent.Name()), childInfo); err != nil {
				return err
			}
		}
		return nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dest)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
