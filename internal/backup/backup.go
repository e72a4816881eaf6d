// Package backup makes agent mutations reversible. It snapshots files
// before they are written, moves deletions into a session trash, records
// unified diffs and restores from either store.
//
// Everything is scoped to one session under the project data directory:
//
//	<data>/sessions/<date>_<session>/   snapshots and metadata.json
//	<data>/diffs/<date>/                unified diffs
//	<data>/trash/<session>/<rel>        soft-deleted files
package backup

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"

	"github.com/agentsh/agentguard/internal/fslock"
)

var (
	ErrNotFound     = errors.New("backup: record not found")
	ErrBackupFailed = errors.New("backup: snapshot failed")
)

// DefaultCompressThreshold is the size from which snapshots are gzipped.
const DefaultCompressThreshold = 10000

const (
	metadataFile = "metadata.json"
	dateLayout   = "2006-01-02"
)

type BackupRecord struct {
	OriginalPath string    `json:"originalPath"`
	BackupPath   string    `json:"backupPath"`
	Timestamp    time.Time `json:"timestamp"`
	Size         int64     `json:"size"`
	Hash         string    `json:"hash"`
	Compressed   bool      `json:"compressed"`
}

type DeletionRecord struct {
	OriginalPath   string     `json:"originalPath"`
	TrashPath      string     `json:"trashPath"`
	DeletedAt      time.Time  `json:"deletedAt"`
	CanRestore     bool       `json:"canRestore"`
	RestoredAt     *time.Time `json:"restoredAt,omitempty"`
	RestoreCommand string     `json:"restoreCommand"`
}

type RestoreRecord struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	RestoredAt time.Time `json:"restoredAt"`
	Type       string    `json:"type,omitempty"`
}

type DiffRecord struct {
	FilePath     string    `json:"filePath"`
	DiffPath     string    `json:"diffPath"`
	Timestamp    time.Time `json:"timestamp"`
	LinesAdded   int       `json:"linesAdded"`
	LinesRemoved int       `json:"linesRemoved"`
}

// Metadata is the per-session record log.
type Metadata struct {
	SessionID string           `json:"sessionId"`
	StartedAt time.Time        `json:"startedAt"`
	Backups   []BackupRecord   `json:"backups"`
	Diffs     []DiffRecord     `json:"diffs"`
	Deletions []DeletionRecord `json:"deletions"`
	Restores  []RestoreRecord  `json:"restores"`
	// Sequences holds the last snapshot number per original path.
	Sequences map[string]int `json:"sequences,omitempty"`
}

type Options struct {
	ProjectRoot string
	// DataDir defaults to <ProjectRoot>/.agentguard.
	DataDir           string
	SessionID         string
	CompressThreshold int64
	Logger            *slog.Logger
	// Now is used for timestamps and directory dates.
	Now func() time.Time
}

type Manager struct {
	projectRoot string
	dataDir     string
	sessionID   string
	sessionDir  string
	trashDir    string
	threshold   int64
	log         *slog.Logger
	now         func() time.Time
}

func New(opts Options) (*Manager, error) {
	if opts.ProjectRoot == "" {
		return nil, errors.New("backup: project root required")
	}
	if opts.SessionID == "" {
		return nil, errors.New("backup: session id required")
	}
	if strings.ContainsAny(opts.SessionID, `/\`) || opts.SessionID == "." || opts.SessionID == ".." {
		return nil, fmt.Errorf("backup: invalid session id %q", opts.SessionID)
	}
	root, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		projectRoot: root,
		dataDir:     opts.DataDir,
		sessionID:   opts.SessionID,
		threshold:   opts.CompressThreshold,
		log:         opts.Logger,
		now:         opts.Now,
	}
	if m.dataDir == "" {
		m.dataDir = filepath.Join(root, ".agentguard")
	}
	if m.threshold <= 0 {
		m.threshold = DefaultCompressThreshold
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.trashDir = filepath.Join(m.dataDir, "trash", m.sessionID)
	m.sessionDir = m.findSessionDir()
	return m, nil
}

// findSessionDir reuses the directory of an earlier invocation of the same
// session, so a session running past midnight keeps one metadata file.
func (m *Manager) findSessionDir() string {
	root := filepath.Join(m.dataDir, "sessions")
	matches, _ := filepath.Glob(filepath.Join(root, "*_"+m.sessionID))
	for _, p := range matches {
		name := filepath.Base(p)
		if _, err := time.Parse(dateLayout, strings.TrimSuffix(name, "_"+m.sessionID)); err == nil {
			return p
		}
	}
	return filepath.Join(root, m.now().Format(dateLayout)+"_"+m.sessionID)
}

func (m *Manager) SessionID() string  { return m.sessionID }
func (m *Manager) SessionDir() string { return m.sessionDir }
func (m *Manager) TrashDir() string   { return m.trashDir }
func (m *Manager) DiffDir() string {
	return filepath.Join(m.dataDir, "diffs", m.now().Format(dateLayout))
}

// Backup snapshots path before it is modified. A path that does not exist
// yields a nil record: a new file has no pre-image.
func (m *Manager) Backup(path string) (*BackupRecord, error) {
	abs := m.absolute(path)
	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackupFailed, abs, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrBackupFailed, abs)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrBackupFailed, abs, err)
	}

	payload := content
	compressed := int64(len(content)) >= m.threshold
	if compressed {
		if payload, err = gzipBytes(content); err != nil {
			return nil, fmt.Errorf("%w: compress %s: %v", ErrBackupFailed, abs, err)
		}
	}

	var rec BackupRecord
	err = m.update(func(md *Metadata) error {
		seq := md.Sequences[abs] + 1
		now := m.now()
		dest := filepath.Join(m.sessionDir, fmt.Sprintf("%s.%d.%d.bak", m.safeName(abs), now.UnixMilli(), seq))
		if compressed {
			dest += ".gz"
		}
		if err := fslock.WriteFileAtomic(dest, payload, 0o600); err != nil {
			return err
		}
		rec = BackupRecord{
			OriginalPath: abs,
			BackupPath:   dest,
			Timestamp:    now.UTC(),
			Size:         int64(len(content)),
			Hash:         hashBytes(content),
			Compressed:   compressed,
		}
		md.Sequences[abs] = seq
		md.Backups = append(md.Backups, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackupFailed, abs, err)
	}
	m.log.Debug("backup created", "path", abs, "backup", rec.BackupPath, "compressed", rec.Compressed)
	return &rec, nil
}

// RestoreFromBackup writes the snapshot at backupPath back over its original
// path. Whatever currently occupies the target is snapshotted first, so the
// restore can itself be undone.
func (m *Manager) RestoreFromBackup(backupPath string) (*RestoreRecord, error) {
	rec, err := m.FindBackup(backupPath)
	if err != nil {
		return nil, err
	}
	content, err := readSnapshot(rec)
	if err != nil {
		return nil, err
	}
	if rec.Hash != "" && hashBytes(content) != rec.Hash {
		return nil, fmt.Errorf("backup %s is corrupt: hash mismatch", backupPath)
	}

	if _, err := m.Backup(rec.OriginalPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(rec.OriginalPath), 0o755); err != nil {
		return nil, err
	}
	perm := os.FileMode(0o644)
	if info, err := os.Stat(rec.OriginalPath); err == nil {
		perm = info.Mode().Perm()
	}
	if err := fslock.WriteFileAtomic(rec.OriginalPath, content, perm); err != nil {
		return nil, fmt.Errorf("restore %s: %w", rec.OriginalPath, err)
	}

	out := RestoreRecord{From: backupPath, To: rec.OriginalPath, RestoredAt: m.now().UTC(), Type: "backup"}
	if err := m.update(func(md *Metadata) error {
		md.Restores = append(md.Restores, out)
		return nil
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindBackup returns the record of the snapshot stored at backupPath.
func (m *Manager) FindBackup(backupPath string) (*BackupRecord, error) {
	md, err := m.Metadata()
	if err != nil {
		return nil, err
	}
	for i := range md.Backups {
		if md.Backups[i].BackupPath == backupPath {
			return &md.Backups[i], nil
		}
	}
	return nil, fmt.Errorf("%w: backup %s", ErrNotFound, backupPath)
}

// ReadBackup returns the original bytes of a snapshot.
func (m *Manager) ReadBackup(rec *BackupRecord) ([]byte, error) {
	return readSnapshot(rec)
}

// ListBackups returns the snapshots of path, oldest first. An empty path
// lists every snapshot of the session.
func (m *Manager) ListBackups(path string) ([]BackupRecord, error) {
	md, err := m.Metadata()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return md.Backups, nil
	}
	abs := m.absolute(path)
	var out []BackupRecord
	for _, b := range md.Backups {
		if b.OriginalPath == abs {
			out = append(out, b)
		}
	}
	return out, nil
}

// Metadata returns the session's record log.
func (m *Manager) Metadata() (*Metadata, error) {
	return m.loadMetadata(filepath.Join(m.sessionDir, metadataFile))
}

func (m *Manager) update(fn func(md *Metadata) error) error {
	path := filepath.Join(m.sessionDir, metadataFile)
	unlock, err := fslock.Lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	md, err := m.loadMetadata(path)
	if err != nil {
		return err
	}
	if err := fn(md); err != nil {
		return err
	}
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	return fslock.WriteFileAtomic(path, b, 0o600)
}

func (m *Manager) loadMetadata(path string) (*Metadata, error) {
	md := &Metadata{SessionID: m.sessionID, StartedAt: m.now().UTC()}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read metadata: %w", err)
	default:
		if err := json.Unmarshal(b, md); err != nil {
			return nil, fmt.Errorf("parse metadata %s: %w", path, err)
		}
	}
	if md.Sequences == nil {
		md.Sequences = map[string]int{}
	}
	return md, nil
}

func (m *Manager) absolute(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.projectRoot, p)
	}
	return filepath.Clean(p)
}

// relative returns p relative to the project, or "" when p is outside it.
func (m *Manager) relative(p string) string {
	rel, err := filepath.Rel(m.projectRoot, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return rel
}

// safeName flattens a path into a single file name component.
func (m *Manager) safeName(abs string) string {
	rel := m.relative(abs)
	if rel == "" {
		rel = filepath.Join("_external", strings.TrimPrefix(filepath.ToSlash(abs), "/"))
	}
	r := strings.NewReplacer("/", "_", `\`, "_", ":", "_")
	return r.Replace(filepath.ToSlash(rel))
}

func readSnapshot(rec *BackupRecord) ([]byte, error) {
	b, err := os.ReadFile(rec.BackupPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: snapshot file %s", ErrNotFound, rec.BackupPath)
	}
	if err != nil {
		return nil, err
	}
	if !rec.Compressed {
		return b, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", rec.BackupPath, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", rec.BackupPath, err)
	}
	return out, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func hashBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
