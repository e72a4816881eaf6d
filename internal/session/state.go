package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentsh/agentguard/internal/store"
	"github.com/agentsh/agentguard/internal/store/file"
	"github.com/agentsh/agentguard/internal/store/memory"
	"github.com/agentsh/agentguard/internal/store/sqlite"
)

const (
	pendingPrefix     = "pending/"
	gitVerifiedPrefix = "git_verified/"
)

// Backends accepted by OpenStore.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// OpenStore opens the session's state store under <data dir>/state.
func OpenStore(backend, dataDir, sessionID string) (store.Store, error) {
	dir := filepath.Join(dataDir, "state")
	switch strings.ToLower(backend) {
	case "", BackendFile:
		return file.New(filepath.Join(dir, sessionID+".json"))
	case BackendSQLite:
		return sqlite.Open(filepath.Join(dir, sessionID+".db"))
	case BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

type Move struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// PendingOperation is a pre-phase decision waiting for its post phase.
type PendingOperation struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	Virtual   json.RawMessage `json:"virtual,omitempty"`
	Resolved  string          `json:"resolved,omitempty"`
	Level     string          `json:"level"`
	Outcome   string          `json:"outcome"`
	Backup    string          `json:"backup,omitempty"`
	Moves     []Move          `json:"moves,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// State is the per-session view over a store.Store.
type State struct {
	st  store.Store
	now func() time.Time
}

func NewState(st store.Store) *State {
	return &State{st: st, now: time.Now}
}

func (s *State) Store() store.Store { return s.st }

func (s *State) PutPending(ctx context.Context, op PendingOperation) error {
	if op.ID == "" {
		return errors.New("pending operation needs an id")
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = s.now().UTC()
	}
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	_, err = s.st.Put(ctx, pendingPrefix+op.ID, b)
	return err
}

// TakePending removes and returns the pending operation for id. A missing
// entry yields nil without error.
func (s *State) TakePending(ctx context.Context, id string) (*PendingOperation, error) {
	key := pendingPrefix + id
	it, err := s.st.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var op PendingOperation
	if err := json.Unmarshal(it.Value, &op); err != nil {
		return nil, fmt.Errorf("decode pending %s: %w", id, err)
	}
	if err := s.st.Delete(ctx, key); err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *State) ListPending(ctx context.Context) ([]PendingOperation, error) {
	items, err := s.st.List(ctx, pendingPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]PendingOperation, 0, len(items))
	for _, it := range items {
		var op PendingOperation
		if err := json.Unmarshal(it.Value, &op); err != nil {
			continue
		}
		out = append(out, op)
	}
	return out, nil
}

// PrunePending drops pending operations created more than olderThan ago.
func (s *State) PrunePending(ctx context.Context, olderThan time.Duration) (int, error) {
	ops, err := s.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan)
	n := 0
	for _, op := range ops {
		if op.CreatedAt.Before(cutoff) {
			if err := s.st.Delete(ctx, pendingPrefix+op.ID); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

type gitVerified struct {
	VerifiedAt time.Time `json:"verifiedAt"`
}

// GitVerified reports whether git verification already passed for level in
// this session.
func (s *State) GitVerified(ctx context.Context, level string) (bool, error) {
	_, err := s.st.Get(ctx, gitVerifiedPrefix+level)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *State) MarkGitVerified(ctx context.Context, level string) error {
	b, err := json.Marshal(gitVerified{VerifiedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	_, err = s.st.Put(ctx, gitVerifiedPrefix+level, b)
	return err
}
