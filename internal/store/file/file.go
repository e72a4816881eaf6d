// Package file is the default store.Store: one JSON document per session,
// rewritten under an exclusive flock on every mutation.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agentsh/agentguard/internal/fslock"
	"github.com/agentsh/agentguard/internal/store"
)

type record struct {
	Version uint64          `json:"version"`
	Value   json.RawMessage `json:"value,omitempty"`
	Raw     []byte          `json:"raw,omitempty"`
}

type document struct {
	Entries map[string]record `json:"entries"`
}

type Store struct {
	path string
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is empty")
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Get(_ context.Context, key string) (store.Item, error) {
	var item store.Item
	err := s.withLock(func(doc *document) (bool, error) {
		r, ok := doc.Entries[key]
		if !ok {
			return false, store.ErrNotFound
		}
		item = store.Item{Key: key, Value: decodeValue(r), Version: r.Version}
		return false, nil
	})
	if err != nil {
		return store.Item{Key: key}, err
	}
	return item, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) (uint64, error) {
	var version uint64
	err := s.withLock(func(doc *document) (bool, error) {
		r := doc.Entries[key]
		version = r.Version + 1
		doc.Entries[key] = encodeRecord(version, value)
		return true, nil
	})
	return version, err
}

func (s *Store) CompareAndSwap(_ context.Context, key string, expected uint64, value []byte) (bool, error) {
	swapped := false
	err := s.withLock(func(doc *document) (bool, error) {
		r := doc.Entries[key]
		if r.Version != expected {
			return false, nil
		}
		doc.Entries[key] = encodeRecord(expected+1, value)
		swapped = true
		return true, nil
	})
	return swapped, err
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.withLock(func(doc *document) (bool, error) {
		if _, ok := doc.Entries[key]; !ok {
			return false, nil
		}
		delete(doc.Entries, key)
		return true, nil
	})
}

func (s *Store) List(_ context.Context, prefix string) ([]store.Item, error) {
	var out []store.Item
	err := s.withLock(func(doc *document) (bool, error) {
		for k, r := range doc.Entries {
			if strings.HasPrefix(k, prefix) {
				out = append(out, store.Item{Key: k, Value: decodeValue(r), Version: r.Version})
			}
		}
		return false, nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}

func (s *Store) Close() error { return nil }

// withLock loads the document under the lock, runs fn, and writes the
// document back when fn reports a change.
func (s *Store) withLock(fn func(doc *document) (bool, error)) error {
	unlock, err := fslock.Lock(s.path)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(doc)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := fslock.WriteFileAtomic(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (s *Store) load() (*document, error) {
	doc := &document{Entries: map[string]record{}}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]record{}
	}
	return doc, nil
}

// Values are stored inline when they are valid JSON so the state file stays
// readable; anything else is kept base64 encoded.
func encodeRecord(version uint64, v []byte) record {
	if len(v) > 0 && json.Valid(v) {
		return record{Version: version, Value: json.RawMessage(append([]byte(nil), v...))}
	}
	return record{Version: version, Raw: append([]byte{}, v...)}
}

func decodeValue(r record) []byte {
	if r.Raw != nil {
		return append([]byte(nil), r.Raw...)
	}
	return append([]byte(nil), r.Value...)
}
