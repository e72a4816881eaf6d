// Package session scopes agentguard state to one period of agent activity:
// it resolves the session id and keeps the pending operations and cached
// git verification that carry over between hook invocations.
package session

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/agentsh/agentguard/internal/fslock"
)

const (
	EnvSessionID = "AGENTGUARD_SESSION_ID"
	sidFileName  = "session.sid"
)

var ErrInvalidSessionID = errors.New("invalid session id")

var (
	sessionIDRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	unsafeRe    = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

type ResolveOptions struct {
	// Explicit is the id supplied by the host, such as the hook payload's
	// session_id. It wins over everything else.
	Explicit string
	Getenv   func(string) string
	// DataDir holds the file-backed fallback id.
	DataDir string
}

// ResolveID picks the session id.
//
// Priority:
//  1. the host supplied id
//  2. AGENTGUARD_SESSION_ID
//  3. <data dir>/session.sid, created on first use
//
// Ids are normalized so they are safe as a single path component.
func ResolveID(opts ResolveOptions) (string, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(opts.Explicit); v != "" {
		return Normalize(v)
	}
	if v := strings.TrimSpace(getenv(EnvSessionID)); v != "" {
		return Normalize(v)
	}
	if opts.DataDir == "" {
		return "session-" + uuid.NewString(), nil
	}
	return readOrCreateIDFile(filepath.Join(opts.DataDir, sidFileName))
}

// Normalize replaces characters that are not allowed in directory names.
func Normalize(id string) (string, error) {
	id = unsafeRe.ReplaceAllString(strings.TrimSpace(id), "_")
	if len(id) > 128 {
		id = id[:128]
	}
	if !sessionIDRe.MatchString(id) {
		return "", ErrInvalidSessionID
	}
	return id, nil
}

func readOrCreateIDFile(path string) (string, error) {
	unlock, err := fslock.Lock(path)
	if err != nil {
		return "", err
	}
	defer unlock()

	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return Normalize(id)
		}
	}
	id := "session-" + uuid.NewString()
	if err := fslock.WriteFileAtomic(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
