package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/agentsh/agentguard/internal/fslock"
)

const (
	EnvLevel  = "AGENTGUARD_LEVEL"
	EnvLevels = "AGENTGUARD_LEVELS"

	// LevelsFileName is looked up in the project data dir and the config dir.
	LevelsFileName = "levels.json"
	// LevelMarkerName holds the selected level inside the project data dir.
	LevelMarkerName = "level"
)

// LoadFromFile reads a level table. Files ending in .yaml or .yml are YAML;
// anything else is JSON with comments and trailing commas allowed.
func LoadFromFile(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read levels: %w", err)
	}
	t, err := LoadFromBytes(b, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadFromBytes parses and validates a level table; ext selects the format.
func LoadFromBytes(b []byte, ext string) (*Table, error) {
	var t Table
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("%w: parse yaml: %w", ErrInvalidConfig, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(b)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("%w: parse json: %w", ErrInvalidConfig, err)
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Candidates lists the level table locations in lookup order: the explicit
// path, $AGENTGUARD_LEVELS, the project data dir, then the config dir.
func Candidates(explicit, dataDir, configDir string) []string {
	var out []string
	if explicit != "" {
		out = append(out, explicit)
	}
	if env := os.Getenv(EnvLevels); env != "" {
		out = append(out, env)
	}
	if dataDir != "" {
		out = append(out, filepath.Join(dataDir, LevelsFileName))
	}
	if configDir != "" {
		out = append(out, filepath.Join(configDir, LevelsFileName))
	}
	return out
}

// ResolveTablePath returns the first candidate that exists.
func ResolveTablePath(candidates []string) (string, error) {
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrConfigurationMissing
}

// LoadTable loads the first existing candidate, or the built-in table when
// none exists. The returned path is empty for the built-in table. An
// invalid file is an error: callers must fail closed, never fall back.
func LoadTable(candidates []string) (*Table, string, error) {
	path, err := ResolveTablePath(candidates)
	if errors.Is(err, ErrConfigurationMissing) {
		return Builtin(), "", nil
	}
	t, err := LoadFromFile(path)
	if err != nil {
		return nil, path, err
	}
	return t, path, nil
}

// CurrentLevel resolves the active level: $AGENTGUARD_LEVEL, then the marker
// file in dataDir, then the table default.
func CurrentLevel(t *Table, dataDir string) (*Level, error) {
	raw := strings.TrimSpace(os.Getenv(EnvLevel))
	if raw == "" && dataDir != "" {
		b, err := os.ReadFile(filepath.Join(dataDir, LevelMarkerName))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read level marker: %w", err)
		}
		raw = strings.TrimSpace(string(b))
	}
	if raw == "" {
		if d := t.Default(); d != nil {
			return d, nil
		}
		return nil, fmt.Errorf("%w: no default level", ErrInvalidConfig)
	}
	name, err := ParseLevelName(raw)
	if err != nil {
		return nil, err
	}
	return t.Level(name)
}

// SetCurrentLevel writes the marker file in dataDir.
func SetCurrentLevel(dataDir string, name LevelName) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownLevel, name)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	return fslock.WriteFileAtomic(filepath.Join(dataDir, LevelMarkerName), []byte(string(name)+"\n"), 0o644)
}
