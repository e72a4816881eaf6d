package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agentsh/agentguard/internal/policy/pattern"
)

var (
	ErrUnknownLevel         = errors.New("unknown security level")
	ErrConfigurationMissing = errors.New("level table not found")
	ErrInvalidConfig        = errors.New("invalid level table")
)

// LevelName identifies one of the ten security levels.
type LevelName string

const (
	Jailed          LevelName = "jailed"
	Sandbox         LevelName = "sandbox"
	Playground      LevelName = "playground"
	AsUser          LevelName = "asuser"
	AsUserRemote    LevelName = "asuserremote"
	AsRoot          LevelName = "asroot"
	AsRootRemote    LevelName = "asrootremote"
	BackstagePass   LevelName = "BACKSTAGEPASS"
	AllAccessPass   LevelName = "ALLACCESSPASS"
	InsertDeityHere LevelName = "INSERTDIETYHERE"
)

// AllLevels lists every level by ascending risk.
var AllLevels = []LevelName{
	Jailed, Sandbox, Playground,
	AsUser, AsUserRemote,
	AsRoot, AsRootRemote,
	BackstagePass, AllAccessPass, InsertDeityHere,
}

// ParseLevelName accepts a level name in any letter case.
func ParseLevelName(s string) (LevelName, error) {
	s = strings.TrimSpace(s)
	for _, n := range AllLevels {
		if strings.EqualFold(string(n), s) {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// Risk is the position of the level in AllLevels, or -1 for unknown names.
func (n LevelName) Risk() int {
	for i, l := range AllLevels {
		if l == n {
			return i
		}
	}
	return -1
}

func (n LevelName) Valid() bool { return n.Risk() >= 0 }

func (n LevelName) String() string { return string(n) }

type Boundaries struct {
	ProjectOnly      bool `json:"projectOnly" yaml:"projectOnly"`
	AllowHomeAccess  bool `json:"allowHomeAccess" yaml:"allowHomeAccess"`
	AllowSystemPaths bool `json:"allowSystemPaths" yaml:"allowSystemPaths"`
	AllowDevices     bool `json:"allowDevices" yaml:"allowDevices"`
	AllowSystemWrite bool `json:"allowSystemWrite" yaml:"allowSystemWrite"`
	AllowRemote      bool `json:"allowRemote" yaml:"allowRemote"`
	Unrestricted     bool `json:"unrestricted" yaml:"unrestricted"`
	Omnipotent       bool `json:"omnipotent" yaml:"omnipotent"`
	NoLimits         bool `json:"noLimits,omitempty" yaml:"noLimits,omitempty"`
}

type Commands struct {
	Allowed         []string `json:"allowed" yaml:"allowed"`
	Blocked         []string `json:"blocked" yaml:"blocked"`
	RequireApproval []string `json:"requireApproval" yaml:"requireApproval"`
	SoftDelete      []string `json:"softDelete,omitempty" yaml:"softDelete,omitempty"`
}

// PathMode controls how much of a real path is hidden from the agent.
type PathMode string

const (
	PathsNone       PathMode = "none"
	PathsLight      PathMode = "light"
	PathsModerate   PathMode = "moderate"
	PathsAggressive PathMode = "aggressive"
)

type UsernameMode string

const (
	UsernameNone   UsernameMode = "none"
	UsernameAlways UsernameMode = "always"
)

type Sanitization struct {
	Paths    PathMode     `json:"paths" yaml:"paths"`
	Username UsernameMode `json:"username" yaml:"username"`
	Disabled bool         `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

type BackupPolicy struct {
	BeforeAnyChange   bool `json:"beforeAnyChange" yaml:"beforeAnyChange"`
	SoftDeleteEnabled bool `json:"softDeleteEnabled" yaml:"softDeleteEnabled"`
	Diffs             bool `json:"diffs" yaml:"diffs"`
	Disabled          bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// GitRequirements are checked once per session for levels with gitRequired.
type GitRequirements struct {
	RequireCleanTree  bool     `json:"requireCleanTree" yaml:"requireCleanTree"`
	RequireBranchSync bool     `json:"requireBranchSync" yaml:"requireBranchSync"`
	AllowedBranches   []string `json:"allowedBranches,omitempty" yaml:"allowedBranches,omitempty"`
	BlockAhead        bool     `json:"blockAhead,omitempty" yaml:"blockAhead,omitempty"`
	BlockDiverged     bool     `json:"blockDiverged,omitempty" yaml:"blockDiverged,omitempty"`
	Fetch             bool     `json:"fetch,omitempty" yaml:"fetch,omitempty"`
}

type Level struct {
	Name        LevelName `json:"name,omitempty" yaml:"name,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Risk        string    `json:"risk,omitempty" yaml:"risk,omitempty"`
	Tagline     string    `json:"tagline,omitempty" yaml:"tagline,omitempty"`
	Emoji       string    `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Default     bool      `json:"default,omitempty" yaml:"default,omitempty"`

	Boundaries       Boundaries    `json:"boundaries" yaml:"boundaries"`
	Commands         Commands      `json:"commands" yaml:"commands"`
	Sanitization     Sanitization  `json:"sanitization" yaml:"sanitization"`
	Backup           *BackupPolicy `json:"backup,omitempty" yaml:"backup,omitempty"`
	ApprovalRequired *bool         `json:"approvalRequired,omitempty" yaml:"approvalRequired,omitempty"`

	GitRequired     bool            `json:"gitRequired" yaml:"gitRequired"`
	GitVerification GitRequirements `json:"gitVerification" yaml:"gitVerification"`

	compiled *compiledCommands
}

type compiledCommands struct {
	allowed         *pattern.Set
	blocked         *pattern.Set
	requireApproval *pattern.Set
	softDelete      *pattern.Set
}

// PathMode returns the effective path sanitization mode.
func (l *Level) PathMode() PathMode {
	if l.Sanitization.Disabled {
		return PathsNone
	}
	return l.Sanitization.Paths
}

// MasksUsername reports whether free text should have the operator's
// username replaced.
func (l *Level) MasksUsername() bool {
	return !l.Sanitization.Disabled && l.Sanitization.Username == UsernameAlways
}

// BacksUpWrites reports whether file writes are snapshotted first.
func (l *Level) BacksUpWrites() bool {
	return l.Backup != nil && !l.Backup.Disabled && l.Backup.BeforeAnyChange
}

// RecordsDiffs reports whether post-write diffs are stored.
func (l *Level) RecordsDiffs() bool {
	return l.Backup != nil && !l.Backup.Disabled && l.Backup.Diffs
}

func (l *Level) applyDefaults() {
	if l.Sanitization.Paths == "" {
		l.Sanitization.Paths = PathsLight
	}
	if l.Sanitization.Username == "" {
		l.Sanitization.Username = UsernameNone
	}
}

func (l *Level) compile() error {
	var (
		c   compiledCommands
		err error
	)
	if c.allowed, err = pattern.NewSet(l.Commands.Allowed); err != nil {
		return fmt.Errorf("allowed: %w", err)
	}
	if c.blocked, err = pattern.NewSet(l.Commands.Blocked); err != nil {
		return fmt.Errorf("blocked: %w", err)
	}
	if c.requireApproval, err = pattern.NewSet(l.Commands.RequireApproval); err != nil {
		return fmt.Errorf("requireApproval: %w", err)
	}
	if c.softDelete, err = pattern.NewSet(l.Commands.SoftDelete); err != nil {
		return fmt.Errorf("softDelete: %w", err)
	}
	l.compiled = &c
	return nil
}

// commands returns the compiled pattern sets, compiling into a local copy
// when the level was built by hand and never validated.
func (l *Level) commands() (*compiledCommands, error) {
	if l.compiled != nil {
		return l.compiled, nil
	}
	cp := *l
	if err := cp.compile(); err != nil {
		return nil, err
	}
	return cp.compiled, nil
}

func (l *Level) validate() error {
	switch l.Sanitization.Paths {
	case PathsNone, PathsLight, PathsModerate, PathsAggressive:
	default:
		return fmt.Errorf("sanitization.paths %q must be none, light, moderate or aggressive", l.Sanitization.Paths)
	}
	switch l.Sanitization.Username {
	case UsernameNone, UsernameAlways:
	default:
		return fmt.Errorf("sanitization.username %q must be none or always", l.Sanitization.Username)
	}
	return l.compile()
}

// Table is a full level table as read from levels.json.
type Table struct {
	Version int                  `json:"version,omitempty" yaml:"version,omitempty"`
	Levels  map[LevelName]*Level `json:"levels" yaml:"levels"`
}

// Validate checks level names, modes and patterns and requires exactly one
// default level. It fills in per-level defaults and compiles patterns.
func (t *Table) Validate() error {
	if t == nil || len(t.Levels) == 0 {
		return fmt.Errorf("%w: no levels defined", ErrInvalidConfig)
	}
	var defaults []LevelName
	for name, l := range t.Levels {
		if !name.Valid() {
			return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, ErrUnknownLevel, name)
		}
		if l == nil {
			return fmt.Errorf("%w: level %s is empty", ErrInvalidConfig, name)
		}
		l.Name = name
		l.applyDefaults()
		if err := l.validate(); err != nil {
			return fmt.Errorf("%w: level %s: %w", ErrInvalidConfig, name, err)
		}
		if l.Default {
			defaults = append(defaults, name)
		}
	}
	if len(defaults) != 1 {
		sort.Slice(defaults, func(i, j int) bool { return defaults[i].Risk() < defaults[j].Risk() })
		return fmt.Errorf("%w: exactly one default level required, found %d %v", ErrInvalidConfig, len(defaults), defaults)
	}
	return nil
}

// Default returns the default level. Validate guarantees there is one.
func (t *Table) Default() *Level {
	for _, n := range t.Names() {
		if l := t.Levels[n]; l.Default {
			return l
		}
	}
	return nil
}

// Level returns the named level.
func (t *Table) Level(name LevelName) (*Level, error) {
	l, ok := t.Levels[name]
	if !ok || l == nil {
		return nil, fmt.Errorf("%w: %q is not defined in the level table", ErrUnknownLevel, name)
	}
	return l, nil
}

// Names returns the defined level names by ascending risk.
func (t *Table) Names() []LevelName {
	names := make([]LevelName, 0, len(t.Levels))
	for n := range t.Levels {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Risk() < names[j].Risk() })
	return names
}
