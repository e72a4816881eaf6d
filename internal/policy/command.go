package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/agentsh/agentguard/internal/policy/pattern"
)

// DecisionKind is the outcome class of ClassifyCommand.
type DecisionKind int

const (
	Allowed DecisionKind = iota
	Denied
	RequiresApproval
	SoftDelete
)

func (k DecisionKind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case RequiresApproval:
		return "requires-approval"
	case SoftDelete:
		return "soft-delete"
	default:
		return "unknown"
	}
}

// Move is one planned soft-delete relocation.
type Move struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// Decision is the result of classifying a shell command.
type Decision struct {
	Kind DecisionKind
	// Reason explains denials and approvals.
	Reason string
	// Pattern is the level pattern that produced the decision, if any.
	Pattern string
	// Rewritten replaces the command for SoftDelete decisions.
	Rewritten string
	Moves     []Move
}

// ClassifyCommand applies the level's command lists to a shell command line.
// Priority: blocked patterns, the "*" allow-list, soft delete, approval,
// then allow. A command that cannot be parsed is denied.
func (e *Engine) ClassifyCommand(command string, level *Level) Decision {
	if level == nil {
		return Decision{Kind: Denied, Reason: "no security level"}
	}
	sets, err := level.commands()
	if err != nil {
		return Decision{Kind: Denied, Reason: fmt.Sprintf("invalid level %s: %v", level.Name, err)}
	}
	if strings.TrimSpace(command) == "" {
		return Decision{Kind: Allowed}
	}
	cmds, err := pattern.Parse(command)
	if err != nil {
		return Decision{Kind: Denied, Reason: fmt.Sprintf("Command could not be parsed: %v", err)}
	}

	for _, c := range cmds {
		if p := firstNonWildcard(sets.blocked, c.Args); p != nil {
			return Decision{Kind: Denied, Pattern: p.Raw, Reason: "Command matches blocked pattern: " + p.Raw}
		}
	}

	if !level.Boundaries.Omnipotent {
		for _, c := range cmds {
			if reason := e.touchesOwnState(c); reason != "" {
				return Decision{Kind: Denied, Reason: reason}
			}
		}
	}

	if sets.blocked.HasWildcard() && !sets.allowed.HasWildcard() {
		for _, c := range cmds {
			if sets.allowed.First(c.Args) == nil {
				return Decision{Kind: Denied, Pattern: "*", Reason: fmt.Sprintf("Command not in allowed list: %s", c.Name())}
			}
		}
	}

	for _, c := range cmds {
		if p := sets.softDelete.First(c.Args); p != nil {
			rewritten, moves, err := e.rewriteSoftDelete(cmds)
			if err != nil {
				return Decision{Kind: RequiresApproval, Pattern: p.Raw, Reason: "Soft delete not possible, approval required: " + err.Error()}
			}
			return Decision{Kind: SoftDelete, Pattern: p.Raw, Rewritten: rewritten, Moves: moves}
		}
	}

	for _, c := range cmds {
		if p := sets.requireApproval.First(c.Args); p != nil {
			return Decision{Kind: RequiresApproval, Pattern: p.Raw, Reason: "Command matches approval pattern: " + p.Raw}
		}
	}
	return Decision{Kind: Allowed}
}

// operatorOnly are agentguard subcommands an agent may not run against
// itself.
var operatorOnly = [][]string{
	{"level", "set"},
	{"trash", "purge"},
	{"pending", "prune"},
	{"serve"},
}

// touchesOwnState returns a denial reason when c would modify agentguard's
// own state: a redirection or an argument inside the data or configuration
// directory, or an operator-only agentguard subcommand.
func (e *Engine) touchesOwnState(c pattern.SimpleCommand) string {
	for _, t := range c.Redirects {
		if e.SelfProtected(e.Resolve(t)) {
			return "Command writes to agentguard's own state: " + t
		}
	}
	if len(c.Args) == 0 {
		return ""
	}
	if c.Name() == "agentguard" {
		var words []string
		for _, a := range c.Args[1:] {
			if !strings.HasPrefix(a, "-") {
				words = append(words, a)
			}
		}
		for _, sub := range operatorOnly {
			for i := 0; i+len(sub) <= len(words); i++ {
				if slices.Equal(words[i:i+len(sub)], sub) {
					return fmt.Sprintf("agentguard %s is reserved for the operator", strings.Join(sub, " "))
				}
			}
		}
		return ""
	}
	for _, a := range c.Args[1:] {
		if strings.HasPrefix(a, "-") {
			_, v, ok := strings.Cut(a, "=")
			if !ok || v == "" {
				continue
			}
			a = v
		}
		if e.SelfProtected(e.Resolve(a)) {
			return "Command references agentguard's own state: " + a
		}
	}
	return ""
}

func firstNonWildcard(s *pattern.Set, args []string) *pattern.Command {
	for _, p := range s.Patterns() {
		if !p.Wildcard && p.Match(args) {
			return p
		}
	}
	return nil
}

// rewriteSoftDelete turns a lone rm invocation into moves into the session
// trash. Anything more complex is refused.
func (e *Engine) rewriteSoftDelete(cmds []pattern.SimpleCommand) (string, []Move, error) {
	if e.trashDir == "" {
		return "", nil, fmt.Errorf("no trash directory for this session")
	}
	if len(cmds) != 1 {
		return "", nil, fmt.Errorf("command is not a single rm invocation")
	}
	c := cmds[0]
	if c.Name() != "rm" {
		return "", nil, fmt.Errorf("only rm can be rewritten, got %s", c.Name())
	}
	if c.Dynamic {
		return "", nil, fmt.Errorf("operands depend on shell expansion")
	}

	var operands []string
	flagsDone := false
	for _, a := range c.Args[1:] {
		if !flagsDone && a == "--" {
			flagsDone = true
			continue
		}
		if !flagsDone && strings.HasPrefix(a, "-") && len(a) > 1 {
			continue
		}
		operands = append(operands, a)
	}
	if len(operands) == 0 {
		return "", nil, fmt.Errorf("rm has no operands")
	}

	taken := map[string]bool{}
	var (
		moves []Move
		parts []string
	)
	for _, op := range operands {
		src := e.Resolve(op)
		if src == e.projectRoot || within(e.projectRoot, src) {
			return "", nil, fmt.Errorf("refusing to trash %s, it contains the project", op)
		}
		if within(src, e.trashDir) || e.SelfProtected(src) {
			return "", nil, fmt.Errorf("refusing to trash %s, it belongs to agentguard's own state", op)
		}

		rel := filepath.Base(src)
		if within(src, e.projectRoot) {
			if r, err := filepath.Rel(e.projectRoot, src); err == nil {
				rel = r
			}
		} else {
			rel = filepath.Join("_external", rel)
		}
		dest := uniqueDest(filepath.Join(e.trashDir, rel), taken)
		taken[dest] = true

		moves = append(moves, Move{Source: src, Dest: dest})
		parts = append(parts, fmt.Sprintf("mkdir -p %s && mv -- %s %s",
			shellQuote(filepath.Dir(dest)), shellQuote(src), shellQuote(dest)))
	}
	return strings.Join(parts, " && "), moves, nil
}

// uniqueDest appends .N before the extension until the path is free both on
// disk and among the moves planned so far.
func uniqueDest(dest string, taken map[string]bool) string {
	free := func(p string) bool {
		if taken[p] {
			return false
		}
		_, err := os.Lstat(p)
		return os.IsNotExist(err)
	}
	if free(dest) {
		return dest
	}
	ext := filepath.Ext(dest)
	base := strings.TrimSuffix(dest, ext)
	for i := 1; ; i++ {
		p := base + "." + strconv.Itoa(i) + ext
		if free(p) {
			return p
		}
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
