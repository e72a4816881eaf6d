package pattern

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Command is a compiled command pattern such as "git push --force" or
// "rm -rf /".
//
// Options and operands are matched separately. The pattern's operands must
// be a prefix of the command's operands, and its options a subset of the
// command's options, in any order or spelling: "rm -rf /" also matches
// "rm -r -f /", "rm --recursive --force /", "rm / -fr" and "rm -rf -- //".
type Command struct {
	Raw string
	// Wildcard is set for the lone "*" pattern, which matches everything.
	Wildcard bool

	lead     *Token
	operands []*Token
	opts     options
}

// Compile compiles a command pattern using DefaultClasses.
func Compile(s string) (*Command, error) {
	return CompileWithClasses(s, DefaultClasses)
}

// CompileWithClasses compiles a command pattern, resolving "@class" leading
// tokens against classes.
func CompileWithClasses(s string, classes *ClassRegistry) (*Command, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty pattern")
	}
	if len(fields) == 1 && fields[0] == "*" {
		return &Command{Raw: s, Wildcard: true}, nil
	}

	lead, err := compileToken(fields[0], classes)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", s, err)
	}
	c := &Command{Raw: s, lead: lead}
	name := filepath.Base(fields[0])
	var operands []string
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "@") {
			return nil, fmt.Errorf("pattern %q: class %s is only allowed as the leading token", s, f)
		}
		if !strings.ContainsAny(f, "*?[") && c.opts.add(name, f) {
			continue
		}
		operands = append(operands, f)
	}
	for _, f := range operands {
		if !strings.HasPrefix(f, "re:") && !strings.ContainsAny(f, "*?[") {
			f = cleanOperand(f)
		}
		tok, err := compileToken(f, nil)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s, err)
		}
		c.operands = append(c.operands, tok)
	}
	return c, nil
}

// MustCompile is like Compile but panics on error. Intended for built-in
// tables and tests.
func MustCompile(s string) *Command {
	c, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Match reports whether args satisfy the pattern. The leading word is
// compared both as written and by base name, so "rm" matches "/bin/rm".
func (c *Command) Match(args []string) bool {
	if c.Wildcard {
		return len(args) > 0
	}
	if len(args) == 0 {
		return false
	}
	if !c.lead.Match(args[0]) && !c.lead.Match(filepath.Base(args[0])) {
		return false
	}
	opts, operands := splitArgs(args)
	if len(operands) < len(c.operands) || !opts.contains(c.opts) {
		return false
	}
	for i, tok := range c.operands {
		if !tok.Match(operands[i]) {
			return false
		}
	}
	return true
}

// MatchCommand is Match on a parsed simple command.
func (c *Command) MatchCommand(cmd SimpleCommand) bool {
	return c.Match(cmd.Args)
}

func (c *Command) String() string { return c.Raw }

// longToShort folds the long spellings of common options onto their short
// letter.
var longToShort = map[string]byte{
	"--recursive": 'r',
	"--force":     'f',
}

// letterAliases folds per-command synonyms, such as rm's -R for -r.
var letterAliases = map[string]map[byte]byte{
	"rm":    {'R': 'r'},
	"chmod": {'R': 'r'},
	"chown": {'R': 'r'},
}

// options is the normalized option set of a command line.
type options struct {
	letters map[byte]bool
	long    map[string]bool
}

// add records word if it is an option of command name and reports whether
// it was one. A lone "--" is not an option.
func (o *options) add(name, word string) bool {
	if len(word) < 2 || word[0] != '-' || word == "--" {
		return false
	}
	if word[1] == '-' {
		if b, ok := longToShort[word]; ok {
			o.addLetter(name, b)
			return true
		}
		if o.long == nil {
			o.long = map[string]bool{}
		}
		o.long[word] = true
		return true
	}
	for i := 1; i < len(word); i++ {
		b := word[i]
		if !(b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9') {
			return false
		}
	}
	for i := 1; i < len(word); i++ {
		o.addLetter(name, word[i])
	}
	return true
}

func (o *options) addLetter(name string, b byte) {
	if alias, ok := letterAliases[name][b]; ok {
		b = alias
	}
	if o.letters == nil {
		o.letters = map[byte]bool{}
	}
	o.letters[b] = true
}

func (o options) contains(sub options) bool {
	for b := range sub.letters {
		if !o.letters[b] {
			return false
		}
	}
	for l := range sub.long {
		if !o.long[l] {
			return false
		}
	}
	return true
}

// splitArgs separates the options of a command line from its operands.
// Everything after "--" is an operand. Operands come back cleaned.
func splitArgs(args []string) (options, []string) {
	var opts options
	name := filepath.Base(args[0])
	operands := make([]string, 0, len(args)-1)
	done := false
	for _, a := range args[1:] {
		if !done {
			if a == "--" {
				done = true
				continue
			}
			if opts.add(name, a) {
				continue
			}
		}
		operands = append(operands, cleanOperand(a))
	}
	return opts, operands
}

// cleanOperand gives path operands one spelling: "//" and "/." become "/",
// "~/" becomes "~" and a $HOME prefix becomes "~". Other words are returned
// unchanged.
func cleanOperand(s string) string {
	if rest, ok := strings.CutPrefix(s, "$HOME"); ok && (rest == "" || rest[0] == '/') {
		s = "~" + rest
	}
	switch {
	case strings.HasPrefix(s, "/"):
		return path.Clean(s)
	case s == "~":
		return s
	case strings.HasPrefix(s, "~/"):
		c := path.Clean("/" + s[2:])
		if c == "/" {
			return "~"
		}
		return "~" + c
	}
	return s
}

// Set is an ordered list of command patterns.
type Set struct {
	patterns []*Command
}

// NewSet compiles every pattern, failing on the first invalid one.
func NewSet(patterns []string) (*Set, error) {
	s := &Set{patterns: make([]*Command, 0, len(patterns))}
	for _, p := range patterns {
		c, err := Compile(p)
		if err != nil {
			return nil, err
		}
		s.patterns = append(s.patterns, c)
	}
	return s, nil
}

// First returns the first pattern matching args, or nil.
func (s *Set) First(args []string) *Command {
	if s == nil {
		return nil
	}
	for _, p := range s.patterns {
		if p.Match(args) {
			return p
		}
	}
	return nil
}

// HasWildcard reports whether the set contains the lone "*" pattern.
func (s *Set) HasWildcard() bool {
	if s == nil {
		return false
	}
	for _, p := range s.patterns {
		if p.Wildcard {
			return true
		}
	}
	return false
}

func (s *Set) Patterns() []*Command {
	if s == nil {
		return nil
	}
	return append([]*Command(nil), s.patterns...)
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.patterns)
}
