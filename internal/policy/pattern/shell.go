package pattern

import (
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// SimpleCommand is one command invocation found in a shell string, with
// quotes removed from its argument words.
type SimpleCommand struct {
	Args []string
	// Dynamic is set when any word depends on run-time expansion
	// (parameters, command substitution, unquoted globs).
	Dynamic bool
	// Wrapped is set for commands produced by stripping a wrapper such as
	// sudo or env, or by descending into "sh -c" strings.
	Wrapped bool
	// Redirects are the files the command's output redirections write to.
	Redirects []string
}

// Name is the base name of the leading word.
func (c SimpleCommand) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return filepath.Base(c.Args[0])
}

// maxNesting bounds recursion into "sh -c" and eval strings.
const maxNesting = 4

// Parse splits a shell command line into its simple commands, including
// those inside lists, pipelines, subshells and command substitutions. The
// result also contains the commands hidden behind wrappers (sudo, env, ...)
// and inside "sh -c" strings. A parse error means the line cannot be
// judged and must be treated as hostile by the caller.
func Parse(src string) ([]SimpleCommand, error) {
	return parse(src, 0)
}

func parse(src string, depth int) ([]SimpleCommand, error) {
	f, err := syntax.NewParser().Parse(strings.NewReader(src), "")
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}

	var (
		out     []SimpleCommand
		nestErr error
		redirs  = map[syntax.Node][]string{}
	)
	// redirections without a simple command to carry them, as in
	// "> file" or "{ ls; } > file", are reported as the no-op ":"
	bare := func(targets []string) {
		out = append(out, SimpleCommand{Args: []string{":"}, Redirects: targets})
	}
	syntax.Walk(f, func(node syntax.Node) bool {
		var cmd SimpleCommand
		switch n := node.(type) {
		case *syntax.Stmt:
			targets := writeTargets(n.Redirs)
			if len(targets) == 0 {
				return true
			}
			switch c := n.Cmd.(type) {
			case *syntax.CallExpr, *syntax.DeclClause:
				redirs[c] = targets
			default:
				bare(targets)
			}
			return true
		case *syntax.CallExpr:
			if len(n.Args) == 0 {
				if t := redirs[n]; len(t) > 0 {
					bare(t)
				}
				return true
			}
			for _, w := range n.Args {
				s, dyn := flattenWord(w)
				cmd.Args = append(cmd.Args, s)
				cmd.Dynamic = cmd.Dynamic || dyn
			}
		case *syntax.DeclClause:
			if n.Variant == nil {
				return true
			}
			cmd.Args = append(cmd.Args, n.Variant.Value)
			for _, a := range n.Args {
				if a.Name != nil {
					cmd.Args = append(cmd.Args, a.Name.Value)
				} else if a.Value != nil {
					s, dyn := flattenWord(a.Value)
					cmd.Args = append(cmd.Args, s)
					cmd.Dynamic = cmd.Dynamic || dyn
				}
			}
		default:
			return true
		}
		cmd.Redirects = redirs[node]

		found := append([]SimpleCommand{cmd}, unwrap(cmd)...)
		out = append(out, found...)
		for _, c := range found {
			script, ok := inlineScript(c)
			if !ok {
				continue
			}
			if depth >= maxNesting {
				nestErr = fmt.Errorf("parse command: nesting deeper than %d", maxNesting)
				return false
			}
			nested, err := parse(script, depth+1)
			if err != nil {
				nestErr = err
				return false
			}
			for _, n := range nested {
				n.Wrapped = true
				out = append(out, n)
			}
		}
		return true
	})
	if nestErr != nil {
		return nil, nestErr
	}
	return out, nil
}

// flattenWord joins the parts of a word the way the shell would see them
// after quote removal. Expansions are kept in a readable placeholder form
// and reported as dynamic.
func flattenWord(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	dynamic := false
	for _, part := range w.Parts {
		if writePart(&sb, part, false) {
			dynamic = true
		}
	}
	return sb.String(), dynamic
}

func writePart(sb *strings.Builder, part syntax.WordPart, quoted bool) bool {
	switch p := part.(type) {
	case *syntax.Lit:
		if quoted {
			sb.WriteString(unescapeQuoted(p.Value))
			return false
		}
		sb.WriteString(unescape(p.Value))
		return hasUnescapedGlob(p.Value)
	case *syntax.SglQuoted:
		sb.WriteString(p.Value)
		return false
	case *syntax.DblQuoted:
		dyn := false
		for _, inner := range p.Parts {
			if writePart(sb, inner, true) {
				dyn = true
			}
		}
		return dyn
	case *syntax.ParamExp:
		sb.WriteString("$")
		if p.Param != nil {
			sb.WriteString(p.Param.Value)
		}
		return true
	case *syntax.CmdSubst:
		sb.WriteString("$(...)")
		return true
	case *syntax.ArithmExp:
		sb.WriteString("$((...))")
		return true
	case *syntax.ExtGlob:
		sb.WriteString(p.Op.String())
		if p.Pattern != nil {
			sb.WriteString(p.Pattern.Value)
		}
		sb.WriteString(")")
		return true
	default:
		return true
	}
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == '\n' {
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte("$`\"\\\n", s[i+1]) >= 0 {
			i++
			if s[i] == '\n' {
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func hasUnescapedGlob(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// writeTargets returns the target words of output redirections.
func writeTargets(rs []*syntax.Redirect) []string {
	var out []string
	for _, r := range rs {
		switch r.Op {
		case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll, syntax.ClbOut, syntax.RdrInOut:
			if r.Word != nil {
				s, _ := flattenWord(r.Word)
				out = append(out, s)
			}
		}
	}
	return out
}

// wrapperFlagsWithArg lists, per wrapper, the options that consume the next
// word. Unknown options are skipped on their own.
var wrapperFlagsWithArg = map[string]map[string]bool{
	"sudo":    {"-u": true, "-g": true, "-C": true, "-D": true, "-h": true, "-p": true, "-r": true, "-t": true, "-U": true, "-T": true},
	"doas":    {"-u": true, "-C": true},
	"env":     {"-u": true, "-C": true, "-S": true, "--unset": true, "--chdir": true},
	"nice":    {"-n": true, "--adjustment": true},
	"nohup":   {},
	"time":    {"-f": true, "-o": true},
	"command": {},
	"exec":    {"-a": true},
	"xargs":   {"-I": true, "-n": true, "-P": true, "-L": true, "-s": true, "-d": true, "-E": true, "-a": true},
	"timeout": {"-s": true, "-k": true, "--signal": true, "--kill-after": true},
	"stdbuf":  {"-i": true, "-o": true, "-e": true},
}

// unwrap returns the commands a wrapper invocation runs, stripping nested
// wrappers one at a time: "sudo env X=1 rm a" yields "env X=1 rm a" and
// "rm a".
func unwrap(cmd SimpleCommand) []SimpleCommand {
	var out []SimpleCommand
	cur := cmd
	for i := 0; i < maxNesting; i++ {
		flags, ok := wrapperFlagsWithArg[cur.Name()]
		if !ok {
			break
		}
		rest := stripWrapper(cur.Name(), cur.Args[1:], flags)
		if len(rest) == 0 {
			break
		}
		cur = SimpleCommand{Args: rest, Dynamic: cur.Dynamic, Wrapped: true}
		out = append(out, cur)
	}
	return out
}

func stripWrapper(name string, args []string, flags map[string]bool) []string {
	durationSkipped := false
	i := 0
	for i < len(args) {
		a := args[i]
		switch {
		case a == "--":
			return args[i+1:]
		case strings.HasPrefix(a, "-") && len(a) > 1:
			if flags[a] {
				i++
			}
			i++
		case name == "env" && strings.Contains(a, "="):
			i++
		case name == "timeout" && !durationSkipped:
			durationSkipped = true
			i++
		default:
			return args[i:]
		}
	}
	return nil
}

// inlineScript extracts the script argument of "sh -c '...'" style
// invocations and of eval.
func inlineScript(cmd SimpleCommand) (string, bool) {
	name := cmd.Name()
	if name == "eval" && len(cmd.Args) > 1 {
		return strings.Join(cmd.Args[1:], " "), true
	}
	if !isShell(name) {
		return "", false
	}
	for i := 1; i < len(cmd.Args)-1; i++ {
		a := cmd.Args[i]
		if a == "-c" || (strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.Contains(a, "c")) {
			return cmd.Args[i+1], true
		}
	}
	return "", false
}

func isShell(name string) bool {
	for _, s := range BuiltinClasses["shell"] {
		if s == name {
			return true
		}
	}
	return false
}
