// Package pattern compiles the command patterns used by security levels.
//
// A command pattern is a whitespace separated list of tokens. Each token is a
// literal, a glob (contains *, ? or [...]), a regex ("re:" prefix) or a
// command class ("@" prefix, leading token only). A pattern matches a simple
// command when its tokens are a prefix of the command's argument words.
package pattern

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/gobwas/glob"
)

// TokenType indicates how a single pattern token is matched.
type TokenType int

const (
	TokenLiteral TokenType = iota
	TokenGlob
	TokenRegex
	TokenClass
)

func (t TokenType) String() string {
	switch t {
	case TokenLiteral:
		return "literal"
	case TokenGlob:
		return "glob"
	case TokenRegex:
		return "regex"
	case TokenClass:
		return "class"
	default:
		return "unknown"
	}
}

// Token is one compiled word of a command pattern.
type Token struct {
	Raw  string
	Type TokenType

	g  glob.Glob
	re *regexp.Regexp
	// class members, compiled at construction time
	members []*Token
}

// maxRegexComplexity bounds "re:" tokens to keep matching linear in practice.
const maxRegexComplexity = 1000

// CompileToken compiles a single pattern token.
func CompileToken(s string) (*Token, error) {
	return compileToken(s, DefaultClasses)
}

func compileToken(s string, classes *ClassRegistry) (*Token, error) {
	if s == "" {
		return nil, fmt.Errorf("empty pattern token")
	}

	if strings.HasPrefix(s, "re:") {
		expr := strings.TrimPrefix(s, "re:")
		if expr == "" {
			return nil, fmt.Errorf("empty regex pattern")
		}
		if err := checkRegexComplexity(expr, maxRegexComplexity); err != nil {
			return nil, fmt.Errorf("regex complexity check failed: %w", err)
		}
		re, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", err)
		}
		return &Token{Raw: s, Type: TokenRegex, re: re}, nil
	}

	if strings.HasPrefix(s, "@") && len(s) > 1 {
		if classes == nil {
			return nil, fmt.Errorf("unknown class: %s", s)
		}
		names, err := classes.Get(strings.TrimPrefix(s, "@"))
		if err != nil {
			return nil, err
		}
		tok := &Token{Raw: s, Type: TokenClass}
		for _, n := range names {
			// classes never nest
			m, err := compileToken(n, nil)
			if err != nil {
				return nil, fmt.Errorf("class %s member %q: %w", s, n, err)
			}
			tok.members = append(tok.members, m)
		}
		return tok, nil
	}

	if strings.ContainsAny(s, "*?[") {
		g, err := glob.Compile(s, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern: %w", err)
		}
		return &Token{Raw: s, Type: TokenGlob, g: g}, nil
	}

	return &Token{Raw: s, Type: TokenLiteral}, nil
}

// Match reports whether word satisfies the token.
func (t *Token) Match(word string) bool {
	switch t.Type {
	case TokenLiteral:
		return word == t.Raw
	case TokenGlob:
		return t.g.Match(word)
	case TokenRegex:
		return t.re.MatchString(word)
	case TokenClass:
		for _, m := range t.members {
			if m.Match(word) {
				return true
			}
		}
	}
	return false
}

func (t *Token) String() string { return t.Raw }

// checkRegexComplexity rejects regexes with nested unbounded repetition.
func checkRegexComplexity(pattern string, maxComplexity int) error {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return fmt.Errorf("failed to parse regex: %w", err)
	}
	if c := complexity(re); c > maxComplexity {
		return fmt.Errorf("regex complexity %d exceeds maximum %d", c, maxComplexity)
	}
	return nil
}

func complexity(re *syntax.Regexp) int {
	sum := 0
	for _, sub := range re.Sub {
		sum += complexity(sub)
	}
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		if sum > 1 {
			return sum * 100
		}
		return sum + 10
	case syntax.OpQuest:
		return sum + 2
	case syntax.OpRepeat:
		max := re.Max
		if max < 0 {
			max = 100
		}
		return sum * max / 10
	case syntax.OpAlternate:
		return sum * 2
	case syntax.OpCapture:
		return sum + 1
	case syntax.OpConcat:
		return sum
	default:
		return 1
	}
}
