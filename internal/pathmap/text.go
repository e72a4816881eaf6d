package pathmap

import (
	"context"
	"regexp"
	"runtime"
	"sort"
	"strings"
)

var (
	unixPathRe    = regexp.MustCompile(`(?:/[\w.\-]+)+/?`)
	windowsPathRe = regexp.MustCompile(`[A-Za-z]:\\[\w.\-\\]+`)

	projectHandleRe = regexp.MustCompile(`\$PROJECT(?:/[\w.\-]+)*`)
	homeHandleRe    = regexp.MustCompile(`/home/user(?:/[\w.\-]+)*`)
	extHandleRe     = regexp.MustCompile(`\[EXT:[0-9a-f]+\](?:/[\w.\-]+)*`)

	macHomeRe     = regexp.MustCompile(`/Users/[^/\s"'` + "`" + `]+`)
	linuxHomeRe   = regexp.MustCompile(`/home/[^/\s"'` + "`" + `]+`)
	windowsHomeRe = regexp.MustCompile(`(?i)[A-Z]:\\Users\\[^\\\s"'` + "`" + `]+`)
)

// SanitizeText rewrites every absolute path found in free text through
// Sanitize and, when the mapper masks usernames, replaces the remaining home
// directory forms and bare occurrences of the username.
func (m *Mapper) SanitizeText(ctx context.Context, text string) (string, error) {
	if text == "" {
		return text, nil
	}
	out := text
	if m.mode != ModeNone {
		var err error
		if out, err = m.replacePaths(ctx, out, unixPathRe); err != nil {
			return text, err
		}
		if runtime.GOOS == "windows" {
			if out, err = m.replacePaths(ctx, out, windowsPathRe); err != nil {
				return text, err
			}
		}
	}
	if m.maskUser {
		out = m.maskUsername(out)
	}
	return out, nil
}

// UnsanitizeText reverses SanitizeText for every handle found in text.
// Masked usernames cannot be recovered.
func (m *Mapper) UnsanitizeText(ctx context.Context, text string) (string, error) {
	out := text
	for _, re := range []*regexp.Regexp{projectHandleRe, extHandleRe, homeHandleRe} {
		var err error
		out, err = replaceBounded(out, re, func(match string) (string, error) {
			return m.Unsanitize(ctx, match)
		})
		if err != nil {
			return text, err
		}
	}
	return out, nil
}

func (m *Mapper) replacePaths(ctx context.Context, text string, re *regexp.Regexp) (string, error) {
	return replaceBounded(text, re, func(match string) (string, error) {
		trailing := strings.HasSuffix(match, "/") && len(match) > 1
		p := strings.TrimSuffix(match, "/")
		v, err := m.Sanitize(ctx, p)
		if err != nil {
			return match, err
		}
		if trailing {
			v += "/"
		}
		return v, nil
	})
}

// replaceBounded replaces matches of re that stand on their own: a match
// glued to a preceding word, handle or URL scheme, or running into further
// path characters, is left alone.
func replaceBounded(text string, re *regexp.Regexp, fn func(string) (string, error)) (string, error) {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text, nil
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if start > 0 && gluedBefore(text[start-1]) {
			continue
		}
		if end < len(text) && gluedAfter(text[end]) {
			continue
		}
		repl, err := fn(text[start:end])
		if err != nil {
			return text, err
		}
		b.WriteString(text[last:start])
		b.WriteString(repl)
		last = end
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

func gluedBefore(c byte) bool {
	return isWordByte(c) || strings.IndexByte("$]/~.-\\", c) >= 0
}

func gluedAfter(c byte) bool {
	return isWordByte(c) || c == '.' || c == '-'
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func (m *Mapper) maskUsername(text string) string {
	out := macHomeRe.ReplaceAllString(text, HomeToken)
	out = linuxHomeRe.ReplaceAllStringFunc(out, func(s string) string {
		if s == HomeToken {
			return s
		}
		return HomeToken
	})
	out = windowsHomeRe.ReplaceAllStringFunc(out, func(s string) string {
		return s[:len(`C:\Users\`)] + "user"
	})
	if m.username != "" && m.username != "user" {
		word := regexp.MustCompile(`\b` + regexp.QuoteMeta(m.username) + `\b`)
		out = word.ReplaceAllString(out, "user")
	}
	return out
}

// SanitizeEnv returns the environment the agent is allowed to see. Identity
// and credential variables are dropped, the rest have their values passed
// through SanitizeText, and HOME, USER and PWD are replaced with their
// virtual forms.
func (m *Mapper) SanitizeEnv(ctx context.Context, env map[string]string, cwd string) (map[string]string, error) {
	out := make(map[string]string, len(env)+3)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if HiddenEnvVar(k) {
			continue
		}
		v, err := m.SanitizeText(ctx, env[k])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	out["HOME"] = HomeToken
	out["USER"] = "user"
	if cwd != "" {
		pwd, err := m.Sanitize(ctx, cwd)
		if err != nil {
			return nil, err
		}
		out["PWD"] = pwd
	}
	return out, nil
}

var (
	hiddenEnvExact    = []string{"HOME", "USER", "USERNAME", "LOGNAME"}
	hiddenEnvPrefixes = []string{"SSH_", "AWS_", "GITHUB_", "API_"}
	hiddenEnvWords    = []string{"SECRET", "TOKEN", "PASSWORD", "CREDENTIAL", "PRIVATE"}
)

// HiddenEnvVar reports whether an environment variable is withheld from the
// agent entirely.
func HiddenEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, e := range hiddenEnvExact {
		if upper == e {
			return true
		}
	}
	for _, p := range hiddenEnvPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	for _, w := range hiddenEnvWords {
		if strings.HasPrefix(upper, w) {
			return true
		}
	}
	return false
}
