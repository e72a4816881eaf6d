package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenType_String(t *testing.T) {
	tests := []struct {
		tt   TokenType
		want string
	}{
		{TokenLiteral, "literal"},
		{TokenGlob, "glob"},
		{TokenRegex, "regex"},
		{TokenClass, "class"},
		{TokenType(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tt.String())
		})
	}
}

func TestCompileToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		typ   TokenType
		input string
		want  bool
	}{
		{"literal", "rm", TokenLiteral, "rm", true},
		{"literal no substring", "rm", TokenLiteral, "rmdir", false},
		{"glob suffix", "mkfs.*", TokenGlob, "mkfs.ext4", true},
		{"glob question", "ba?h", TokenGlob, "bash", true},
		{"glob bracket", "[bz]sh", TokenGlob, "zsh", true},
		{"regex anchored", "re:python[0-9]?", TokenRegex, "python3", true},
		{"regex no partial", "re:py", TokenRegex, "python", false},
		{"class", "@privilege", TokenClass, "doas", true},
		{"class miss", "@privilege", TokenClass, "ls", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := CompileToken(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, tok.Type)
			assert.Equal(t, tt.want, tok.Match(tt.input))
		})
	}
}

func TestCompileToken_Errors(t *testing.T) {
	for _, bad := range []string{"", "re:", "re:(", "@nosuchclass", "re:(a+)+"} {
		_, err := CompileToken(bad)
		assert.Error(t, err, "token %q", bad)
	}
}

func TestCompile_PrefixMatch(t *testing.T) {
	tests := []struct {
		pattern string
		args    []string
		want    bool
	}{
		{"git status", []string{"git", "status", "-s"}, true},
		{"git status", []string{"git", "stash"}, false},
		{"git status", []string{"git"}, false},
		{"rm", []string{"/bin/rm", "-f", "x"}, true},
		{"rm -rf /", []string{"rm", "-rf", "/"}, true},
		{"rm -rf /", []string{"rm", "-fr", "/"}, true},
		{"rm -rf /", []string{"rm", "-rf", "/tmp"}, false},
		{"git push --force", []string{"git", "push", "--force", "origin"}, true},
		{"git push *", []string{"git", "push", "origin"}, true},
		{`rm -rf /\*`, []string{"rm", "-rf", "/*"}, true},
		{`rm -rf /\*`, []string{"rm", "-rf", "/tmp"}, false},
		{"cat *.go", []string{"cat", "a/b.go"}, false},
		{"@privilege", []string{"sudo", "ls"}, true},
		{"*", []string{"anything"}, true},
		{"*", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			c, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Match(tt.args), "%q vs %v", tt.pattern, tt.args)
		})
	}
}

func TestCompile_ClassOnlyLeading(t *testing.T) {
	_, err := Compile("git @vcs")
	assert.Error(t, err)
}

func TestSet(t *testing.T) {
	s, err := NewSet([]string{"ls", "git status", "*"})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.HasWildcard())
	assert.Equal(t, "ls", s.First([]string{"ls", "-la"}).Raw)
	assert.Equal(t, "*", s.First([]string{"make"}).Raw)

	var nilSet *Set
	assert.Nil(t, nilSet.First([]string{"ls"}))
	assert.False(t, nilSet.HasWildcard())
}

func TestCompile_OptionSpellings(t *testing.T) {
	c := MustCompile("rm -rf /")
	for _, args := range [][]string{
		{"rm", "-r", "-f", "/"},
		{"rm", "-f", "-r", "/"},
		{"rm", "-Rf", "/"},
		{"rm", "-rfv", "/"},
		{"rm", "--recursive", "--force", "/"},
		{"rm", "-r", "--force", "/"},
		{"rm", "-rf", "--", "/"},
		{"rm", "/", "-rf"},
		{"rm", "-rf", "//"},
		{"rm", "-rf", "/."},
		{"rm", "--no-preserve-root", "-rf", "/"},
	} {
		assert.True(t, c.Match(args), "%v", args)
	}
	assert.False(t, c.Match([]string{"rm", "-r", "/"}))
	assert.False(t, c.Match([]string{"rm", "-rf", "/tmp"}))
	assert.False(t, c.Match([]string{"rm", "-rf", "--", "-/"}))

	home := MustCompile("rm -rf ~")
	for _, arg := range []string{"~", "~/", "$HOME", "$HOME/", "~//"} {
		assert.True(t, home.Match([]string{"rm", "-rf", arg}), arg)
	}
	assert.False(t, home.Match([]string{"rm", "-rf", "~/build"}))

	push := MustCompile("git push --force")
	assert.True(t, push.Match([]string{"git", "push", "-f"}))
	assert.True(t, push.Match([]string{"git", "push", "origin", "--force"}))
	assert.False(t, push.Match([]string{"git", "push", "--force-with-lease"}))

	chmod := MustCompile("chmod -R 777 /")
	assert.True(t, chmod.Match([]string{"chmod", "--recursive", "777", "//"}))
	assert.True(t, chmod.Match([]string{"chmod", "-vR", "777", "/"}))
}

func TestCleanOperand(t *testing.T) {
	for in, want := range map[string]string{
		"/":        "/",
		"//":       "/",
		"/tmp/../": "/",
		"~/":       "~",
		"~/a//b/":  "~/a/b",
		"$HOME":    "~",
		"$HOME/x":  "~/x",
		"$HOMEDIR": "$HOMEDIR",
		"file.txt": "file.txt",
	} {
		assert.Equal(t, want, cleanOperand(in), in)
	}
	assert.Equal(t, "if=/dev/zero", cleanOperand("if=/dev/zero"))
}
