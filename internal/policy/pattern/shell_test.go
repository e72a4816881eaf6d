package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func argsOf(cmds []SimpleCommand) [][]string {
	out := make([][]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.Args)
	}
	return out
}

func TestParse_Lists(t *testing.T) {
	cmds, err := Parse("cd src && ls -la | grep foo; echo done")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"cd", "src"},
		{"ls", "-la"},
		{"grep", "foo"},
		{"echo", "done"},
	}, argsOf(cmds))
}

func TestParse_QuotesAreData(t *testing.T) {
	cmds, err := Parse(`echo "rm -rf /"`)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, []string{"echo", "rm -rf /"}, cmds[0].Args)
	assert.False(t, cmds[0].Dynamic)
}

func TestParse_CommandSubstitution(t *testing.T) {
	cmds, err := Parse(`echo $(rm -rf /)`)
	require.NoError(t, err)
	assert.Contains(t, argsOf(cmds), []string{"rm", "-rf", "/"})
	assert.True(t, cmds[0].Dynamic)
}

func TestParse_Wrappers(t *testing.T) {
	cmds, err := Parse(`sudo -u root env FOO=1 nice -n 5 rm -rf /`)
	require.NoError(t, err)
	all := argsOf(cmds)
	assert.Contains(t, all, []string{"env", "FOO=1", "nice", "-n", "5", "rm", "-rf", "/"})
	assert.Contains(t, all, []string{"nice", "-n", "5", "rm", "-rf", "/"})
	assert.Contains(t, all, []string{"rm", "-rf", "/"})
}

func TestParse_InlineShell(t *testing.T) {
	cmds, err := Parse(`bash -c 'rm -rf ~/.ssh'`)
	require.NoError(t, err)
	assert.Contains(t, argsOf(cmds), []string{"rm", "-rf", "~/.ssh"})

	cmds, err = Parse(`eval "git push --force"`)
	require.NoError(t, err)
	assert.Contains(t, argsOf(cmds), []string{"git", "push", "--force"})
}

func TestParse_EscapesAndGlobs(t *testing.T) {
	cmds, err := Parse(`r\m *.txt`)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "rm", cmds[0].Args[0])
	assert.True(t, cmds[0].Dynamic)

	cmds, err = Parse(`rm '*.txt'`)
	require.NoError(t, err)
	assert.False(t, cmds[0].Dynamic)
}

func TestParse_Redirects(t *testing.T) {
	cmds, err := Parse(`echo x > a.txt`)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, []string{"echo", "x"}, cmds[0].Args)
	assert.Equal(t, []string{"a.txt"}, cmds[0].Redirects)

	cmds, err = Parse(`ls && sort < in.txt 2>/dev/null >> "out dir/log"`)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Empty(t, cmds[0].Redirects)
	assert.Equal(t, []string{"/dev/null", "out dir/log"}, cmds[1].Redirects)

	cmds, err = Parse(`> empty.txt`)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, []string{":"}, cmds[0].Args)
	assert.Equal(t, []string{"empty.txt"}, cmds[0].Redirects)

	cmds, err = Parse(`{ echo a; echo b; } > both.txt`)
	require.NoError(t, err)
	assert.Contains(t, cmds, SimpleCommand{Args: []string{":"}, Redirects: []string{"both.txt"}})
}

func TestParse_Error(t *testing.T) {
	_, err := Parse(`echo "unterminated`)
	assert.Error(t, err)

	_, err = Parse(`bash -c 'echo "oops'`)
	assert.Error(t, err)
}

func TestSimpleCommand_Name(t *testing.T) {
	assert.Equal(t, "rm", SimpleCommand{Args: []string{"/usr/bin/rm"}}.Name())
	assert.Equal(t, "", SimpleCommand{}.Name())
}
