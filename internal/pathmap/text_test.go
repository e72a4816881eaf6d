package pathmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeText(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMapper(t, ModeModerate)

	out, err := m.SanitizeText(ctx, "open /work/acme/app/README.md and /home/alice/.npmrc")
	require.NoError(t, err)
	assert.Equal(t, "open $PROJECT/README.md and /home/user/.npmrc", out)

	out, err = m.SanitizeText(ctx, "see https://example.com/docs/x for details")
	require.NoError(t, err)
	assert.Equal(t, "see https://example.com/docs/x for details", out)

	out, err = m.SanitizeText(ctx, "run /usr/bin/env in /work/acme/app/")
	require.NoError(t, err)
	assert.Equal(t, "run /usr/bin/env in $PROJECT/", out)

	out, err = m.SanitizeText(ctx, "config at /etc/app.conf")
	require.NoError(t, err)
	assert.Regexp(t, `^config at \[EXT:[0-9a-f]{8}\]/app\.conf$`, out)
}

func TestSanitizeText_Username(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMapper(t, ModeLight)

	out, err := m.SanitizeText(ctx, `alice wrote C:\Users\Alice\proj and /Users/alice/x`)
	require.NoError(t, err)
	assert.Equal(t, `user wrote C:\Users\user\proj and /home/user/x`, out)

	out, err = m.SanitizeText(ctx, "malice is not alice")
	require.NoError(t, err)
	assert.Equal(t, "malice is not user", out)
}

func TestSanitizeText_AlreadyVirtual(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMapper(t, ModeModerate)
	in := "edit $PROJECT/src/a.go"
	out, err := m.SanitizeText(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnsanitizeText(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMapper(t, ModeModerate)

	ext, err := m.Sanitize(ctx, "/etc/hosts")
	require.NoError(t, err)

	out, err := m.UnsanitizeText(ctx, "cat $PROJECT/go.mod /home/user/.gitconfig "+ext)
	require.NoError(t, err)
	assert.Equal(t, "cat /work/acme/app/go.mod /home/alice/.gitconfig /etc/hosts", out)

	out, err = m.UnsanitizeText(ctx, "ls /home/username $PROJECTS")
	require.NoError(t, err)
	assert.Equal(t, "ls /home/username $PROJECTS", out)
}

func TestSanitizeEnv(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMapper(t, ModeModerate)

	env := map[string]string{
		"HOME":             "/home/alice",
		"USER":             "alice",
		"LOGNAME":          "alice",
		"SSH_AUTH_SOCK":    "/tmp/agent.sock",
		"AWS_PROFILE":      "prod",
		"GITHUB_TOKEN":     "ghp_x",
		"secret_key":       "s",
		"TOKEN_URL":        "t",
		"PATH":             "/usr/bin:/home/alice/bin",
		"EDITOR":           "vim",
		"GOPATH":           "/home/alice/go",
		"PRIVATE_REGISTRY": "r",
		"CREDENTIALS_FILE": "c",
		"PASSWORD_STORE":   "p",
		"API_KEY":          "k",
		"USERNAME":         "alice",
	}
	out, err := m.SanitizeEnv(ctx, env, "/work/acme/app/src")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"HOME":   "/home/user",
		"USER":   "user",
		"PWD":    "$PROJECT/src",
		"PATH":   "/usr/bin:/home/user/bin",
		"EDITOR": "vim",
		"GOPATH": "/home/user/go",
	}, out)
}

func TestHiddenEnvVar(t *testing.T) {
	assert.True(t, HiddenEnvVar("ssh_agent_pid"))
	assert.True(t, HiddenEnvVar("Secret"))
	assert.False(t, HiddenEnvVar("MY_SECRET"))
	assert.False(t, HiddenEnvVar("SHELL"))
}
