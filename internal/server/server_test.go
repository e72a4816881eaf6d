package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsh/agentguard/internal/mediator"
	"github.com/agentsh/agentguard/internal/policy"
	"github.com/agentsh/agentguard/pkg/hotreload"
	"github.com/agentsh/agentguard/pkg/types"
)

type fakeHandler struct {
	mu     sync.Mutex
	phases []mediator.Phase
	out    *types.HookOutput
}

func (f *fakeHandler) HandleJSON(_ context.Context, phase mediator.Phase, raw []byte) *types.HookOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = append(f.phases, phase)
	if !json.Valid(raw) {
		return &types.HookOutput{HookSpecificOutput: &types.HookSpecificOutput{PermissionDecision: types.DecisionDeny}}
	}
	return f.out
}

// shortSocket keeps the path under the unix socket length limit.
func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ag")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func unixClient(sock string) *http.Client {
	return &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sock)
			},
		},
	}
}

func startServer(t *testing.T, opts Options) (*Server, *http.Client) {
	t.Helper()
	if opts.Socket == "" {
		opts.Socket = shortSocket(t)
	}
	s, err := New(opts)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "operation not permitted") {
		t.Skipf("unix listen not permitted in this environment: %v", err)
	}
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("server did not exit after cancel")
		}
		_ = s.Close()
	})
	return s, unixClient(opts.Socket)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Socket: shortSocket(t)})
	assert.Error(t, err)
	_, err = New(Options{Handler: &fakeHandler{}})
	assert.Error(t, err)
}

func TestServer_SocketPermissions(t *testing.T) {
	s, _ := startServer(t, Options{Handler: &fakeHandler{}, Permissions: 0o660})
	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o660), info.Mode().Perm())
}

func TestServer_Health(t *testing.T) {
	_, c := startServer(t, Options{Handler: &fakeHandler{}})
	resp, err := c.Get("http://agentguard/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok\n", string(b))
}

func TestServer_HookDecision(t *testing.T) {
	h := &fakeHandler{out: &types.HookOutput{HookSpecificOutput: &types.HookSpecificOutput{
		HookEventName:            types.EventPreToolUse,
		PermissionDecision:       types.DecisionAsk,
		PermissionDecisionReason: "needs a human",
	}}}
	_, c := startServer(t, Options{Handler: h})

	resp, err := c.Post("http://agentguard"+HookPath+"?phase=pre", "application/json", strings.NewReader(`{"tool_name":"Bash"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out types.HookOutput
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.HookSpecificOutput)
	assert.Equal(t, types.DecisionAsk, out.HookSpecificOutput.PermissionDecision)
	assert.Equal(t, []mediator.Phase{mediator.PhasePre}, h.phases)
}

func TestServer_HookPassThrough(t *testing.T) {
	h := &fakeHandler{}
	_, c := startServer(t, Options{Handler: h})

	resp, err := c.Post("http://agentguard"+HookPath+"?phase=PostToolUse", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []mediator.Phase{mediator.PhasePost}, h.phases)
}

func TestServer_HookRejectsBadPhase(t *testing.T) {
	_, c := startServer(t, Options{Handler: &fakeHandler{}})
	resp, err := c.Post("http://agentguard"+HookPath+"?phase=later", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_HookBodyLimit(t *testing.T) {
	_, c := startServer(t, Options{Handler: &fakeHandler{}, MaxRequestBytes: 16})
	body := bytes.Repeat([]byte("x"), 64)
	resp, err := c.Post("http://agentguard"+HookPath, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServer_Status(t *testing.T) {
	w, err := hotreload.NewWatcher(hotreload.WatcherConfig{OnChange: func(string) {}})
	require.NoError(t, err)
	s, c := startServer(t, Options{Handler: &fakeHandler{}, Watcher: w})

	resp, err := c.Get("http://agentguard/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, s.Path(), st.Socket)
	assert.NotNil(t, st.Watcher)
}

func TestServer_MediatesThroughRealMediator(t *testing.T) {
	t.Setenv(policy.EnvLevel, "")
	t.Setenv(policy.EnvLevels, "")
	root := t.TempDir()
	project := filepath.Join(root, "project")
	home := filepath.Join(root, "home")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.MkdirAll(home, 0o755))
	dataDir := filepath.Join(project, mediator.DataDirName)
	require.NoError(t, policy.SetCurrentLevel(dataDir, policy.Jailed))

	m := mediator.New(mediator.Options{ProjectRoot: project, Home: home, StateBackend: "memory"})
	_, c := startServer(t, Options{Handler: m})

	in := `{"session_id":"s1","tool_name":"Bash","tool_input":{"command":"curl example.com"},"hook_event_name":"PreToolUse","cwd":"` + project + `"}`
	resp, err := c.Post("http://agentguard"+HookPath+"?phase=pre", "application/json", strings.NewReader(in))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out types.HookOutput
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.HookSpecificOutput)
	assert.Equal(t, types.DecisionDeny, out.HookSpecificOutput.PermissionDecision)
}
