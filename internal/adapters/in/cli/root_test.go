package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/domain"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown") })

	out, err := executeRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "toolshed 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestToolsListCmd_AgainstServer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/api/v1/tools", r.URL.Path)
		tool := &domain.Tool{ID: "editor", Name: "Editor", Public: true}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dto.ToolsResponse{Tools: []dto.ToolResponse{dto.NewToolResponse(tool, time.Now())}})
	}))
	t.Cleanup(srv.Close)

	out, err := executeRoot(t, "tools", "list", "--server", srv.URL, "--token", "secret", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)

	var resp dto.ToolsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Tools, 1)
	assert.Equal(t, domain.ToolID("editor"), resp.Tools[0].ID)
}

func TestRootCmd_ServerFromEnv(t *testing.T) {
	t.Setenv(EnvServer, "http://toolshed.example:9000")

	cmd := NewRootCmd()
	flag := cmd.PersistentFlags().Lookup("server")
	require.NotNil(t, flag)
	assert.Equal(t, "http://toolshed.example:9000", flag.DefValue)
}

func TestRootCmd_RejectsUnknownOutput(t *testing.T) {
	_, err := executeRoot(t, "tools", "list", "--server", "http://127.0.0.1:1", "-o", "xml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestRootCmd_RequiresServer(t *testing.T) {
	_, err := executeRoot(t, "tools", "list", "--server", "")
	assert.ErrorContains(t, err, "no server configured")
}
