package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/adapters/out/memory"
	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/storage"
)

type fakeToolsClient struct {
	tools     []*domain.Tool
	listErr   error
	published []*domain.Tool
	resolved  *dto.DeploymentResponse

	lastConstraint string
}

func (f *fakeToolsClient) ListTools(_ context.Context) ([]*domain.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeToolsClient) GetTool(_ context.Context, id domain.ToolID) (*domain.Tool, error) {
	for _, t := range f.tools {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, domain.ErrToolNotFound
}

func (f *fakeToolsClient) PublishTool(_ context.Context, tool *domain.Tool) error {
	f.published = append(f.published, tool)
	return nil
}

func (f *fakeToolsClient) ResolveDeployment(_ context.Context, _ domain.ToolID, _ domain.ToolDeploymentID, constraint string) (*dto.DeploymentResponse, error) {
	f.lastConstraint = constraint
	if f.resolved == nil {
		return nil, domain.ErrDeploymentNotFound
	}
	return f.resolved, nil
}

func sampleTool() *domain.Tool {
	created := time.Now().Add(-2 * time.Hour)
	return &domain.Tool{
		ID:        "build-tools",
		Name:      "Build Tools",
		Category:  "build",
		Platforms: []string{"win64", "linux"},
		Public:    true,
		Deployments: []domain.ToolDeployment{
			{ID: "d1", Version: "1.0.0", State: domain.DeploymentStateComplete, Progress: 1, CreatedAt: created},
			{ID: "d2", Version: "1.1.0", State: domain.DeploymentStatePending, CreatedAt: created},
		},
	}
}

func TestRunToolsList_Table(t *testing.T) {
	client := &fakeToolsClient{tools: []*domain.Tool{sampleTool()}}

	var out bytes.Buffer
	require.NoError(t, runToolsList(context.Background(), client, outputTable, &out))

	text := out.String()
	assert.Contains(t, text, "NAME")
	assert.Contains(t, text, "build-tools")
	assert.Contains(t, text, "1.1.0 (pending)")
	assert.Contains(t, text, "Total tools: 1")
}

func TestRunToolsList_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runToolsList(context.Background(), &fakeToolsClient{}, outputTable, &out))
	assert.Contains(t, out.String(), "No tools found")
}

func TestRunToolsList_JSON(t *testing.T) {
	client := &fakeToolsClient{tools: []*domain.Tool{sampleTool()}}

	var out bytes.Buffer
	require.NoError(t, runToolsList(context.Background(), client, outputJSON, &out))

	var resp dto.ToolsResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Len(t, resp.Tools, 1)
	assert.Equal(t, domain.ToolID("build-tools"), resp.Tools[0].ID)
	assert.Len(t, resp.Tools[0].Deployments, 2)
}

func TestRunToolsList_Error(t *testing.T) {
	client := &fakeToolsClient{listErr: errors.New("boom")}

	err := runToolsList(context.Background(), client, outputTable, &bytes.Buffer{})
	assert.ErrorContains(t, err, "failed to list tools")
}

func TestRunToolsGet_Table(t *testing.T) {
	client := &fakeToolsClient{tools: []*domain.Tool{sampleTool()}}

	var out bytes.Buffer
	require.NoError(t, runToolsGet(context.Background(), client, "build-tools", outputTable, &out))

	text := out.String()
	assert.Contains(t, text, "Build Tools")
	assert.Contains(t, text, "win64,linux")
	assert.Contains(t, text, string(domain.DefaultToolNamespace))
	assert.Contains(t, text, "DEPLOYMENT")
	assert.Contains(t, text, "100%")
	assert.Contains(t, text, "2 hours ago")
}

func TestRunToolsGet_YAML(t *testing.T) {
	client := &fakeToolsClient{tools: []*domain.Tool{sampleTool()}}

	var out bytes.Buffer
	require.NoError(t, runToolsGet(context.Background(), client, "build-tools", outputYAML, &out))

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "build-tools", doc["id"])
	assert.Equal(t, false, doc["show_in_ugs"])
}

func TestRunToolsGet_NotFound(t *testing.T) {
	err := runToolsGet(context.Background(), &fakeToolsClient{}, "missing", outputTable, &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunToolsFiles(t *testing.T) {
	ctx := context.Background()
	ns := storage.NewNamespace(domain.DefaultToolNamespace, memory.NewBlobStore(), storage.WithTempDir(t.TempDir()))

	exe, err := ns.WriteBytes(ctx, []byte("#!/bin/sh\necho hi\n"))
	require.NoError(t, err)
	readme, err := ns.WriteBytes(ctx, []byte("readme"))
	require.NoError(t, err)
	bin, err := ns.WriteDirectory(ctx, domain.DirectoryNode{
		Files: []domain.FileEntry{{Name: "run.sh", Locator: exe, Length: 18, Executable: true}},
	})
	require.NoError(t, err)
	root, err := ns.WriteDirectory(ctx, domain.DirectoryNode{
		Directories: []domain.DirectoryEntry{{Name: "bin", Locator: bin, Length: 18}},
		Files:       []domain.FileEntry{{Name: "README", Locator: readme, Length: 6}},
	})
	require.NoError(t, err)

	client := &fakeToolsClient{
		tools:    []*domain.Tool{sampleTool()},
		resolved: &dto.DeploymentResponse{ID: "d1", Version: "1.0.0", Locator: root},
	}
	open := func(id domain.NamespaceID) *storage.Namespace {
		assert.Equal(t, domain.DefaultToolNamespace, id)
		return ns
	}

	var out bytes.Buffer
	require.NoError(t, runToolsFiles(ctx, client, open, "build-tools", "", "^1", outputTable, &out))
	assert.Equal(t, "^1", client.lastConstraint)

	text := out.String()
	assert.Contains(t, text, "README")
	assert.Contains(t, text, "bin/run.sh")
	assert.Contains(t, text, "2 files, 24 B")

	out.Reset()
	require.NoError(t, runToolsFiles(ctx, client, open, "build-tools", "d1", "", outputJSON, &out))
	var files []fileRow
	require.NoError(t, json.Unmarshal(out.Bytes(), &files))
	require.Len(t, files, 2)
	assert.Equal(t, "bin/run.sh", files[1].Path)
	assert.True(t, files[1].Executable)
}

func TestRunToolsPublish_YAMLManifest(t *testing.T) {
	client := &fakeToolsClient{}
	manifest := strings.Join([]string{
		"id: build-tools",
		"name: Build Tools",
		"public: true",
		"platforms: [win64]",
		"metadata:",
		"  owner: infra",
		"deployments:",
		"  - id: ignored",
		"    version: 0.0.1",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, runToolsPublish(context.Background(), client, []byte(manifest), &out))

	require.Len(t, client.published, 1)
	tool := client.published[0]
	assert.Equal(t, domain.ToolID("build-tools"), tool.ID)
	assert.True(t, tool.Public)
	assert.Equal(t, []string{"win64"}, tool.Platforms)
	assert.Equal(t, "infra", tool.Metadata["owner"])
	assert.Empty(t, tool.Deployments)
	assert.Contains(t, out.String(), "Tool build-tools published")
}

func TestRunToolsPublish_JSONManifestDefaultsName(t *testing.T) {
	client := &fakeToolsClient{}

	require.NoError(t, runToolsPublish(context.Background(), client, []byte(`{"id":"editor"}`), &bytes.Buffer{}))
	require.Len(t, client.published, 1)
	assert.Equal(t, "editor", client.published[0].Name)
}

func TestRunToolsPublish_InvalidID(t *testing.T) {
	err := runToolsPublish(context.Background(), &fakeToolsClient{}, []byte("name: nameless"), &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrInvalidToolID)
}
