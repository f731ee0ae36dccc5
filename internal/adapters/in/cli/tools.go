package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/adapters/out/remote"
	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/storage"
)

type toolsClient interface {
	ListTools(ctx context.Context) ([]*domain.Tool, error)
	GetTool(ctx context.Context, id domain.ToolID) (*domain.Tool, error)
	PublishTool(ctx context.Context, tool *domain.Tool) error
	ResolveDeployment(ctx context.Context, id domain.ToolID, deploymentID domain.ToolDeploymentID, constraint string) (*dto.DeploymentResponse, error)
}

// namespaceOpener returns a namespace reading content of a remote server.
type namespaceOpener func(ns domain.NamespaceID) *storage.Namespace

// fileRow is one file of a deployment tree.
type fileRow struct {
	Path       string             `json:"path"`
	Size       int64              `json:"size"`
	Executable bool               `json:"executable,omitempty"`
	Locator    domain.BlobLocator `json:"locator"`
}

func newToolsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Browse and publish tools",
	}

	cmd.AddCommand(newToolsListCmd(opts))
	cmd.AddCommand(newToolsGetCmd(opts))
	cmd.AddCommand(newToolsFilesCmd(opts))
	cmd.AddCommand(newToolsPublishCmd(opts))

	return cmd
}

func newToolsListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools visible to you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			return runToolsList(cmd.Context(), client, opts.output, cmd.OutOrStdout())
		},
	}
}

func newToolsGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <tool>",
		Short: "Show a tool and its deployments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			return runToolsGet(cmd.Context(), client, domain.ToolID(args[0]), opts.output, cmd.OutOrStdout())
		},
	}
}

func newToolsFilesCmd(opts *globalOptions) *cobra.Command {
	var constraint string

	cmd := &cobra.Command{
		Use:   "files <tool> [deployment]",
		Short: "List the files of a deployment",
		Long: `List the files of a deployment. Without a deployment id the latest usable
deployment is shown, optionally restricted by --version.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			var deploymentID domain.ToolDeploymentID
			if len(args) == 2 {
				deploymentID = domain.ToolDeploymentID(args[1])
			}
			open := func(ns domain.NamespaceID) *storage.Namespace {
				return storage.NewNamespace(ns, remote.NewBackend(client, ns))
			}
			return runToolsFiles(cmd.Context(), client, open, domain.ToolID(args[0]), deploymentID, constraint, opts.output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&constraint, "version", "", "Semver constraint for the latest deployment (e.g. ^1.2)")

	return cmd
}

func newToolsPublishCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <manifest>",
		Short: "Create or update a tool from a YAML or JSON manifest",
		Long: `Create or update a tool's metadata. The manifest uses the same fields as
'toolshed tools get -o yaml'; deployments listed in it are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read manifest: %w", err)
			}
			return runToolsPublish(cmd.Context(), client, data, cmd.OutOrStdout())
		},
	}
}

func runToolsList(ctx context.Context, client toolsClient, format string, out io.Writer) error {
	tools, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	now := time.Now()
	if format != outputTable {
		resp := dto.ToolsResponse{Tools: make([]dto.ToolResponse, 0, len(tools))}
		for _, t := range tools {
			resp.Tools = append(resp.Tools, dto.NewToolResponse(t, now))
		}
		return writeStructured(out, format, resp)
	}

	if len(tools) == 0 {
		return cliWriteLine(out, cliRenderMuted("No tools found"))
	}

	rows := make([][]string, 0, len(tools))
	for _, t := range tools {
		latest := "-"
		if n := len(t.Deployments); n > 0 {
			d := t.Deployments[n-1]
			latest = d.Version + " (" + cliRenderState(d.State) + ")"
		}
		rows = append(rows, []string{
			string(t.ID),
			t.Name,
			t.Category,
			formatBool(t.Public),
			fmt.Sprintf("%d", len(t.Deployments)),
			latest,
		})
	}

	if err := cliWriteLine(out, cliRenderTitle("Tools")); err != nil {
		return err
	}
	if err := cliWriteLine(out, renderTable([]string{"ID", "NAME", "CATEGORY", "PUBLIC", "DEPLOYMENTS", "LATEST"}, rows)); err != nil {
		return err
	}
	return cliWritef(out, "\nTotal tools: %d\n", len(tools))
}

func runToolsGet(ctx context.Context, client toolsClient, id domain.ToolID, format string, out io.Writer) error {
	tool, err := client.GetTool(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get tool %s: %w", id, err)
	}

	now := time.Now()
	if format != outputTable {
		return writeStructured(out, format, dto.NewToolResponse(tool, now))
	}

	lines := []string{
		cliRenderTitle(tool.Name),
		cliRenderMeta("ID:", string(tool.ID)),
		cliRenderMeta("Namespace:", string(tool.Namespace())),
		cliRenderMeta("Category:", tool.Category),
		cliRenderMeta("Platforms:", formatList(tool.Platforms)),
		cliRenderMeta("Public:", formatBool(tool.Public)),
	}
	if tool.Description != "" {
		lines = append(lines, cliRenderMeta("Description:", tool.Description))
	}
	for _, line := range lines {
		if err := cliWriteLine(out, line); err != nil {
			return err
		}
	}

	if len(tool.Deployments) == 0 {
		return cliWriteLine(out, "\n"+cliRenderMuted("No deployments"))
	}

	rows := make([][]string, 0, len(tool.Deployments))
	for i := range tool.Deployments {
		d := &tool.Deployments[i]
		rows = append(rows, []string{
			string(d.ID),
			d.Version,
			cliRenderState(d.State),
			formatProgress(d.ProgressAt(now)),
			formatAge(d.CreatedAt),
		})
	}
	return cliWriteLine(out, "\n"+renderTable([]string{"DEPLOYMENT", "VERSION", "STATE", "PROGRESS", "CREATED"}, rows))
}

func runToolsFiles(ctx context.Context, client toolsClient, open namespaceOpener, id domain.ToolID, deploymentID domain.ToolDeploymentID, constraint, format string, out io.Writer) error {
	tool, err := client.GetTool(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get tool %s: %w", id, err)
	}
	dep, err := client.ResolveDeployment(ctx, id, deploymentID, constraint)
	if err != nil {
		return fmt.Errorf("failed to resolve deployment: %w", err)
	}

	ns := open(tool.Namespace())
	var files []fileRow
	if err := collectFiles(ctx, ns, dep.Locator, "", &files); err != nil {
		return fmt.Errorf("failed to read deployment %s: %w", dep.ID, err)
	}

	if format != outputTable {
		return writeStructured(out, format, files)
	}

	var total int64
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		total += f.Size
		exec := ""
		if f.Executable {
			exec = "x"
		}
		rows = append(rows, []string{f.Path, formatSize(f.Size), exec})
	}

	if err := cliWriteLine(out, cliRenderTitle(fmt.Sprintf("%s %s", id, dep.Version))); err != nil {
		return err
	}
	if err := cliWriteLine(out, renderTable([]string{"PATH", "SIZE", "EXEC"}, rows)); err != nil {
		return err
	}
	return cliWritef(out, "\n%d files, %s\n", len(files), formatSize(total))
}

func collectFiles(ctx context.Context, ns *storage.Namespace, locator domain.BlobLocator, prefix string, files *[]fileRow) error {
	node, err := ns.DirectoryRef(locator).Resolve(ctx)
	if err != nil {
		return err
	}
	for _, f := range node.Files {
		*files = append(*files, fileRow{
			Path:       path.Join(prefix, f.Name),
			Size:       f.Length,
			Executable: f.Executable,
			Locator:    f.Locator,
		})
	}
	for _, d := range node.Directories {
		if err := collectFiles(ctx, ns, d.Locator, path.Join(prefix, d.Name), files); err != nil {
			return err
		}
	}
	return nil
}

func runToolsPublish(ctx context.Context, client toolsClient, manifest []byte, out io.Writer) error {
	tool, err := parseToolManifest(manifest)
	if err != nil {
		return err
	}
	tool.Deployments = nil

	if err := client.PublishTool(ctx, tool); err != nil {
		return fmt.Errorf("failed to publish tool %s: %w", tool.ID, err)
	}
	return cliWriteLine(out, cliRenderSuccess(fmt.Sprintf("Tool %s published", tool.ID)))
}

// parseToolManifest reads a YAML or JSON tool manifest. JSON is valid YAML, so
// both go through the YAML decoder and then the JSON field mapping.
func parseToolManifest(data []byte) (*domain.Tool, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	var resp dto.ToolResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	tool, err := resp.Record()
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if err := tool.ID.Validate(); err != nil {
		return nil, err
	}
	if tool.Name == "" {
		tool.Name = string(tool.ID)
	}
	return tool, nil
}
