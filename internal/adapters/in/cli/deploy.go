package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/domain"
)

type deployClient interface {
	CreateDeployment(ctx context.Context, id domain.ToolID, cfg domain.ToolDeploymentConfig, content io.Reader, size int64) (*dto.DeploymentResponse, error)
	UpdateDeployment(ctx context.Context, id domain.ToolID, deploymentID domain.ToolDeploymentID, state domain.ToolDeploymentState) (*dto.DeploymentResponse, error)
	ResolveDeployment(ctx context.Context, id domain.ToolID, deploymentID domain.ToolDeploymentID, constraint string) (*dto.DeploymentResponse, error)
	OpenDeploymentZip(ctx context.Context, id domain.ToolID, deploymentID domain.ToolDeploymentID) (io.ReadCloser, error)
}

// errCancelled is returned when the user declines a confirmation prompt.
var errCancelled = errors.New("operation cancelled by user")

// confirmAction asks the user to confirm a destructive action.
var confirmAction = func(message string) (bool, error) {
	var proceed bool
	prompt := &survey.Confirm{
		Message: message,
		Default: false,
	}
	if err := survey.AskOne(prompt, &proceed); err != nil {
		return false, fmt.Errorf("survey failed: %w", err)
	}
	return proceed, nil
}

type deployCreateOptions struct {
	Version  string
	Duration time.Duration
	FileName string
}

type deployDownloadOptions struct {
	Constraint string
	Dest       string
}

func newDeployCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create and manage tool deployments",
	}

	cmd.AddCommand(newDeployCreateCmd(opts))
	cmd.AddCommand(newDeploySetStateCmd(opts))
	cmd.AddCommand(newDeployDownloadCmd(opts))

	return cmd
}

func newDeployCreateCmd(opts *globalOptions) *cobra.Command {
	var createOpts deployCreateOptions

	cmd := &cobra.Command{
		Use:   "create <tool> <file>",
		Short: "Upload a file or zip archive as a new deployment",
		Long: `Upload content as a new pending deployment. Zip archives are expanded into
their directory tree; any other file is stored as a single file.

--duration sets how long the rollout takes once the deployment is active.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			return runDeployCreate(cmd.Context(), client, domain.ToolID(args[0]), args[1], createOpts, opts.output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&createOpts.Version, "version", "", "Version of the deployment (required)")
	cmd.Flags().DurationVar(&createOpts.Duration, "duration", 0, "Rollout duration (e.g. 24h)")
	cmd.Flags().StringVar(&createOpts.FileName, "name", "", "File name for non-archive payloads (defaults to the file's base name)")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}

func newDeploySetStateCmd(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "set-state <tool> <deployment> <state>",
		Short: "Move a deployment to a new state",
		Long: `Move a deployment to a new state: active, complete, cancelled or failed.
Terminal states cannot be left again, so they ask for confirmation unless --yes is set.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			return runDeploySetState(cmd.Context(), client, domain.ToolID(args[0]), domain.ToolDeploymentID(args[1]), args[2], yes, opts.output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func newDeployDownloadCmd(opts *globalOptions) *cobra.Command {
	var downloadOpts deployDownloadOptions

	cmd := &cobra.Command{
		Use:   "download <tool> [deployment]",
		Short: "Download a deployment as a zip archive",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			var deploymentID domain.ToolDeploymentID
			if len(args) == 2 {
				deploymentID = domain.ToolDeploymentID(args[1])
			}
			return runDeployDownload(cmd.Context(), client, domain.ToolID(args[0]), deploymentID, downloadOpts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&downloadOpts.Constraint, "version", "", "Semver constraint for the latest deployment (e.g. ^1.2)")
	cmd.Flags().StringVarP(&downloadOpts.Dest, "file", "f", "", "Destination file (defaults to <tool>-<version>.zip)")

	return cmd
}

func runDeployCreate(ctx context.Context, client deployClient, id domain.ToolID, file string, opts deployCreateOptions, format string, out io.Writer) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", file, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory: zip it first", file)
	}

	cfg := domain.ToolDeploymentConfig{
		Version:  opts.Version,
		Duration: opts.Duration,
		FileName: opts.FileName,
	}
	if cfg.FileName == "" {
		cfg.FileName = filepath.Base(file)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dep, err := client.CreateDeployment(ctx, id, cfg, f, info.Size())
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	if format != outputTable {
		return writeStructured(out, format, dep)
	}

	if err := cliWriteLine(out, cliRenderSuccess(fmt.Sprintf("Deployment %s created for %s", dep.ID, id))); err != nil {
		return err
	}
	if err := cliWriteLine(out, cliRenderMeta("Version:", dep.Version)); err != nil {
		return err
	}
	if err := cliWriteLine(out, cliRenderMeta("Uploaded:", formatSize(info.Size()))); err != nil {
		return err
	}
	return cliWriteLine(out, cliRenderMeta("State:", cliRenderState(dep.State)))
}

func runDeploySetState(ctx context.Context, client deployClient, id domain.ToolID, deploymentID domain.ToolDeploymentID, stateName string, yes bool, format string, out io.Writer) error {
	state, err := domain.ParseDeploymentState(stateName)
	if err != nil {
		return err
	}

	if state.IsTerminal() && !yes {
		ok, err := confirmAction(fmt.Sprintf("Mark deployment %s of %s as %s? This cannot be undone.", deploymentID, id, state))
		if err != nil {
			return err
		}
		if !ok {
			return errCancelled
		}
	}

	dep, err := client.UpdateDeployment(ctx, id, deploymentID, state)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("deployment %s cannot move to %s: %w", deploymentID, state, err)
		}
		return fmt.Errorf("failed to update deployment: %w", err)
	}

	if format != outputTable {
		return writeStructured(out, format, dep)
	}
	return cliWriteLine(out, cliRenderSuccess(fmt.Sprintf("Deployment %s is now %s (%s)", dep.ID, cliRenderState(dep.State), strings.TrimSpace(formatProgress(dep.Progress)))))
}

func runDeployDownload(ctx context.Context, client deployClient, id domain.ToolID, deploymentID domain.ToolDeploymentID, opts deployDownloadOptions, out io.Writer) error {
	dep, err := client.ResolveDeployment(ctx, id, deploymentID, opts.Constraint)
	if err != nil {
		return fmt.Errorf("failed to resolve deployment: %w", err)
	}

	dest := opts.Dest
	if dest == "" {
		dest = fmt.Sprintf("%s-%s.zip", id, dep.Version)
	}

	body, err := client.OpenDeploymentZip(ctx, id, dep.ID)
	if err != nil {
		return fmt.Errorf("failed to download deployment %s: %w", dep.ID, err)
	}
	defer body.Close()

	counter := &byteCounter{r: body}
	if err := atomic.WriteFile(dest, counter); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	return cliWriteLine(out, cliRenderSuccess(fmt.Sprintf("Downloaded %s %s to %s (%s)", id, dep.Version, dest, formatSize(counter.n))))
}

type byteCounter struct {
	r io.Reader
	n int64
}

func (c *byteCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
