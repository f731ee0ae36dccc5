// Package cli implements the CLI adapter for toolshed.
// This package provides Cobra commands that either start the server through the
// app layer or talk to a running server through the remote client.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/toolshed/internal/adapters/out/remote"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Environment variables read for the persistent flag defaults.
const (
	EnvServer = "TOOLSHED_SERVER"
	EnvToken  = "TOOLSHED_TOKEN"
)

const defaultServer = "http://localhost:8080"

// globalOptions holds the persistent flags shared by the client commands.
type globalOptions struct {
	server string
	token  string
	output string
}

// client builds a remote client from the persistent flags.
func (o *globalOptions) client() (*remote.Client, error) {
	if o.server == "" {
		return nil, fmt.Errorf("no server configured: use --server or %s", EnvServer)
	}
	if err := validateOutputFormat(o.output); err != nil {
		return nil, err
	}

	var opts []remote.ClientOption
	if o.token != "" {
		opts = append(opts, remote.WithToken(o.token))
	}
	return remote.NewClient(o.server, opts...), nil
}

// NewRootCmd creates the root command for the toolshed CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "toolshed",
		Short: "toolshed - A tool distribution server",
		Long: `toolshed stores versioned tool bundles in content-addressed namespaces
and rolls them out to clients through timed deployments.

Run 'toolshed serve' to start a server, or use the tools and deploy commands
to manage a running one.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr(EnvServer, defaultServer), "toolshed server URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(EnvToken), "Bearer token for the server")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputTable, "Output format: table, json or yaml")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newToolsCmd(opts))
	rootCmd.AddCommand(newDeployCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("toolshed %s\n", Version)
			cmd.Printf("Commit: %s\n", Commit)
			cmd.Printf("Build Date: %s\n", BuildDate)
		},
	}
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(version, commit, date string) {
	if version != "" {
		Version = version
	}
	if commit != "" {
		Commit = commit
	}
	if date != "" {
		BuildDate = date
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
