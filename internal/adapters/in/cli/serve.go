package cli

import (
	"github.com/spf13/cobra"

	"github.com/bnema/toolshed/internal/app"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the toolshed server",
		Long:  `Start the toolshed server: storage namespaces, the tool collection and the HTTP API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.SetVersion(Version)
			return app.Run(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}
