// Package cmd provides the CLI commands for Lodestone.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
	"github.com/lodestone-mcp/lodestone/pkg/version"
)

// NewRootCmd creates the root command for the lodestone CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lodestone",
		Short: "Web content ingestion and RAG MCP server",
		Long: `Lodestone crawls web content, chunks and embeds it into a vector
store, and serves retrieval tools to AI clients over the Model Context
Protocol.

Running 'lodestone' with no arguments starts the MCP server on the
configured transport (stdio by default). Configuration comes from
environment variables, an optional .env file, and an optional YAML
file pointed to by LODESTONE_CONFIG.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("lodestone version {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command. Errors are printed with their kind and
// hint instead of cobra's bare "Error:" line.
func Execute() error {
	root := NewRootCmd()
	root.SilenceErrors = true
	err := root.Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, lserrors.FormatForCLI(err))
	}
	return err
}
