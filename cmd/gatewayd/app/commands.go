// Package app provides the entry point for the gateway daemon's CLI.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev" // overridden at build time via -ldflags

// NewRootCmd builds the gatewayd command tree: serve, validate, version.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "gatewayd",
		Short:             "MCP multiplexing gateway",
		Long:              `gatewayd federates multiple MCP backends behind one client-facing endpoint, applying access control, circuit breaking, and response caching uniformly across them.`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to the gateway configuration file")
	if err := viper.BindPFlag("config", root.PersistentFlags().Lookup("config")); err != nil {
		panic(fmt.Sprintf("gatewayd: bind config flag: %v", err))
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gatewayd version %s\n", version)
		},
	}
}

func configPathFlag() (string, error) {
	path := viper.GetString("config")
	if path == "" {
		return "", fmt.Errorf("no configuration file specified, use --config/-c")
	}
	return path, nil
}
