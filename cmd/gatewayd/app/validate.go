package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpfed/gateway/pkg/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the gateway configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPathFlag()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validating configuration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d backend(s), %d routing profile(s)\n",
				len(cfg.Backends), len(cfg.Profiles))
			return nil
		},
	}
}
