package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"accrualsync/internal/config"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config.toml with the default field table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgInfo.Found && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgInfo.Path)
			}
			if err := config.SaveConfig(config.DefaultConfig(), cfgInfo.Path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", cfgInfo.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
