package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"airwaydefects/pkg/config"
)

var configInitFlags struct {
	force bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitFlags.force, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := rootFlags.configPath
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !configInitFlags.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
	return nil
}
