package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/timvw/pane-conductor/internal/config"
)

var flagConfigAgent string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if cfg.ConfigFile != "" {
			fmt.Fprintf(os.Stderr, "config: loaded %s\n", cfg.ConfigFile)
		} else {
			fmt.Fprintln(os.Stderr, "config: no file found, showing defaults")
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

var configSetProviderCmd = &cobra.Command{
	Use:   "set-provider <provider>",
	Short: "Set the default provider, or the provider of one agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := cfg.SetProvider(flagConfigAgent, args[0]); err != nil {
			return err
		}

		path := cfg.ConfigFile
		if path == "" {
			path = config.UserConfigPath()
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		if flagConfigAgent != "" {
			fmt.Fprintf(os.Stderr, "%s now uses %s (%s)\n", flagConfigAgent, args[0], path)
		} else {
			fmt.Fprintf(os.Stderr, "default provider is now %s (%s)\n", args[0], path)
		}
		return nil
	},
}

func init() {
	configSetProviderCmd.Flags().StringVar(&flagConfigAgent, "agent", "", "agent profile to override (default: change default_provider)")
	configCmd.AddCommand(configShowCmd, configSetProviderCmd)
	rootCmd.AddCommand(configCmd)
}
