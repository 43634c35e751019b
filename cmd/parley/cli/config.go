package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := args[1]

		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.SetConfig(key, value); err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		val, err := s.GetConfig(args[0])
		if err != nil {
			return err
		}
		if val == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "(not set)")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), val)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the agent profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prof, err := loadProfile(newObserver(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Profile OK: memory=%s window=%d/%d web_search=%s\n",
			prof.Memory.Backend, prof.Window.RecentMessages, prof.Window.SummarizeAfter, onOff(prof.WebSearch.Enabled))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configValidateCmd)
}
