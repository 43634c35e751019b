package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbPath      string
	profilePath string
	userID      string
	verbose     bool
	jsonLogs    bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Conversational assistant with long-term memory",
	Long: `Parley chats with a language model that remembers what you tell it,
summarizes long threads, and can search and read the web when you allow it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFiles()
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvFiles loads .env.local then .env; existing variables win.
func loadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

func init() {
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default $PARLEY_DB or ~/.parley/parley.db)")
	RootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "Agent profile, YAML or JSON (default $PARLEY_PROFILE or ~/.parley/profile.yaml)")
	RootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "User id (default $PARLEY_USER or $USER)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Log as JSON")
}
