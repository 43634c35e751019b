package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/parley/internal/credential"
	"github.com/felixgeelhaar/parley/internal/provider"
	"github.com/felixgeelhaar/parley/internal/session"
)

var (
	newSettings session.Settings
	checkModel  bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage your model endpoint settings",
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save provider, api key, base url and model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := resolveUser()
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ss, err := settingsStore(s)
		if err != nil {
			return err
		}
		if checkModel {
			models, err := listModels(cmd.Context(), newSettings)
			if err != nil {
				return err
			}
			if !slices.Contains(models, newSettings.ModelID) {
				return fmt.Errorf("model %q is not served by %s; run 'parley settings models'", newSettings.ModelID, orNotSet(newSettings.BaseURL))
			}
		}
		if err := ss.Save(user, newSettings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Settings saved for %s\n", user)
		return nil
	},
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your settings with the api key masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := resolveUser()
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ss, err := settingsStore(s)
		if err != nil {
			return err
		}
		settings, err := ss.Load(user)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:     %s\n", user)
		fmt.Fprintf(out, "provider: %s\n", orNotSet(settings.Provider))
		apiKey := "(not set)"
		if settings.APIKey != "" {
			apiKey = credential.MaskSecret(settings.APIKey)
		}
		fmt.Fprintf(out, "api_key:  %s\n", apiKey)
		fmt.Fprintf(out, "base_url: %s\n", orNotSet(settings.BaseURL))
		fmt.Fprintf(out, "model_id: %s\n", orNotSet(settings.ModelID))
		if missing := settings.Missing(); len(missing) > 0 {
			fmt.Fprintf(out, "incomplete: missing %s\n", strings.Join(missing, ", "))
		}
		return nil
	},
}

var settingsModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models your endpoint serves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := resolveUser()
		if err != nil {
			return err
		}
		obs := newObserver(cmd.ErrOrStderr())
		defer obs.Close()
		prof, err := loadProfile(obs)
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		settings, err := loadSettings(s, user, prof)
		if err != nil {
			return err
		}
		models, err := listModels(cmd.Context(), settings)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, m := range models {
			mark := " "
			if m == settings.ModelID {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s\n", mark, m)
		}
		return nil
	},
}

// listModels asks the configured endpoint which models it serves.
func listModels(ctx context.Context, settings session.Settings) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := provider.New(settings.Provider, settings.APIKey, settings.BaseURL, settings.ModelID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}
	lister, ok := p.(provider.ModelLister)
	if !ok {
		return nil, fmt.Errorf("provider %s cannot list models", p.Name())
	}
	return lister.ListModels(ctx)
}

func orNotSet(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

func init() {
	RootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsModelsCmd)
	settingsSetCmd.Flags().StringVarP(&newSettings.Provider, "provider", "p", "", "AI Provider (openai, ollama, gemini, anthropic)")
	settingsSetCmd.Flags().StringVar(&newSettings.APIKey, "api-key", "", "API key, stored encrypted")
	settingsSetCmd.Flags().StringVar(&newSettings.BaseURL, "base-url", "", "API base url")
	settingsSetCmd.Flags().StringVarP(&newSettings.ModelID, "model", "m", "", "Model id")
	settingsSetCmd.Flags().BoolVar(&checkModel, "check", false, "Verify the model against the endpoint's model list before saving")
}
