package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/parley/internal/config"
	"github.com/felixgeelhaar/parley/internal/credential"
	"github.com/felixgeelhaar/parley/internal/observe"
	"github.com/felixgeelhaar/parley/internal/session"
	"github.com/felixgeelhaar/parley/internal/store"
)

func parleyDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".parley")
}

func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if p := os.Getenv("PARLEY_DB"); p != "" {
		return p
	}
	return filepath.Join(parleyDir(), "parley.db")
}

func resolveUser() (string, error) {
	for _, u := range []string{userID, os.Getenv("PARLEY_USER"), os.Getenv("USER")} {
		if strings.TrimSpace(u) != "" {
			return u, nil
		}
	}
	return "", session.ErrNoUser
}

func newObserver(out io.Writer) *observe.Observer {
	if jsonLogs {
		return observe.NewJSON(out, verbose)
	}
	return observe.New(out, verbose)
}

func getStore() (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return s, nil
}

// loadProfile reads the explicit or default profile and validates it.
// A missing default profile means built-in defaults.
func loadProfile(obs *observe.Observer) (*config.Profile, error) {
	path := profilePath
	if path == "" {
		path = os.Getenv("PARLEY_PROFILE")
	}
	explicit := path != ""
	if !explicit {
		path = filepath.Join(parleyDir(), "profile.yaml")
	}

	prof, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			prof = config.Default()
		} else {
			return nil, err
		}
	}

	res := prof.Validate()
	for _, w := range res.Warnings {
		obs.Log().Warn().Str("profile", path).Msg(w)
	}
	if !res.Valid {
		return nil, fmt.Errorf("invalid profile %s: %s", path, strings.Join(res.Errors, "; "))
	}
	return prof, nil
}

func settingsStore(s *store.SQLiteStore) (*session.SettingsStore, error) {
	creds, err := credential.NewManager()
	if err != nil {
		return nil, err
	}
	return session.NewSettingsStore(s, creds), nil
}

// loadSettings reads the user's stored settings. PARLEY_* variables fill
// fields that were never saved; the profile supplies provider and model
// defaults.
func loadSettings(s *store.SQLiteStore, user string, prof *config.Profile) (session.Settings, error) {
	ss, err := settingsStore(s)
	if err != nil {
		return session.Settings{}, err
	}
	settings, err := ss.Load(user)
	if err != nil {
		return session.Settings{}, err
	}
	fill := func(dst *string, vals ...string) {
		for _, v := range vals {
			if *dst == "" {
				*dst = v
			}
		}
	}
	fill(&settings.Provider, os.Getenv("PARLEY_PROVIDER"), prof.Provider)
	fill(&settings.APIKey, os.Getenv("PARLEY_API_KEY"))
	fill(&settings.BaseURL, os.Getenv("PARLEY_BASE_URL"))
	fill(&settings.ModelID, os.Getenv("PARLEY_MODEL"), prof.Model)
	return settings, nil
}
