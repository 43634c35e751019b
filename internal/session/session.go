// Package session carries the per-request context every tool and turn
// needs: who the user is, which model settings apply and which optional
// capabilities are switched on.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/parley/internal/credential"
)

var (
	// ErrSettingsIncomplete is returned when api key, base url or model id
	// is missing.
	ErrSettingsIncomplete = errors.New("settings incomplete: api key, base url and model id are required")
	ErrNoUser             = errors.New("user id is required")
)

// Settings are the user's model endpoint choices.
type Settings struct {
	Provider string `json:"provider"`
	APIKey   string `json:"-"`
	BaseURL  string `json:"base_url"`
	ModelID  string `json:"model_id"`
}

// Missing lists the names of required fields that are empty.
func (s Settings) Missing() []string {
	var missing []string
	if s.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if s.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if s.ModelID == "" {
		missing = append(missing, "model_id")
	}
	return missing
}

// Options toggles optional capabilities for a session.
type Options struct {
	WebSearch   bool
	Rerank      bool
	NumResults  int
	RerankLimit int
}

// DefaultOptions matches the out-of-the-box behaviour: web search off,
// rerank on when enabled, five results, one reranked result.
var DefaultOptions = Options{
	WebSearch:   false,
	Rerank:      true,
	NumResults:  5,
	RerankLimit: 1,
}

// Session is the explicit context passed to the controller and tools.
type Session struct {
	UserID   string
	Settings Settings
	Options  Options
}

// New builds a session, refusing incomplete settings.
func New(userID string, settings Settings, opts Options) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrNoUser
	}
	if missing := settings.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w (missing %s)", ErrSettingsIncomplete, strings.Join(missing, ", "))
	}
	if opts.NumResults <= 0 {
		opts.NumResults = DefaultOptions.NumResults
	}
	if opts.RerankLimit <= 0 {
		opts.RerankLimit = DefaultOptions.RerankLimit
	}
	return &Session{UserID: userID, Settings: settings, Options: opts}, nil
}

// NewThreadID returns "{user}@{YYYYMMDD_HHMMSSfff}".
func NewThreadID(userID string, now time.Time) string {
	return fmt.Sprintf("%s@%s%03d", userID, now.Format("20060102_150405"), now.Nanosecond()/int(time.Millisecond))
}

// ConfigStore is the key/value table settings are kept in.
type ConfigStore interface {
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
}

// SettingsStore persists Settings per user, encrypting the api key.
type SettingsStore struct {
	cfg   ConfigStore
	creds *credential.Manager
}

func NewSettingsStore(cfg ConfigStore, creds *credential.Manager) *SettingsStore {
	return &SettingsStore{cfg: cfg, creds: creds}
}

func settingsKey(userID, field string) string {
	return "user/" + userID + "/" + field
}

// Load returns the stored settings; missing fields are empty.
func (s *SettingsStore) Load(userID string) (Settings, error) {
	var out Settings
	fields := map[string]*string{
		"provider": &out.Provider,
		"base_url": &out.BaseURL,
		"model_id": &out.ModelID,
	}
	for field, dst := range fields {
		v, err := s.cfg.GetConfig(settingsKey(userID, field))
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read %s: %w", field, err)
		}
		*dst = v
	}

	sealed, err := s.cfg.GetConfig(settingsKey(userID, "api_key"))
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read api_key: %w", err)
	}
	key, err := s.creds.Decrypt(userID, sealed)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to decrypt api_key: %w", err)
	}
	out.APIKey = key
	return out, nil
}

// Save writes the non-empty fields of settings.
func (s *SettingsStore) Save(userID string, settings Settings) error {
	if userID == "" {
		return ErrNoUser
	}
	if settings.APIKey != "" {
		sealed, err := s.creds.Encrypt(userID, settings.APIKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt api_key: %w", err)
		}
		if err := s.cfg.SetConfig(settingsKey(userID, "api_key"), sealed); err != nil {
			return err
		}
	}
	for field, v := range map[string]string{
		"provider": settings.Provider,
		"base_url": settings.BaseURL,
		"model_id": settings.ModelID,
	} {
		if v == "" {
			continue
		}
		if err := s.cfg.SetConfig(settingsKey(userID, field), v); err != nil {
			return err
		}
	}
	return nil
}
