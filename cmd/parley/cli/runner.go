package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/parley/internal/agent"
	"github.com/felixgeelhaar/parley/internal/config"
	"github.com/felixgeelhaar/parley/internal/guard"
	"github.com/felixgeelhaar/parley/internal/memstore"
	"github.com/felixgeelhaar/parley/internal/observe"
	"github.com/felixgeelhaar/parley/internal/provider"
	"github.com/felixgeelhaar/parley/internal/runtime"
	"github.com/felixgeelhaar/parley/internal/search"
	"github.com/felixgeelhaar/parley/internal/session"
	"github.com/felixgeelhaar/parley/internal/store"
	"github.com/felixgeelhaar/parley/internal/tools"
	"github.com/felixgeelhaar/parley/internal/ui"
)

// Runner wires the model, stores, tools and controller for one process.
type Runner struct {
	Observer   *observe.Observer
	Store      *store.SQLiteStore
	Memory     memstore.Store
	Provider   provider.Provider
	Profile    *config.Profile
	Bus        *runtime.EventBus
	Registry   *agent.Registry
	Controller *runtime.Controller
}

// NewRunner builds the runtime. u may be nil.
func NewRunner(obs *observe.Observer, s *store.SQLiteStore, mem memstore.Store, p provider.Provider, sp search.Provider, prof *config.Profile, u ui.UI) (*Runner, error) {
	if u == nil {
		u = ui.SilentUI{}
	}
	timeout, err := prof.FetchTimeout()
	if err != nil {
		return nil, fmt.Errorf("fetch.timeout: %w", err)
	}

	g := guard.New(prof.Policy())
	reg, err := agent.NewRegistry(
		tools.NewManageMemory(mem),
		tools.NewSearchMemory(mem),
		tools.NewWebSearch(sp, mem),
		tools.NewFetchURL(g, &http.Client{}, timeout),
	)
	if err != nil {
		return nil, err
	}

	bus := runtime.NewEventBus()
	ui.Attach(bus, u)

	a := agent.New(p, reg, g, obs)
	a.SetToolHook(func(ctx context.Context, call provider.ToolCall) {
		obs.Log().Debug().Str("tool", call.Name).Msg("tool call")
		bus.PublishWithData(runtime.EventToolCall, runtime.ThreadFromContext(ctx), map[string]interface{}{
			"tool": call.Name,
		})
	})

	sum := runtime.NewSummarizer(p, obs)
	sum.SetLimits(prof.Window.SummarizeCap, prof.Window.MaxSummaryChars)

	return &Runner{
		Observer:   obs,
		Store:      s,
		Memory:     mem,
		Provider:   p,
		Profile:    prof,
		Bus:        bus,
		Registry:   reg,
		Controller: runtime.NewController(s, a, sum, bus, obs, prof.WindowConfig()),
	}, nil
}

// Turn runs one user message on threadID.
func (r *Runner) Turn(ctx context.Context, sess *session.Session, threadID, text string) (*runtime.TurnResult, error) {
	return r.Controller.Turn(ctx, sess, threadID, text)
}

// Close releases the memory store.
func (r *Runner) Close() error {
	return r.Memory.Close()
}

// environment is everything a command needs to talk to the model.
type environment struct {
	obs     *observe.Observer
	store   *store.SQLiteStore
	profile *config.Profile
	session *session.Session
	runner  *Runner
}

func (e *environment) Close() {
	if e.runner != nil {
		_ = e.runner.Close()
	}
	_ = e.store.Close()
	_ = e.obs.Close()
}

// openEnvironment loads profile, settings and stores, and builds a session
// and runner for the current user.
func openEnvironment(obs *observe.Observer, u ui.UI) (*environment, error) {
	user, err := resolveUser()
	if err != nil {
		return nil, err
	}
	prof, err := loadProfile(obs)
	if err != nil {
		return nil, err
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	env := &environment{obs: obs, store: s, profile: prof}

	settings, err := loadSettings(s, user, prof)
	if err != nil {
		env.Close()
		return nil, err
	}
	sess, err := session.New(user, settings, prof.Options())
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("%w; run 'parley settings set' first", err)
	}
	env.session = sess

	p, err := provider.New(settings.Provider, settings.APIKey, settings.BaseURL, settings.ModelID)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}
	if ts, ok := p.(interface{ SetTemperature(float32) }); ok {
		ts.SetTemperature(prof.Agent.Temperature)
	}
	emb, err := newEmbedder(prof, settings, p)
	if err != nil {
		env.Close()
		return nil, err
	}

	memDir := prof.Memory.Path
	if memDir == "" && prof.Memory.Backend == "chromem" {
		memDir = filepath.Join(filepath.Dir(resolveDBPath()), "memory")
	}
	mem, err := memstore.Open(prof.Memory.Backend, s.DB(), memDir, emb)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	r, err := NewRunner(obs, s, mem, p, search.NewDuckDuckGo(), prof, u)
	if err != nil {
		_ = mem.Close()
		env.Close()
		return nil, err
	}
	env.runner = r
	return env, nil
}

// newEmbedder returns the embedder for the memory store: the chat provider
// unless the profile names a separate embedding provider.
func newEmbedder(prof *config.Profile, settings session.Settings, chat provider.Provider) (memstore.Embedder, error) {
	cfg := prof.Embedding
	if cfg.Provider == "" {
		if chat.Name() == "anthropic" {
			return nil, fmt.Errorf("provider anthropic cannot embed memories; set embedding.provider in the profile")
		}
		return chat, nil
	}

	apiKey := os.Getenv("PARLEY_EMBEDDING_API_KEY")
	baseURL := cfg.BaseURL
	if sameProvider(cfg.Provider, settings.Provider) {
		if apiKey == "" {
			apiKey = settings.APIKey
		}
		if baseURL == "" {
			baseURL = settings.BaseURL
		}
	}
	emb, err := provider.NewEmbedder(cfg.Provider, apiKey, baseURL, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return emb, nil
}

func sameProvider(a, b string) bool {
	norm := func(s string) string {
		if s == "" {
			return "openai"
		}
		return s
	}
	return norm(a) == norm(b)
}
