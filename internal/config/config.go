// Package config loads the agent profile: model choice, window sizes,
// web search defaults, fetch limits and the memory backend.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/parley/internal/guard"
	"github.com/felixgeelhaar/parley/internal/runtime"
	"github.com/felixgeelhaar/parley/internal/session"
)

// Profile is the on-disk agent configuration.
type Profile struct {
	Provider  string          `json:"provider" yaml:"provider"`
	Model     string          `json:"model" yaml:"model"`
	WebSearch WebSearchConfig `json:"web_search" yaml:"web_search"`
	Window    WindowConfig    `json:"window" yaml:"window"`
	Fetch     FetchConfig     `json:"fetch" yaml:"fetch"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
}

type WebSearchConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	Rerank      bool `json:"rerank" yaml:"rerank"`
	NumResults  int  `json:"num_results" yaml:"num_results"`
	RerankLimit int  `json:"rerank_limit" yaml:"rerank_limit"`
}

type WindowConfig struct {
	RecentMessages    int  `json:"recent_messages" yaml:"recent_messages"`
	SummarizeAfter    int  `json:"summarize_after" yaml:"summarize_after"`
	SummarizeCap      int  `json:"summarize_cap" yaml:"summarize_cap"`
	MaxSummaryChars   int  `json:"max_summary_chars" yaml:"max_summary_chars"`
	ExcludeSummarized bool `json:"exclude_summarized" yaml:"exclude_summarized"`
}

type FetchConfig struct {
	// Timeout is a Go duration such as "10s".
	Timeout           string   `json:"timeout" yaml:"timeout"`
	AllowedHosts      []string `json:"allowed_hosts" yaml:"allowed_hosts"`
	DeniedHosts       []string `json:"denied_hosts" yaml:"denied_hosts"`
	AllowPrivateHosts bool     `json:"allow_private_hosts" yaml:"allow_private_hosts"`
}

type MemoryConfig struct {
	// Backend is sqlite or chromem.
	Backend string `json:"backend" yaml:"backend"`
	// Path is the chromem persistence directory.
	Path string `json:"path" yaml:"path"`
}

// EmbeddingConfig selects the provider the memory store embeds with. An
// empty Provider embeds with the chat provider. The API key comes from
// PARLEY_EMBEDDING_API_KEY, or the chat key when the providers match.
type EmbeddingConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
}

type AgentConfig struct {
	MaxToolIterations int     `json:"max_tool_iterations" yaml:"max_tool_iterations"`
	MaxPromptTokens   int     `json:"max_prompt_tokens" yaml:"max_prompt_tokens"`
	MaxOutputTokens   int     `json:"max_output_tokens" yaml:"max_output_tokens"`
	Temperature       float32 `json:"temperature" yaml:"temperature"`
}

// ValidationResult represents the outcome of a validation pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// Default returns the built-in profile.
func Default() *Profile {
	return &Profile{
		WebSearch: WebSearchConfig{
			Enabled:     session.DefaultOptions.WebSearch,
			Rerank:      session.DefaultOptions.Rerank,
			NumResults:  session.DefaultOptions.NumResults,
			RerankLimit: session.DefaultOptions.RerankLimit,
		},
		Window: WindowConfig{
			RecentMessages:  runtime.DefaultWindow.RecentMessages,
			SummarizeAfter:  runtime.DefaultWindow.SummarizeAfter,
			SummarizeCap:    runtime.DefaultSummarizeCap,
			MaxSummaryChars: runtime.DefaultMaxSummaryChars,
		},
		Fetch: FetchConfig{
			Timeout:      "10s",
			AllowedHosts: []string{"*"},
		},
		Memory: MemoryConfig{Backend: "sqlite"},
		Agent:  AgentConfig{MaxToolIterations: guard.DefaultPolicy.MaxToolIterations},
	}
}

// Load reads a profile from a file (JSON or YAML). Fields absent from the
// file keep their defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	p := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON profile: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML profile: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported profile format: %s (use .json or .yaml)", ext)
	}

	return p, nil
}

// Validate checks the profile for mistakes and questionable choices.
func (p *Profile) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}
	fail := func(format string, args ...any) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	if p.Window.RecentMessages < 1 {
		fail("window.recent_messages must be at least 1")
	}
	if p.Window.SummarizeAfter < 3 {
		fail("window.summarize_after must be at least 3")
	}
	if p.Window.SummarizeCap < 1 {
		fail("window.summarize_cap must be at least 1")
	}
	if p.Window.SummarizeCap >= 1 && p.Window.SummarizeAfter > p.Window.SummarizeCap+2 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("window.summarize_after exceeds summarize_cap+2; the oldest %d messages of each fold never reach the summary", p.Window.SummarizeAfter-p.Window.SummarizeCap-1))
	}
	if p.Window.RecentMessages > p.Window.SummarizeAfter && !p.Window.ExcludeSummarized {
		res.Warnings = append(res.Warnings, "window.recent_messages exceeds summarize_after; summarized messages will also appear in the recent window")
	}

	if p.WebSearch.NumResults < 1 || p.WebSearch.NumResults > 25 {
		fail("web_search.num_results must be between 1 and 25")
	}
	if p.WebSearch.Rerank && p.WebSearch.RerankLimit < 1 {
		fail("web_search.rerank_limit must be at least 1 when rerank is on")
	}
	if p.WebSearch.RerankLimit > p.WebSearch.NumResults {
		res.Warnings = append(res.Warnings, "web_search.rerank_limit is larger than num_results")
	}

	if _, err := p.FetchTimeout(); err != nil {
		fail("fetch.timeout: %v", err)
	}
	for _, pattern := range append(append([]string{}, p.Fetch.AllowedHosts...), p.Fetch.DeniedHosts...) {
		if !doublestar.ValidatePattern(pattern) {
			fail("invalid host pattern %q", pattern)
		}
	}
	if len(p.Fetch.AllowedHosts) == 0 {
		res.Warnings = append(res.Warnings, "fetch.allowed_hosts is empty; every URL fetch will be refused")
	}
	if p.Fetch.AllowPrivateHosts {
		res.Warnings = append(res.Warnings, "fetch.allow_private_hosts lets the model reach local network addresses")
	}

	switch p.Memory.Backend {
	case "", "sqlite":
	case "chromem":
		if p.Memory.Path == "" {
			res.Warnings = append(res.Warnings, "memory.path is empty; chromem memories will not survive a restart")
		}
	default:
		fail("unknown memory.backend %q (use sqlite or chromem)", p.Memory.Backend)
	}

	switch p.Embedding.Provider {
	case "":
		if p.Provider == "anthropic" {
			fail("provider anthropic cannot embed; set embedding.provider to openai, ollama or gemini")
		}
	case "openai", "ollama", "gemini", "stub":
	default:
		fail("unknown embedding.provider %q (use openai, ollama or gemini)", p.Embedding.Provider)
	}

	if p.Agent.Temperature < 0 || p.Agent.Temperature > 2 {
		fail("agent.temperature must be between 0 and 2")
	}
	if p.Agent.MaxToolIterations < 1 {
		fail("agent.max_tool_iterations must be at least 1")
	} else if p.Agent.MaxToolIterations > 32 {
		res.Warnings = append(res.Warnings, "agent.max_tool_iterations is very high; a looping model can run up cost")
	}

	return res
}

// FetchTimeout parses fetch.timeout; empty means 10s.
func (p *Profile) FetchTimeout() (time.Duration, error) {
	if p.Fetch.Timeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(p.Fetch.Timeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 || d > time.Minute {
		return 0, fmt.Errorf("must be between 0s and 1m, got %s", d)
	}
	return d, nil
}

// Policy returns the guard policy for the agent and the fetch tool.
func (p *Profile) Policy() guard.Policy {
	return guard.Policy{
		MaxToolIterations: p.Agent.MaxToolIterations,
		MaxPromptTokens:   p.Agent.MaxPromptTokens,
		MaxOutputTokens:   p.Agent.MaxOutputTokens,
		AllowedHosts:      p.Fetch.AllowedHosts,
		DeniedHosts:       p.Fetch.DeniedHosts,
		BlockPrivateHosts: !p.Fetch.AllowPrivateHosts,
	}
}

// WindowConfig returns the controller window settings.
func (p *Profile) WindowConfig() runtime.WindowConfig {
	return runtime.WindowConfig{
		RecentMessages:    p.Window.RecentMessages,
		SummarizeAfter:    p.Window.SummarizeAfter,
		ExcludeSummarized: p.Window.ExcludeSummarized,
	}
}

// Options returns the session options the profile starts chats with.
func (p *Profile) Options() session.Options {
	return session.Options{
		WebSearch:   p.WebSearch.Enabled,
		Rerank:      p.WebSearch.Rerank,
		NumResults:  p.WebSearch.NumResults,
		RerankLimit: p.WebSearch.RerankLimit,
	}
}
