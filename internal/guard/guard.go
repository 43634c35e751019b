package guard

import (
	"net"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines the limits and scopes for one assistant turn.
type Policy struct {
	MaxToolIterations int `json:"max_tool_iterations" yaml:"max_tool_iterations"`
	MaxPromptTokens   int `json:"max_prompt_tokens" yaml:"max_prompt_tokens"`
	MaxOutputTokens   int `json:"max_output_tokens" yaml:"max_output_tokens"`

	// Host globs for fetch_url_content, e.g. "*.wikipedia.org".
	AllowedHosts []string `json:"allowed_hosts" yaml:"allowed_hosts"`
	DeniedHosts  []string `json:"denied_hosts" yaml:"denied_hosts"`

	// BlockPrivateHosts rejects localhost and literal private addresses.
	BlockPrivateHosts bool `json:"block_private_hosts" yaml:"block_private_hosts"`
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	MaxToolIterations: 8,
	AllowedHosts:      []string{"*"},
	BlockPrivateHosts: true,
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
	Fatal   bool
}

func (v *Violation) Error() string {
	return v.Rule + ": " + v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckBudget verifies if the usage is within limits. Zero limits are
// unlimited.
func (g *Guard) CheckBudget(iterations, promptTokens, outputTokens int) *Violation {
	if g.policy.MaxToolIterations > 0 && iterations > g.policy.MaxToolIterations {
		return &Violation{Rule: "max_tool_iterations", Message: "Tool iteration limit exceeded", Fatal: true}
	}
	if g.policy.MaxPromptTokens > 0 && promptTokens > g.policy.MaxPromptTokens {
		return &Violation{Rule: "max_prompt_tokens", Message: "Prompt token budget exceeded", Fatal: true}
	}
	if g.policy.MaxOutputTokens > 0 && outputTokens > g.policy.MaxOutputTokens {
		return &Violation{Rule: "max_output_tokens", Message: "Output token budget exceeded", Fatal: true}
	}
	return nil
}

// CheckURL verifies that raw is an http(s) URL whose host is allowed.
// Deny globs win over allow globs.
func (g *Guard) CheckURL(raw string) *Violation {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &Violation{Rule: "url", Message: "Invalid URL: " + raw}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &Violation{Rule: "url_scheme", Message: "Only http and https URLs can be fetched: " + raw}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return &Violation{Rule: "url", Message: "URL has no host: " + raw}
	}

	if g.policy.BlockPrivateHosts && isPrivateHost(host) {
		return &Violation{Rule: "block_private_hosts", Message: "Private host not allowed: " + host}
	}

	for _, pattern := range g.policy.DeniedHosts {
		if match, err := doublestar.Match(pattern, host); err == nil && match {
			return &Violation{Rule: "denied_hosts", Message: "Host denied: " + host}
		}
	}

	for _, pattern := range g.policy.AllowedHosts {
		if match, err := doublestar.Match(pattern, host); err == nil && match {
			return nil
		}
	}
	return &Violation{Rule: "allowed_hosts", Message: "Host not allowed: " + host}
}

func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
