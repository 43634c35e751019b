package agent

import (
	"strings"
	"time"

	"github.com/felixgeelhaar/parley/internal/session"
)

const basePrompt = "You are a helpful assistant with long-term memory. " +
	"Before answering anything about the user or earlier conversations, you MUST call search_memory to check what you already know. " +
	"Whenever the user shares something new about themselves (name, interests, preferences, topics they care about), save it with manage_memory. " +
	"When the user gives you URLs directly, call fetch_url_content to read the full pages and ground your answer in their text."

const webSearchPrompt = " You can also look up current information with search_web when needed. " +
	"Choose its timelimit (d, w, m or y) from the user's question so results are fresh relative to the current date and time, which is %s. " +
	"If a search result looks relevant but its snippet is not enough, call fetch_url_content on one or more of the result pages."

// SystemPrompt returns the tool-use policy for a session at time now.
func SystemPrompt(opts session.Options, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	if opts.WebSearch {
		sb.WriteString(strings.Replace(webSearchPrompt, "%s", now.Format("2006-01-02 15:04:05 MST"), 1))
	}
	return sb.String()
}
