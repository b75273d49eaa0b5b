// Package agentmode decides when the agent may answer on a user's behalf.
package agentmode

import (
	"regexp"
	"strings"
	"time"

	"github.com/sidekick-chat/sidekick/internal/audit"
)

// Scope limits where agent mode applies.
type Scope string

const (
	ScopeBoth     Scope = "both"
	ScopeDM       Scope = "dm"
	ScopeChannels Scope = "channels"
)

// ParseScope defaults unknown values to ScopeBoth.
func ParseScope(s string) Scope {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeDM:
		return ScopeDM
	case ScopeChannels:
		return ScopeChannels
	default:
		return ScopeBoth
	}
}

// Setting is a user's agent mode configuration.
type Setting struct {
	UserID        string     `json:"user_id"`
	Enabled       bool       `json:"enabled"`
	Scope         Scope      `json:"scope"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Confidence    Level      `json:"confidence"`
	BlockedTopics []string   `json:"blocked_topics,omitempty"`
}

// Covers reports whether the scope allows a trigger type.
func (s Setting) Covers(trigger audit.TriggerType) bool {
	switch trigger {
	case audit.TriggerDM:
		return s.Scope == ScopeBoth || s.Scope == ScopeDM
	case audit.TriggerMention:
		return s.Scope == ScopeBoth || s.Scope == ScopeChannels
	default:
		return false
	}
}

// EligibleAt reports whether the setting lets the agent act for trigger at now.
// Agent mode always auto-expires, so a setting without an expiry is inactive.
func (s Setting) EligibleAt(trigger audit.TriggerType, now time.Time) bool {
	if !s.Enabled || s.ExpiresAt == nil {
		return false
	}
	if !s.ExpiresAt.After(now) {
		return false
	}
	return s.Covers(trigger)
}

// Blocks reports whether text touches one of the user's blocked topics.
// Matching is a case-insensitive substring test.
func (s Setting) Blocks(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, topic := range s.BlockedTopics {
		t := strings.ToLower(strings.TrimSpace(topic))
		if t != "" && strings.Contains(lower, t) {
			return topic, true
		}
	}
	return "", false
}

// Trigger filtering.
const (
	MaxTriggerAge   = 15 * time.Minute
	CommandPrefix   = "/"
	AutomatedMarker = "Sidekick (auto for"
)

// Reasons a message is not a trigger.
const (
	SkipStale     = "stale"
	SkipCommand   = "command"
	SkipAutomated = "automated"
	SkipEmpty     = "empty"
)

// SkipReason returns why a message must not trigger agent mode, or "" when
// it may.
func SkipReason(text string, sentAt, now time.Time) string {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "":
		return SkipEmpty
	case now.Sub(sentAt) > MaxTriggerAge:
		return SkipStale
	case strings.HasPrefix(trimmed, CommandPrefix):
		return SkipCommand
	case strings.Contains(text, AutomatedMarker):
		return SkipAutomated
	}
	return ""
}

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Mentions extracts distinct @handles in order of first appearance.
func Mentions(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, name)
	}
	return out
}
