package agentmode

import (
	"fmt"
	"strings"
)

// Level is a named confidence threshold.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Threshold maps a level to its numeric bound. Unknown levels use medium.
func Threshold(level Level) float64 {
	switch level {
	case LevelLow:
		return 0.3
	case LevelHigh:
		return 0.8
	default:
		return 0.6
	}
}

// ParseLevel defaults unknown values to LevelMedium.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelLow:
		return LevelLow
	case LevelHigh:
		return LevelHigh
	default:
		return LevelMedium
	}
}

// Outcome is where an autonomous reply goes.
type Outcome string

const (
	OutcomePublic Outcome = "public"
	OutcomeDraft  Outcome = "draft"
)

// Gate routes a reply by confidence. Scores at or above the threshold are
// public; anything else is a private draft.
func Gate(confidence float64, level Level) Outcome {
	if confidence >= Threshold(level) {
		return OutcomePublic
	}
	return OutcomeDraft
}

// FormatPublicReply renders the visible reply posted on a user's behalf.
func FormatPublicReply(markdown, responder string, isDM bool, refs []string) string {
	where := "Channel"
	if isDM {
		where = "DM"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s @%s) · Used: this %s · Why this?\n\n%s", AutomatedMarker, responder, where, markdown)
	if len(refs) > 0 {
		b.WriteString("\nRefs: ")
		b.WriteString(strings.Join(refs, ", "))
	}
	return b.String()
}

// FormatDraft renders the private draft shown only to the user.
func FormatDraft(markdown string, confidence float64) string {
	return fmt.Sprintf("Draft reply (confidence %.2f, not posted):\n\n%s", confidence, markdown)
}
