// Package policy decides whether an actor may invoke the agent in a channel.
package policy

import (
	"fmt"
	"time"
)

// Context holds information about a pending agent invocation.
type Context struct {
	ActorID      string
	ChannelID    string
	Command      string
	IsMember     bool
	IsDM         bool
	AgentEnabled bool
	// Autonomous is true for agent mode replies, false for on-demand commands.
	Autonomous bool
}

// Decision is the result of a policy evaluation.
type Decision struct {
	Allow  bool
	Reason string
	Ts     time.Time
}

// Engine evaluates whether an invocation should proceed.
type Engine interface {
	Evaluate(ctx Context) Decision
}

// DefaultEngine requires channel membership and respects the per-channel
// agent switch.
type DefaultEngine struct {
	// AllowDM permits on-demand commands in direct messages.
	AllowDM bool
	// AllowedActors restricts who may invoke the agent at all.
	// If empty, every member is allowed.
	AllowedActors map[string]bool
	// DisabledCommands lists commands that are switched off globally.
	DisabledCommands map[string]bool
}

// NewDefaultEngine creates a policy engine with sensible defaults.
func NewDefaultEngine() *DefaultEngine {
	return &DefaultEngine{AllowDM: true}
}

// Evaluate checks membership, allowlists and channel settings in that order.
func (e *DefaultEngine) Evaluate(ctx Context) Decision {
	d := Decision{Ts: time.Now()}

	if !ctx.IsMember {
		d.Reason = "not_a_member"
		return d
	}

	if len(e.AllowedActors) > 0 && !e.AllowedActors[ctx.ActorID] {
		d.Reason = fmt.Sprintf("actor_not_authorized: %s", ctx.ActorID)
		return d
	}

	if ctx.Command != "" && e.DisabledCommands[ctx.Command] {
		d.Reason = fmt.Sprintf("command_disabled: %s", ctx.Command)
		return d
	}

	if ctx.IsDM && !ctx.Autonomous && !e.AllowDM {
		d.Reason = "dm_commands_disabled"
		return d
	}

	// Group channels can switch the agent off; DMs are governed by the
	// participants' own agent mode settings.
	if !ctx.IsDM && !ctx.AgentEnabled {
		d.Reason = "agent_disabled_for_channel"
		return d
	}

	d.Allow = true
	d.Reason = "allowed"
	return d
}
