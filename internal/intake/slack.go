package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"github.com/sidekick-chat/sidekick/internal/agent"
	"github.com/sidekick-chat/sidekick/internal/task"
)

// umbrellaCommand is the single slash command some workspaces register,
// with the action as its first word: "/sidekick summary last=20".
const umbrellaCommand = "/sidekick"

// ParseCommandText splits a slash command and its text into the command name
// and arguments. Unknown tokens are ignored and a malformed last is left at
// zero so the default applies.
func ParseCommandText(command, text string) (string, task.Args) {
	fields := strings.Fields(text)
	name := strings.TrimPrefix(strings.TrimSpace(command), "/")
	if strings.EqualFold(strings.TrimSpace(command), umbrellaCommand) {
		name = "help"
		if len(fields) > 0 {
			name, fields = fields[0], fields[1:]
		}
	}

	var args task.Args
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok || !strings.EqualFold(key, "last") {
			continue
		}
		if n, err := strconv.Atoi(value); err == nil {
			args.Last = n
		}
	}
	return name, args.Normalized()
}

func (s *Server) handleSlackCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	verifier, err := slack.NewSecretsVerifier(r.Header, s.opts.SlackSigningSecret)
	if err != nil {
		http.Error(w, "invalid slack signature", http.StatusUnauthorized)
		return
	}
	if _, err := verifier.Write(body); err != nil {
		http.Error(w, "invalid slack signature", http.StatusUnauthorized)
		return
	}
	if err := verifier.Ensure(); err != nil {
		slog.Warn("Intake: slack signature rejected", "error", err)
		http.Error(w, "invalid slack signature", http.StatusUnauthorized)
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	sc, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "invalid slash command", http.StatusBadRequest)
		return
	}

	name, args := ParseCommandText(sc.Command, sc.Text)
	channelID := sc.ChannelID
	if local, ok := s.opts.SlackChannels[sc.ChannelID]; ok {
		channelID = local
	}
	resp, err := s.opts.Engine.RunCommand(r.Context(), agent.CommandRequest{
		ChannelID: channelID,
		ActorID:   sc.UserID,
		Command:   name,
		Args:      args,
	})
	writeJSON(w, http.StatusOK, slack.Msg{
		ResponseType: slack.ResponseTypeEphemeral,
		Text:         slashReply(resp, err),
	})
}

// slashReply renders a command outcome as the ephemeral text shown to the
// invoking user. Slack shows a generic failure for non-200 responses, so every
// outcome is rendered here.
func slashReply(resp *agent.CommandResponse, err error) string {
	switch {
	case errors.Is(err, agent.ErrRateLimited):
		return task.MsgCooldown
	case errors.Is(err, agent.ErrDenied):
		if resp != nil && resp.Reason != "" {
			return "Not allowed here: " + resp.Reason
		}
		return "Not allowed here."
	case errors.Is(err, task.ErrUnknownCommand):
		return "Unknown command. Try `/help`."
	case err != nil:
		slog.Error("Intake: slash command failed", "error", err)
		return task.MsgProcessingFailed
	}
	if resp.Result != nil {
		return resp.Result.Markdown
	}
	return fmt.Sprintf("Working on it. Task `%s` is %s.", resp.TaskID, resp.State)
}
