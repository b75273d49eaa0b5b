package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// SlackConfig configures the Slack transport.
type SlackConfig struct {
	BotToken string
	APIBase  string
	// ChannelMap translates internal channel ids to Slack conversation ids.
	// Unmapped ids are used as-is.
	ChannelMap map[string]string
}

// SlackChannel mirrors posts to Slack and shows drafts as ephemeral messages.
type SlackChannel struct {
	api        *slack.Client
	channelMap map[string]string
}

// NewSlackChannel creates a Slack transport.
func NewSlackChannel(cfg SlackConfig, client *http.Client) (*SlackChannel, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("missing slack bot token")
	}
	base := strings.TrimSpace(cfg.APIBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SlackChannel{
		api:        slack.New(token, slack.OptionHTTPClient(client), slack.OptionAPIURL(base)),
		channelMap: cfg.ChannelMap,
	}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) conversation(channelID string) string {
	if mapped, ok := c.channelMap[channelID]; ok && mapped != "" {
		return mapped
	}
	return channelID
}

// Post implements Poster.
func (c *SlackChannel) Post(ctx context.Context, p Post) (string, error) {
	var ts string
	err := withRetry(3, 200*time.Millisecond, func() (bool, error) {
		opts := []slack.MsgOption{slack.MsgOptionText(p.Text, false)}
		if thread := strings.TrimSpace(p.ThreadID); thread != "" {
			opts = append(opts, slack.MsgOptionTS(thread))
		}
		var err error
		_, ts, err = c.api.PostMessageContext(ctx, c.conversation(p.ChannelID), opts...)
		return retryDecision(ctx, err)
	})
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	return ts, nil
}

// Draft implements DraftSink.
func (c *SlackChannel) Draft(ctx context.Context, d Draft) error {
	err := withRetry(3, 200*time.Millisecond, func() (bool, error) {
		_, err := c.api.PostEphemeralContext(ctx, c.conversation(d.ChannelID), d.UserID, slack.MsgOptionText(d.Text, false))
		return retryDecision(ctx, err)
	})
	if err != nil {
		return fmt.Errorf("slack draft: %w", err)
	}
	return nil
}

func retryDecision(ctx context.Context, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		if rle.RetryAfter > 0 {
			select {
			case <-time.After(rle.RetryAfter):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
		return true, err
	}
	return false, err
}

func withRetry(attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		time.Sleep(baseDelay * time.Duration(1<<i))
	}
	return lastErr
}
