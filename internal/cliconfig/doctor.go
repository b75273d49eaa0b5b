package cliconfig

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sidekick-chat/sidekick/internal/config"
	"github.com/sidekick-chat/sidekick/internal/ratelimit"
	"github.com/sidekick-chat/sidekick/internal/timeline"
)

type DoctorStatus string

const (
	DoctorPass DoctorStatus = "pass"
	DoctorWarn DoctorStatus = "warn"
	DoctorFail DoctorStatus = "fail"
)

type DoctorCheck struct {
	Name    string       `json:"name"`
	Status  DoctorStatus `json:"status"`
	Message string       `json:"message"`
}

type DoctorReport struct {
	Checks []DoctorCheck `json:"checks"`
}

type DoctorOptions struct {
	// GenerateGatewayToken writes a random gateway.authToken to the config file.
	GenerateGatewayToken bool

	// ProbeKafka dials each configured broker and looks up the trigger topic.
	ProbeKafka   bool
	ProbeTimeout time.Duration
}

func (r DoctorReport) HasFailures() bool {
	for _, c := range r.Checks {
		if c.Status == DoctorFail {
			return true
		}
	}
	return false
}

func (r *DoctorReport) add(name string, status DoctorStatus, format string, args ...any) {
	r.Checks = append(r.Checks, DoctorCheck{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
}

// RunDoctor inspects the effective configuration and the database.
func RunDoctor(opts DoctorOptions) (DoctorReport, error) {
	report := DoctorReport{Checks: make([]DoctorCheck, 0, 10)}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		report.add("config_path", DoctorFail, "cannot resolve config path: %v", err)
		return report, nil
	}
	switch _, err := os.Stat(cfgPath); {
	case err == nil:
		report.add("config_file", DoctorPass, "config file found at %s", cfgPath)
	case os.IsNotExist(err):
		report.add("config_file", DoctorWarn, "config file not found at %s (defaults will be used)", cfgPath)
	default:
		report.add("config_file", DoctorFail, "cannot access config file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		report.add("config_load", DoctorFail, "config load failed: %v", err)
		return report, nil
	}
	report.add("config_load", DoctorPass, "config loaded successfully")

	if opts.GenerateGatewayToken {
		token, err := randomToken()
		if err == nil {
			cfg.Gateway.AuthToken = token
			err = Set("gateway.authToken", fmt.Sprintf("%q", token))
		}
		if err != nil {
			report.add("gateway_token", DoctorFail, "failed to generate token: %v", err)
		} else {
			report.add("gateway_token", DoctorPass, "generated and saved gateway auth token")
		}
	}

	checkDatabase(&report, cfg)
	checkProvider(&report, cfg)
	checkGateway(&report, cfg)
	checkRateLimits(&report, cfg)
	checkIntegrations(&report, cfg)
	if opts.ProbeKafka && cfg.Kafka.Enabled {
		probeKafka(&report, cfg, opts.ProbeTimeout)
	}
	return report, nil
}

func checkDatabase(report *DoctorReport, cfg *config.Config) {
	if cfg.RateLimit.Backend == config.RateLimitBackendMemory {
		report.add("ratelimit_backend", DoctorWarn, "in-memory rate limits are per process and reset on restart")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Database), 0o700); err != nil {
		report.add("database", DoctorFail, "cannot create database directory: %v", err)
		return
	}
	tl, err := timeline.NewTimelineService(cfg.Paths.Database)
	if err != nil {
		report.add("database", DoctorFail, "cannot open %s: %v", cfg.Paths.Database, err)
		return
	}
	_ = tl.Close()
	report.add("database", DoctorPass, "database ready at %s", cfg.Paths.Database)
}

func checkProvider(report *DoctorReport, cfg *config.Config) {
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) == "" && strings.TrimSpace(cfg.Providers.OpenAI.APIBase) == "" {
		report.add("provider_key", DoctorFail, "providers.openai.apiKey is empty (or set OPENAI_API_KEY)")
		return
	}
	report.add("provider_key", DoctorPass, "completion provider configured (model %s)", cfg.Model.Name)
}

func checkGateway(report *DoctorReport, cfg *config.Config) {
	token := strings.TrimSpace(cfg.Gateway.AuthToken)
	switch {
	case isLoopbackHost(cfg.Gateway.Host):
		report.add("gateway_bind", DoctorPass, "gateway.host is loopback (%s)", cfg.Gateway.Host)
	case token == "":
		report.add("gateway_bind", DoctorFail, "gateway.host %s is reachable from the network but gateway.authToken is empty", cfg.Gateway.Host)
	default:
		report.add("gateway_bind", DoctorWarn, "gateway.host is non-loopback (%s), token required", cfg.Gateway.Host)
	}
}

func checkRateLimits(report *DoctorReport, cfg *config.Config) {
	defaults := ratelimit.DefaultPolicies()
	bad := 0
	for mode, p := range cfg.RateLimit.Policies {
		if _, ok := defaults[ratelimit.Mode(mode)]; !ok {
			report.add("ratelimit_policy", DoctorFail, "unknown rate limit mode %q", mode)
			bad++
			continue
		}
		if p.Limit <= 0 || p.WindowMinutes <= 0 {
			report.add("ratelimit_policy", DoctorFail, "%s needs a positive limit and windowMinutes", mode)
			bad++
		}
	}
	if bad == 0 {
		report.add("ratelimit_policy", DoctorPass, "%d policy override(s)", len(cfg.RateLimit.Policies))
	}
}

func checkIntegrations(report *DoctorReport, cfg *config.Config) {
	if cfg.Slack.Enabled {
		if strings.TrimSpace(cfg.Slack.BotToken) == "" {
			report.add("slack", DoctorFail, "slack.enabled is set but slack.botToken is empty")
		} else if strings.TrimSpace(cfg.Slack.SigningSecret) == "" {
			report.add("slack", DoctorWarn, "slack.signingSecret is empty, slash commands are disabled")
		} else {
			report.add("slack", DoctorPass, "slack posting and slash commands configured")
		}
	}
	if cfg.Kafka.Enabled {
		if strings.TrimSpace(cfg.Kafka.Brokers) == "" || strings.TrimSpace(cfg.Kafka.TriggerTopic) == "" {
			report.add("kafka", DoctorFail, "kafka.enabled needs kafka.brokers and kafka.triggerTopic")
		} else {
			report.add("kafka", DoctorPass, "kafka triggers from %s on %s", cfg.Kafka.TriggerTopic, cfg.Kafka.Brokers)
		}
	}
}

func probeKafka(report *DoctorReport, cfg *config.Config, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := &kafka.Dialer{Timeout: timeout}
	for _, addr := range strings.Split(cfg.Kafka.Brokers, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		name := "kafka_broker " + addr
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		cancel()
		if err != nil {
			report.add(name, DoctorFail, "broker dial failed: %v", err)
			continue
		}
		if _, err := conn.ApiVersions(); err != nil {
			report.add(name, DoctorFail, "ApiVersions failed: %v", err)
			_ = conn.Close()
			continue
		}
		parts, err := conn.ReadPartitions(cfg.Kafka.TriggerTopic)
		_ = conn.Close()
		switch {
		case err != nil:
			report.add(name, DoctorWarn, "cannot read partitions of %s: %v", cfg.Kafka.TriggerTopic, err)
		case len(parts) == 0:
			report.add(name, DoctorWarn, "topic %s has no partitions", cfg.Kafka.TriggerTopic)
		default:
			report.add(name, DoctorPass, "reachable, %s has %d partition(s)", cfg.Kafka.TriggerTopic, len(parts))
		}
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "" {
		return false
	}
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
