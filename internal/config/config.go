// Package config provides configuration types and loading for sidekick.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Paths      PathsConfig      `json:"paths"`
	Model      ModelConfig      `json:"model"`
	Providers  ProvidersConfig  `json:"providers"`
	Completion CompletionConfig `json:"completion"`
	Gateway    GatewayConfig    `json:"gateway"`
	Worker     WorkerConfig     `json:"worker"`
	RateLimit  RateLimitConfig  `json:"ratelimit"`
	Help       HelpConfig       `json:"help"`
	Policy     PolicyConfig     `json:"policy"`
	Slack      SlackConfig      `json:"slack"`
	Kafka      KafkaConfig      `json:"kafka"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Log        LogConfig        `json:"log"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Database string `json:"database" envconfig:"DATABASE"`
}

// ---------------------------------------------------------------------------
// Model and providers
// ---------------------------------------------------------------------------

// ModelConfig selects the completion model.
type ModelConfig struct {
	Name string `json:"name" envconfig:"NAME"`
}

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `json:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase" envconfig:"API_BASE"`
}

// CompletionConfig bounds calls to the provider.
type CompletionConfig struct {
	Timeout time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP intake
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP intake server.
type GatewayConfig struct {
	Host      string `json:"host" envconfig:"HOST"`
	Port      int    `json:"port" envconfig:"PORT"`
	AuthToken string `json:"authToken" envconfig:"AUTH_TOKEN"`
}

// ---------------------------------------------------------------------------
// Processing
// ---------------------------------------------------------------------------

// WorkerConfig configures the task worker pool.
type WorkerConfig struct {
	Concurrency  int           `json:"concurrency" envconfig:"CONCURRENCY"`
	PollInterval time.Duration `json:"pollInterval" envconfig:"POLL_INTERVAL"`
	StaleAfter   time.Duration `json:"staleAfter" envconfig:"STALE_AFTER"`
}

// Rate limit backends.
const (
	RateLimitBackendSQLite = "sqlite"
	RateLimitBackendMemory = "memory"
)

// RateLimitConfig selects the counter store and optional policy overrides
// keyed by mode name (on_demand_dm, on_demand_channel, auto_dm, auto_mention).
type RateLimitConfig struct {
	Backend  string                      `json:"backend" envconfig:"BACKEND"`
	Policies map[string]RatePolicyConfig `json:"policies,omitempty" ignored:"true"`
}

// RatePolicyConfig overrides one mode's window.
type RatePolicyConfig struct {
	Limit         int `json:"limit"`
	WindowMinutes int `json:"windowMinutes"`
}

// HelpConfig controls the help fast path.
type HelpConfig struct {
	Persist bool `json:"persist" envconfig:"PERSIST"`
}

// PolicyConfig configures who may invoke the agent.
type PolicyConfig struct {
	AllowDM          bool     `json:"allowDm" envconfig:"ALLOW_DM"`
	AllowedActors    []string `json:"allowedActors,omitempty" envconfig:"ALLOWED_ACTORS"`
	DisabledCommands []string `json:"disabledCommands,omitempty" envconfig:"DISABLED_COMMANDS"`
}

// ---------------------------------------------------------------------------
// Integrations
// ---------------------------------------------------------------------------

// SlackConfig configures Slack posting and slash-command intake.
type SlackConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken      string `json:"botToken" envconfig:"BOT_TOKEN"`
	SigningSecret string `json:"signingSecret" envconfig:"SIGNING_SECRET"`
	APIBase       string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	// ChannelMap maps local channel ids to Slack conversation ids.
	ChannelMap map[string]string `json:"channelMap,omitempty" ignored:"true"`
	// Drafts sends low-confidence drafts as ephemeral messages.
	Drafts bool `json:"drafts" envconfig:"DRAFTS"`
}

// KafkaConfig configures trigger intake and the audit mirror over Kafka.
type KafkaConfig struct {
	Enabled      bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers      string `json:"brokers" envconfig:"BROKERS"`
	TriggerTopic string `json:"triggerTopic" envconfig:"TRIGGER_TOPIC"`
	AuditTopic   string `json:"auditTopic" envconfig:"AUDIT_TOPIC"`
	GroupID      string `json:"groupId" envconfig:"GROUP_ID"`
}

// ---------------------------------------------------------------------------
// Housekeeping and observability
// ---------------------------------------------------------------------------

// SchedulerConfig configures periodic housekeeping.
type SchedulerConfig struct {
	Enabled            bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval       time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	LockPath           string        `json:"lockPath" envconfig:"LOCK_PATH"`
	PruneEvery         time.Duration `json:"pruneEvery" envconfig:"PRUNE_EVERY"`
	StuckDeliveryAfter time.Duration `json:"stuckDeliveryAfter" envconfig:"STUCK_DELIVERY_AFTER"`
}

// TelemetryConfig enables the stdout metrics exporter.
type TelemetryConfig struct {
	Enabled  bool          `json:"enabled" envconfig:"ENABLED"`
	Interval time.Duration `json:"interval" envconfig:"INTERVAL"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Database: "~/.sidekick/sidekick.db",
		},
		Model: ModelConfig{
			Name: "gpt-4o-mini",
		},
		Completion: CompletionConfig{
			Timeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18790,
		},
		Worker: WorkerConfig{
			Concurrency:  4,
			PollInterval: 5 * time.Second,
			StaleAfter:   5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Backend: RateLimitBackendSQLite,
		},
		Policy: PolicyConfig{
			AllowDM: true,
		},
		Kafka: KafkaConfig{
			Brokers:      "localhost:9092",
			TriggerTopic: "sidekick.triggers",
			AuditTopic:   "sidekick.audit",
			GroupID:      "sidekick",
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			TickInterval:       30 * time.Second,
			LockPath:           "~/.sidekick/housekeeping.lock",
			PruneEvery:         10 * time.Minute,
			StuckDeliveryAfter: 2 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Interval: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
