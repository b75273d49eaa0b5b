package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".sidekick"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SIDEKICK"
)

// ConfigPath returns the path to the config file. SIDEKICK_CONFIG wins over
// the default location under the home directory.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("SIDEKICK_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("SIDEKICK_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from .env files first; they never override.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err == nil {
		data, err := loadResolvedConfig(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Override with environment variables for each group.
	groups := []struct {
		prefix string
		spec   any
	}{
		{"PATHS", &cfg.Paths},
		{"MODEL", &cfg.Model},
		{"OPENAI", &cfg.Providers.OpenAI},
		{"COMPLETION", &cfg.Completion},
		{"GATEWAY", &cfg.Gateway},
		{"WORKER", &cfg.Worker},
		{"RATELIMIT", &cfg.RateLimit},
		{"HELP", &cfg.Help},
		{"POLICY", &cfg.Policy},
		{"SLACK", &cfg.Slack},
		{"KAFKA", &cfg.Kafka},
		{"SCHEDULER", &cfg.Scheduler},
		{"TELEMETRY", &cfg.Telemetry},
		{"LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.prefix, g.spec); err != nil {
			return nil, fmt.Errorf("config env %s_%s: %w", EnvPrefix, g.prefix, err)
		}
	}

	// Fallback for API Key
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	for _, p := range []*string{&cfg.Paths.Database, &cfg.Scheduler.LockPath} {
		if expanded, err := expandHome(*p); err == nil {
			*p = expanded
		}
	}
	normalize(cfg)
	return cfg, nil
}

// normalize replaces unusable values with defaults.
func normalize(cfg *Config) {
	def := DefaultConfig()
	switch strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend)) {
	case RateLimitBackendMemory:
		cfg.RateLimit.Backend = RateLimitBackendMemory
	default:
		cfg.RateLimit.Backend = RateLimitBackendSQLite
	}
	if cfg.Completion.Timeout <= 0 {
		cfg.Completion.Timeout = def.Completion.Timeout
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = def.Worker.Concurrency
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = def.Worker.PollInterval
	}
	if cfg.Worker.StaleAfter <= 0 {
		cfg.Worker.StaleAfter = def.Worker.StaleAfter
	}
	// A running task must outlive its own completion call before the sweep may fail it.
	if cfg.Worker.StaleAfter < cfg.Completion.Timeout {
		cfg.Worker.StaleAfter = cfg.Completion.Timeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "json":
		cfg.Log.Format = "json"
	default:
		cfg.Log.Format = "text"
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}

		existing, ok := dst[key]
		if !ok {
			copyMap := map[string]any{}
			deepMerge(copyMap, srcMap)
			dst[key] = copyMap
			continue
		}
		dstMap, dstIsMap := existing.(map[string]any)
		if !dstIsMap {
			copyMap := map[string]any{}
			deepMerge(copyMap, srcMap)
			dst[key] = copyMap
			continue
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
