// Package config loads crashwatch configuration from environment variables.
// Invalid configuration is the only thing allowed to terminate the process;
// everything downstream degrades instead of crashing.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full runtime configuration.
type Config struct {
	// ClickHouse (diagnostic data source)
	ClickhouseHost     string
	ClickhousePort     int
	ClickhouseUser     string
	ClickhousePassword string
	ClickhouseDatabase string

	// Polling
	PollInterval time.Duration
	DedupWindow  time.Duration
	LogLookback  time.Duration

	// Filtering
	ExcludeNamespaces []string
	EventReasons      []string

	// Model
	AnthropicAPIKey string
	AnthropicModel  string
	MaxTokens       int
	MaxTurns        int
	RunDeadline     time.Duration

	// Context7 documentation lookup (empty disables the docs tool)
	Context7APIKey string

	// Exec tool policy
	ExecPolicyFile string

	// Slack
	SlackWebhookURL string

	// Dashboard deep links
	DashboardBaseURL string
	DashboardTenant  string

	// Cluster info
	ClusterName string
}

// Load reads configuration from the environment, applying defaults.
// It returns an error for missing required values or unparseable numbers.
func Load() (*Config, error) {
	cfg := &Config{
		ClickhouseHost:     envOr("CLICKHOUSE_HOST", "clickhouse"),
		ClickhouseUser:     envOr("CLICKHOUSE_USER", "default"),
		ClickhousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),
		ClickhouseDatabase: envOr("CLICKHOUSE_DATABASE", "observability"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),

		Context7APIKey: os.Getenv("CONTEXT7_API_KEY"),

		ExecPolicyFile: os.Getenv("EXEC_POLICY_FILE"),

		SlackWebhookURL:  os.Getenv("SLACK_WEBHOOK_URL"),
		DashboardBaseURL: envOr("DASHBOARD_BASE_URL", ""),
		DashboardTenant:  os.Getenv("DASHBOARD_TENANT"),
		ClusterName:      os.Getenv("CLUSTER_NAME"),

		ExcludeNamespaces: splitList(envOr("EXCLUDE_NAMESPACES", "kube-system")),
		EventReasons: splitList(envOr("EVENT_REASONS",
			"CrashLoopBackOff,OOMKilled,BackOff,Failed,Error,Unhealthy")),
	}

	var err error
	if cfg.ClickhousePort, err = envInt("CLICKHOUSE_PORT", 8123); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envSeconds("POLL_INTERVAL_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.DedupWindow, err = envSeconds("DEDUP_WINDOW_SECONDS", 300); err != nil {
		return nil, err
	}
	if cfg.RunDeadline, err = envSeconds("RUN_DEADLINE_SECONDS", 600); err != nil {
		return nil, err
	}
	lookbackMin, err := envInt("LOG_LOOKBACK_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	cfg.LogLookback = time.Duration(lookbackMin) * time.Minute
	if cfg.MaxTokens, err = envInt("ANTHROPIC_MAX_TOKENS", 4096); err != nil {
		return nil, err
	}
	if cfg.MaxTurns, err = envInt("MAX_AGENT_TURNS", 8); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load for main: it logs and exits on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("DEDUP_WINDOW_SECONDS must be positive")
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("MAX_AGENT_TURNS must be positive")
	}
	if len(c.EventReasons) == 0 {
		return fmt.Errorf("EVENT_REASONS must name at least one reason code")
	}
	return nil
}

// ClickhouseURL returns the base HTTP URL of the ClickHouse server.
func (c *Config) ClickhouseURL() string {
	return fmt.Sprintf("http://%s:%d", c.ClickhouseHost, c.ClickhousePort)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	return n, nil
}

func envSeconds(key string, def int) (time.Duration, error) {
	n, err := envInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
