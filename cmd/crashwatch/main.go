// Command crashwatch watches a Kubernetes cluster for crash and unhealthy
// events, investigates each one with a tool-using model agent, and posts
// the findings to Slack.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crashwatch/internal/agent"
	"crashwatch/internal/config"
	"crashwatch/internal/datasource"
	"crashwatch/internal/event"
	"crashwatch/internal/logging"
	"crashwatch/internal/model"
	"crashwatch/internal/notify"
	"crashwatch/internal/policy"
	"crashwatch/internal/poller"
	"crashwatch/internal/tools"
)

func main() {
	logging.Init(os.Args[1:])
	cfg := config.MustLoad()

	pol, err := loadPolicy(cfg.ExecPolicyFile)
	if err != nil {
		slog.Error("invalid exec policy", "file", cfg.ExecPolicyFile, "err", err)
		os.Exit(1)
	}

	source := datasource.NewClient(cfg.ClickhouseURL(), cfg.ClickhouseUser,
		cfg.ClickhousePassword, cfg.ClickhouseDatabase)

	registry := buildRegistry(cfg, source, pol)

	loop := &agent.Loop{
		LLM:       model.NewAnthropicClient(cfg.AnthropicModel, cfg.AnthropicAPIKey),
		Tools:     registry,
		MaxTurns:  cfg.MaxTurns,
		MaxTokens: cfg.MaxTokens,
	}
	aggregator := &agent.Aggregator{Source: source, LogLookback: cfg.LogLookback}
	notifier := &notify.SlackNotifier{
		WebhookURL:       cfg.SlackWebhookURL,
		DashboardBaseURL: cfg.DashboardBaseURL,
		Tenant:           cfg.DashboardTenant,
		Cluster:          cfg.ClusterName,
	}

	p := &poller.Poller{
		Source:            source,
		Dedup:             event.NewDedupState(cfg.DedupWindow),
		Interval:          cfg.PollInterval,
		RunDeadline:       cfg.RunDeadline,
		Reasons:           cfg.EventReasons,
		ExcludeNamespaces: cfg.ExcludeNamespaces,
		Run: func(ctx context.Context, ev event.FailureEvent) {
			bundle := aggregator.Collect(ctx, ev)
			verdict, err := loop.Run(ctx, bundle)
			if err != nil {
				slog.Error("analysis failed", "key", ev.DedupKey(), "err", err)
				return
			}
			if err := notifier.Send(ctx, ev, verdict, bundle.Trail); err != nil {
				slog.Error("notification failed", "key", ev.DedupKey(), "err", err)
			}
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("crashwatch starting", "model", cfg.AnthropicModel,
		"poll_interval", cfg.PollInterval, "dedup_window", cfg.DedupWindow)
	p.Start(ctx)
	slog.Info("crashwatch stopped")
}

// loadPolicy reads the exec allow-list, falling back to the built-in
// defaults when no file is configured.
func loadPolicy(file string) (*policy.Config, error) {
	if file == "" {
		return policy.DefaultConfig(), nil
	}
	return policy.LoadFile(file)
}

// buildRegistry wires every investigation tool. Pod inspection tools are
// skipped when no cluster credentials are available, so crashwatch still
// runs outside a cluster with the remaining tools.
func buildRegistry(cfg *config.Config, source *datasource.Client, pol *policy.Config) *tools.Registry {
	handlers := []tools.Handler{
		&tools.LogsTool{Source: source},
		&tools.TracesTool{Source: source},
		&tools.WebSearchTool{},
		&tools.DocsTool{APIKey: cfg.Context7APIKey},
	}

	if exec, err := tools.NewK8sExecutor(pol); err != nil {
		slog.Warn("pod inspection tools disabled", "err", err)
	} else {
		handlers = append(handlers,
			&tools.ReadFileTool{Exec: exec, Policy: pol},
			&tools.ListFilesTool{Exec: exec, Policy: pol},
			&tools.PodEnvTool{Exec: exec},
		)
	}

	return tools.NewRegistry(handlers...)
}
