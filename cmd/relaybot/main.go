package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coopco/relaybot/internal/agent"
	"github.com/coopco/relaybot/internal/bus"
	"github.com/coopco/relaybot/internal/channels"
	"github.com/coopco/relaybot/internal/config"
	"github.com/coopco/relaybot/internal/cron"
	"github.com/coopco/relaybot/internal/heartbeat"
	"github.com/coopco/relaybot/internal/providers"
	"github.com/coopco/relaybot/internal/store"
	"github.com/coopco/relaybot/internal/tools"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to config json (default ~/.relaybot/config.json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromFile(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	provider, model, err := pickProvider(cfg)
	if err != nil {
		return err
	}

	msgBus := bus.NewMessageBus(64)
	manager := channels.NewManager()
	for name, raw := range channelConfigs(cfg) {
		if len(raw) == 0 {
			continue
		}
		if err := manager.AddChannel(name, raw); err != nil {
			return err
		}
		slog.Info("channel configured", "channel", name)
	}

	// Outbound messages route to the owning channel; every send is also
	// remembered as the "last" route for announce deliveries.
	msgBus.Subscribe("", func(msg bus.OutboundMessage) {
		if msg.Type == "progress" || msg.Type == "tool_hint" {
			return
		}
		if err := manager.Send(msg.Channel, msg.ChatID, msg.Content, cron.SendOptions{Thread: msg.ThreadID}); err != nil {
			slog.Error("failed to send message", "channel", msg.Channel, "error", err)
			return
		}
		manager.RecordRoute(cron.Route{Channel: msg.Channel, To: msg.ChatID, Thread: msg.ThreadID})
	})
	go msgBus.DispatchOutbound(ctx)

	// System events raised by the scheduler and heartbeat surface in the log;
	// a host gateway embedding these packages would feed them to its own
	// session loop instead.
	go func() {
		for {
			msg, err := msgBus.ConsumeInbound(ctx)
			if err != nil {
				return
			}
			slog.Info("system event", "channel", msg.Channel, "content", msg.Content, "metadata", msg.Metadata)
		}
	}()

	registry := tools.NewRegistry()
	registry.Register(tools.NewSendMessageTool(msgBus))

	runner := agent.NewRunner(agent.RunnerConfig{
		Provider: provider,
		Tools:    registry,
		Model:    model,
	})

	hbModel := cfg.Heartbeat.Model
	if hbModel == "" {
		hbModel = model
	}
	hb := heartbeat.NewService(heartbeat.Config{
		Provider:  provider,
		Model:     hbModel,
		Workspace: cfg.Workspace,
		Interval:  time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second,
		OnExecute: func(ctx context.Context, message string) {
			msgBus.PublishInbound(bus.InboundMessage{Channel: "system", Content: message})
		},
	})

	mgr := store.NewManager(store.Options{})
	sched := cron.NewService(cron.Config{
		StorePath:         cfg.Cron.StorePath,
		RunLogDir:         cfg.Cron.RunLogDir,
		TickInterval:      time.Duration(cfg.Cron.TickIntervalSeconds) * time.Second,
		MaxConcurrentRuns: cfg.Cron.MaxConcurrentRuns,
		WebhookURL:        cfg.Cron.Webhook.URL,
		WebhookToken:      cfg.Cron.Webhook.Token,
		Sender:            manager,
		Routes:            manager,
	}, mgr, msgBus, hb, runner)

	registry.Register(tools.NewManageCronTool(sched))

	hb.Start(ctx)
	defer hb.Stop()
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	slog.Info("relaybot started", "store", cfg.Cron.StorePath, "channels", manager.Names())
	<-ctx.Done()
	return nil
}

// pickProvider selects the first configured provider, preferring Anthropic.
func pickProvider(cfg *config.Config) (providers.Provider, string, error) {
	type candidate struct {
		name string
		pc   config.ProviderConfig
	}
	for _, c := range []candidate{
		{"anthropic", cfg.Providers.Anthropic},
		{"openai", cfg.Providers.OpenAI},
		{"custom", cfg.Providers.Custom},
	} {
		if c.pc.APIKey == "" {
			continue
		}
		p, err := providers.New(c.name, c.pc.APIKey, c.pc.BaseURL, c.pc.DefaultModel)
		if err != nil {
			return nil, "", err
		}
		return p, c.pc.DefaultModel, nil
	}
	return nil, "", fmt.Errorf("no provider configured: set an api key under providers")
}

// channelConfigs returns the raw per-channel config blocks for channels that
// have credentials set.
func channelConfigs(cfg *config.Config) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	if cfg.Channels.Telegram.Token != "" {
		raw, _ := json.Marshal(cfg.Channels.Telegram)
		out["telegram"] = raw
	}
	if cfg.Channels.Discord.Token != "" {
		raw, _ := json.Marshal(cfg.Channels.Discord)
		out["discord"] = raw
	}
	if cfg.Channels.Slack.BotToken != "" {
		raw, _ := json.Marshal(cfg.Channels.Slack)
		out["slack"] = raw
	}
	return out
}
