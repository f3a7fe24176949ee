package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hookbridge/internal/browser"
	"hookbridge/internal/channel"
	"hookbridge/internal/config"
	"hookbridge/internal/dispatch"
	"hookbridge/internal/domain"
	"hookbridge/internal/journal"
	"hookbridge/internal/markup"
	"hookbridge/internal/metrics"
	"hookbridge/internal/relay"
	"hookbridge/internal/template"
	"hookbridge/internal/textimg"

	"github.com/spf13/cobra"
)

// session is a bot that needs connecting before it can send.
type session interface {
	domain.Bot
	domain.Connector
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect bots and serve webhooks",
		Long:  "Connects every enabled bot, mounts one route per listener and relays webhooks until Ctrl+C.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var closeLog func()
	logger, closeLog, err = setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := dispatch.NewRegistry()
	sessions := connectBots(ctx, cfg.Bots, registry)
	defer func() {
		for _, s := range sessions {
			registry.Remove(s.Name())
			if err := s.Close(); err != nil {
				logger.Warn("bot close failed", "bot", s.Name(), "err", err)
			}
		}
	}()

	var recorder relay.Recorder
	var store *journal.Store
	if cfg.Journal.Enabled {
		retention := time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour
		store, err = journal.Open(ctx, cfg.Journal.Path, retention, logger)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer store.Close()
		recorder = store
	}

	bridge, images := newTextImages(cfg.Renderer)
	if bridge != nil && !bridge.Available() {
		logger.Warn("no headless browser found, text_to_image blocks will be sent as text")
	}

	rl := relay.New(relay.Config{
		Templates:   template.NewRenderer(logger),
		Parser:      markup.NewParser(images, logger),
		Dispatcher:  dispatch.New(registry, logger),
		Journal:     recorder,
		PrintData:   cfg.Logging.PrintData,
		PrintResult: cfg.Logging.PrintResult,
		Logger:      logger,
	})

	routes := make([]channel.Route, 0, len(cfg.Listeners))
	for _, l := range cfg.Listeners {
		path := l.Path(cfg.Server.DefaultPrefix)
		routes = append(routes, channel.Route{
			Method:  l.Method,
			Path:    path,
			Headers: l.Headers,
			Secret:  l.Secret,
			Handle: rl.Handler(relay.Listener{
				Path:     path,
				Method:   l.Method,
				Template: l.Msg,
				Channels: l.PushChannelIDs,
				Privates: l.PushPrivateIDs,
			}),
		})
		logger.Info("listener registered", "method", l.Method, "path", path,
			"channels", len(l.PushChannelIDs), "privates", len(l.PushPrivateIDs))
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	server := channel.NewWebhookServer(channel.WebhookConfig{
		Addr:        cfg.Server.Addr(),
		Routes:      routes,
		MetricsPath: metricsPath,
		Metrics:     metrics.Collector.Handler(),
		Health: func() map[string]any {
			status := map[string]any{
				"version":   version,
				"bots":      registry.Len(),
				"listeners": len(routes),
				"uptime":    metrics.Collector.Uptime().Round(time.Second).String(),
				"renderer":  bridge != nil && bridge.Available(),
			}
			if store != nil {
				pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				status["journal"] = store.Ping(pingCtx) == nil
			}
			return status
		},
		Logger: logger,
	})

	logger.Info("hookbridge started. Press Ctrl+C to stop.", "bots", registry.Len(), "listeners", len(routes))
	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newBot builds the session for one configured bot.
func newBot(b config.BotConfig) (session, error) {
	switch b.Platform {
	case "telegram":
		return channel.NewTelegram(channel.TelegramConfig{
			Name:        b.Name,
			Token:       b.Token,
			APIEndpoint: b.APIEndpoint,
			Logger:      logger,
		}), nil
	case "discord":
		return channel.NewDiscord(channel.DiscordConfig{
			Name:   b.Name,
			Token:  b.Token,
			Logger: logger,
		}), nil
	case "slack":
		return channel.NewSlack(channel.SlackConfig{
			Name:     b.Name,
			BotToken: b.Token,
			APIURL:   b.APIEndpoint,
			Logger:   logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", b.Platform)
	}
}

// connectBots connects every enabled bot and adds it to registry. A bot that
// fails to connect is logged and skipped.
func connectBots(ctx context.Context, bots []config.BotConfig, registry *dispatch.Registry) []session {
	var connected []session
	for _, b := range bots {
		if !b.IsEnabled() {
			logger.Info("bot disabled", "bot", b.Name)
			continue
		}
		s, err := newBot(b)
		if err != nil {
			logger.Error("bot skipped", "bot", b.Name, "err", err)
			continue
		}
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = s.Connect(connectCtx)
		cancel()
		if err != nil {
			logger.Error("bot connect failed", "bot", b.Name, "platform", b.Platform, "err", err)
			continue
		}
		registry.Add(s)
		connected = append(connected, s)
	}
	if len(connected) == 0 {
		logger.Warn("no bots connected, rendered messages will be dropped")
	}
	return connected
}

// newTextImages wires the headless browser into a text-to-image renderer.
// Both results are nil when rendering is disabled.
func newTextImages(cfg config.RendererConfig) (*browser.Bridge, markup.ImageRenderer) {
	if !cfg.Enabled {
		return nil, nil
	}
	bridge := browser.NewBridge(browser.BridgeConfig{
		ExecPath:       cfg.ExecPath,
		RemoteURL:      cfg.RemoteURL,
		Timeout:        seconds(cfg.TimeoutSeconds),
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		DeviceScale:    cfg.DeviceScale,
		Logger:         logger,
	})
	return bridge, textimg.New(textimg.Config{
		Browser:         bridge,
		EmojiBaseURL:    cfg.EmojiBaseURL,
		SelectorTimeout: seconds(cfg.SelectorTimeoutSeconds),
		AssetTimeout:    seconds(cfg.AssetTimeoutSeconds),
		Margin:          float64(cfg.Margin),
		Logger:          logger,
	})
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
