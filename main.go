package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"roombot/bot"
	"roombot/config"
	"roombot/modules"
	"roombot/modules/booru"
	"roombot/modules/core"
	"roombot/modules/reminder"
	"roombot/queue"
	"roombot/scheduler"
	"roombot/store"
	"roombot/transport"
)

var (
	flagConfig string
	flagRoom   string
	flagDebug  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "roombot",
		Short:         "Chat-room automation bot with pluggable command modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "config/roombot.yaml", "path to config file")
	rootCmd.Flags().StringVarP(&flagRoom, "room", "r", "", "room to join (overrides config)")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := newLogger(flagDebug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		logger.Error("Couldn't read config file, aborting", zap.Error(err))
		return err
	}
	logger.Debug("Loaded config", zap.String("path", flagConfig))

	if flagRoom != "" {
		cfg.SetRoom(flagRoom)
	}
	if len(cfg.Rooms) == 0 {
		logger.Error("No room to join specified, aborting")
		return fmt.Errorf("no room configured")
	}

	// Persistence is best-effort: without it the bot just loses toggles
	// and cooldowns across restarts.
	var st *store.Store
	if s, err := store.New(cfg.DBPath); err != nil {
		logger.Warn("Failed to open state database, continuing without persistence",
			zap.String("path", cfg.DBPath),
			zap.Error(err))
	} else {
		st = s
		defer st.Close()
	}

	sched := scheduler.New(logger)
	sched.Start()
	defer sched.Stop()

	registry := modules.NewRegistry(logger)
	var modStore modules.Store
	var auditLog queue.DeliveryLog
	if st != nil {
		modStore = st
		auditLog = st
	}

	plugins := []modules.Plugin{
		core.New(registry, modStore, logger),
		reminder.New(sched, logger),
		booru.New(logger),
	}
	if err := registry.Load(plugins...); err != nil {
		logger.Error("Some plugins failed to load", zap.Error(err))
	}
	logger.Info(registry.Summary())

	if st != nil {
		restoreState(st, registry, logger)
	}

	gate := modules.NewGate(registry, cfg.Master, modStore, logger)
	dispatcher := bot.NewDispatcher(cfg.Prefix, cfg.Username, registry, gate, logger)

	b := bot.New(cfg, registry, dispatcher, auditLog, logger)
	client := transport.NewClient(b, logger)
	b.SetTransport(client)

	if err := client.Connect(cfg.Server, transport.Credentials{
		Identity: cfg.Username,
		Secret:   cfg.Secret,
	}); err != nil {
		logger.Error("Error connecting to chat server",
			zap.String("server", cfg.Server),
			zap.Error(err))
		return err
	}
	defer client.Close()
	defer b.Shutdown()

	for _, room := range cfg.Rooms {
		b.JoinRoom(room)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		case <-b.Disconnects():
			if err := reconnect(ctx, client, cfg, logger); err != nil {
				return err
			}
			b.Resume()
		}
	}
}

// reconnect redials with backoff until it succeeds or the context ends.
func reconnect(ctx context.Context, client *transport.Client, cfg *config.Config, logger *zap.Logger) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		err := client.Connect(cfg.Server, transport.Credentials{
			Identity: cfg.Username,
			Secret:   cfg.Secret,
		})
		if err == nil {
			return nil
		}
		logger.Warn("Reconnect failed, retrying",
			zap.Duration("backoff", backoff),
			zap.Error(err))

		backoff *= 2
		if backoff > time.Minute {
			backoff = time.Minute
		}
	}
}

// restoreState applies persisted module toggles and cooldown stamps.
func restoreState(st *store.Store, registry *modules.Registry, logger *zap.Logger) {
	if states, err := st.ModuleStates(); err != nil {
		logger.Warn("Failed to load module states", zap.Error(err))
	} else {
		registry.Restore(states)
	}

	if usage, err := st.CommandUsage(); err != nil {
		logger.Warn("Failed to load command usage", zap.Error(err))
	} else {
		registry.SeedUsage(usage)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
