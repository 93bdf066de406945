package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rewired-gh/wheelwatch/internal/config"
	"github.com/rewired-gh/wheelwatch/internal/logger"
	"github.com/rewired-gh/wheelwatch/internal/monitor"
	"github.com/rewired-gh/wheelwatch/internal/notifier"
	"github.com/rewired-gh/wheelwatch/internal/report"
	"github.com/rewired-gh/wheelwatch/internal/storage"
	"github.com/rewired-gh/wheelwatch/internal/stream"
	"github.com/rewired-gh/wheelwatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logCfg := cfg.GetLoggingConfig()
	logger.Init(logCfg.Level, logCfg.Format)
	logger.Info("Configuration loaded", "path", *configPath, "mode", cfg.Source.Mode)

	storeCfg := cfg.GetStorageConfig()
	store, err := storage.New(storeCfg.MaxOutcomesPerTable, storeCfg.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := newLimiter(cfg)
	session := newSession(cfg, limiter)
	if err := session.Start(ctx); err != nil {
		logger.Fatal("Failed to start session", "mode", cfg.Source.Mode, "error", err)
	}

	bus := notifier.New(cfg.Notifier.HistorySize, cfg.Notifier.MailboxSize)

	var telegramClient *telegram.Client
	tgCfg := cfg.GetTelegramConfig()
	if tgCfg.Enabled {
		telegramClient, err = telegram.NewClient(tgCfg.BotToken, tgCfg.ChatID, tgCfg.MaxRetries, tgCfg.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client", "error", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	deps := newDeps(cfg, session, limiter, store, bus)
	if telegramClient != nil {
		deps.Alerter = telegramClient
	}
	mon := monitor.New(newMonitorConfig(cfg), deps)

	var wg sync.WaitGroup
	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, func() string { return statusText(mon.Snapshot()) })
		if tgCfg.NotifySignals {
			sub, err := bus.Subscribe()
			if err != nil {
				logger.Fatal("Failed to subscribe Telegram to events", "error", err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				telegramClient.Forward(ctx, sub.C())
			}()
		}
	}

	if cfg.Server.Enabled {
		handler := stream.NewServer(bus, mon, store).Handler()
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Event stream listening", "addr", cfg.Server.Addr)
			if err := stream.Serve(ctx, cfg.Server.Addr, handler); err != nil && ctx.Err() == nil {
				logger.Error("Event stream server failed", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rotateLoop(ctx, store, storeCfg.RotateInterval)
	}()

	logger.Info("Starting monitoring service",
		"tables", len(cfg.Tables),
		"extract_timeout", cfg.Extractor.Timeout,
		"min_repeat", cfg.Dedup.MinRepeat,
		"inactivity_timeout", cfg.Health.InactivityTimeout,
	)
	if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Monitor stopped unexpectedly", "error", err)
	}
	cancel()

	// pollers are done; release the rest in dependency order
	bus.Close()
	wg.Wait()
	if err := session.Close(); err != nil {
		logger.Error("Failed to close session", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("Failed to close storage", "error", err)
	}

	report.NewWriter(os.Stdout).Status(mon.Snapshot())
	logger.Info("Service stopped")
}

func rotateLoop(ctx context.Context, store *storage.Storage, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.RotateOutcomes(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Failed to rotate outcomes", "error", err)
			}
		}
	}
}
