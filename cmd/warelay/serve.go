package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warelay/internal/config"
	"warelay/internal/dedup"
	"warelay/internal/domain"
	"warelay/internal/forward"
	"warelay/internal/server"
	"warelay/internal/whatsapp"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Long:  "Starts the webhook endpoints and the outbound Graph API proxy. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// .env values feed the ${VAR} expansion in the config file and the
	// pure-env fallback alike. Absence is not an error.
	_ = godotenv.Load()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using environment", "path", cfgPath, "err", err)
		cfg = config.FromEnv(os.LookupEnv)
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.General.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracker domain.DuplicateTracker
	if cfg.Dedup.Enabled {
		ttl := time.Duration(cfg.Dedup.TTLMinutes) * time.Minute
		if cfg.Dedup.DBPath != "" {
			tracker, err = dedup.NewSQLiteTracker(cfg.Dedup.DBPath, ttl, logger)
			if err != nil {
				return err
			}
		} else {
			tracker = dedup.NewMemoryTracker(ttl)
		}
		defer tracker.Close()
	}

	fwd := forward.New(forward.Config{
		MessagesURL: cfg.Forward.MessagesURL,
		StatusesURL: cfg.Forward.StatusesURL,
		Timeout:     time.Duration(cfg.Forward.TimeoutSeconds) * time.Second,
		Logger:      logger,
	})

	wa := whatsapp.New(whatsapp.Config{
		BaseURL:           cfg.WhatsApp.GraphBaseURL,
		Version:           cfg.WhatsApp.GraphVersion,
		AccessToken:       cfg.WhatsApp.AccessToken,
		PhoneNumberID:     cfg.WhatsApp.PhoneNumberID,
		BusinessAccountID: cfg.WhatsApp.BusinessAccountID,
		Logger:            logger,
	})

	srv := server.New(server.Config{
		Cfg:       cfg,
		WhatsApp:  wa,
		Forwarder: fwd,
		Tracker:   tracker,
		Logger:    logger,
	})

	return srv.Run(ctx)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
