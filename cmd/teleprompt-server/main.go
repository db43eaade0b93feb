package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teleprompt/teleprompt/pkg/config"
	"github.com/teleprompt/teleprompt/pkg/logger"
	"github.com/teleprompt/teleprompt/pkg/mailbox"
	"github.com/teleprompt/teleprompt/pkg/server"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	if cfg.Server.APIKey == "" {
		logger.WarnC("server", "No API key configured; all upload/fetch calls will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	box := mailbox.New()

	if cfg.Server.ExpirySchedule != "" && cfg.Server.MaxPayloadAgeMins > 0 {
		janitor, err := mailbox.NewJanitor(
			box,
			cfg.Server.ExpirySchedule,
			time.Duration(cfg.Server.MaxPayloadAgeMins)*time.Minute,
		)
		if err != nil {
			logger.FatalCF("server", "Invalid expiry schedule", map[string]interface{}{
				"error": err.Error(),
			})
		}
		go janitor.Run(ctx)
	}

	srv := server.New(cfg.Server, box)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.FatalCF("server", "Relay server exited", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func setupLogging(cfg *config.Config) {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath); err != nil {
			logger.WarnCF("server", "File logging disabled", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
