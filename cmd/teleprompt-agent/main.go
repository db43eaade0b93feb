package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teleprompt/teleprompt/pkg/bridge"
	"github.com/teleprompt/teleprompt/pkg/client"
	"github.com/teleprompt/teleprompt/pkg/config"
	"github.com/teleprompt/teleprompt/pkg/coordinator"
	"github.com/teleprompt/teleprompt/pkg/logger"
	"github.com/teleprompt/teleprompt/pkg/registry"
	"github.com/teleprompt/teleprompt/pkg/sites"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath); err != nil {
			logger.WarnCF("agent", "File logging disabled", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := client.New(cfg.Relay)
	if err != nil {
		logger.FatalCF("agent", "Invalid relay config", map[string]interface{}{
			"error": err.Error(),
		})
	}

	reg, err := registry.New(cfg.StatePath())
	if err != nil {
		logger.FatalCF("agent", "Cannot open tab registry", map[string]interface{}{
			"path":  cfg.StatePath(),
			"error": err.Error(),
		})
	}
	if n := reg.Count(); n > 0 {
		logger.InfoCF("agent", "Restored receiving tabs", map[string]interface{}{
			"tabs": reg.TabIDs(),
		})
	}

	matcher := sites.NewMatcher(cfg.Sites)
	br := bridge.New(cfg.Agent.Bridge, reg, matcher, relay)

	interval := time.Duration(cfg.Agent.PollIntervalMS) * time.Millisecond
	coord := coordinator.New(relay, reg, br, interval)

	go coord.Run(ctx)

	if err := br.ListenAndServe(ctx); err != nil {
		logger.FatalCF("agent", "Bridge exited", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
