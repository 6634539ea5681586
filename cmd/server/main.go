// Command server runs the relying-party server: it authenticates remote
// browser clients against the configured providers and serves their userinfo
// claims over /userinfos.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/rrogntudju/userinfos/internal/config"
	"github.com/rrogntudju/userinfos/internal/rp"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	configPath := flag.String("config", "userinfos.yml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		hclog.Default().Error("unable to load the configuration", "path", *configPath, "error", err)
		return 1
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "userinfos",
		Level: hclog.LevelFromString(cfg.Logging.Level),
	})

	registry, err := cfg.Registry()
	if err != nil {
		logger.Error("unable to build the provider registry", "error", err)
		return 1
	}
	store, err := rp.NewStore(registry, cfg.Server.BaseURL+"/auth",
		rp.WithPendingTTL(cfg.Server.PendingTTL.Std()),
		rp.WithLogger(logger.Named("store")),
	)
	if err != nil {
		logger.Error("unable to create the session store", "error", err)
		return 1
	}
	defer store.Close()

	server, err := rp.NewServer(cfg, registry, store, logger)
	if err != nil {
		logger.Error("unable to create the server", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}
