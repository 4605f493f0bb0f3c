// Command tiermemd wires the tiered memory engine's collaborators
// into a running process: load config, build the cache/gateway/codec/
// embedder stack, construct the Memory Service, and start the
// Lifecycle Manager's cron schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/nimtier/tiermem/cache"
	"github.com/nimtier/tiermem/clock"
	"github.com/nimtier/tiermem/codec"
	"github.com/nimtier/tiermem/config"
	"github.com/nimtier/tiermem/embedder"
	"github.com/nimtier/tiermem/lifecycle"
	"github.com/nimtier/tiermem/logging"
	"github.com/nimtier/tiermem/service"
	"github.com/nimtier/tiermem/tier"
	"github.com/nimtier/tiermem/vectorstore"
)

func main() {
	configPath := flag.String("config", "", "path to a config file overlaying the defaults")
	pretty := flag.Bool("pretty", false, "use console-pretty log output instead of JSON")
	flag.Parse()

	logging.Pretty = *pretty
	logger := logging.New("tiermemd")

	if err := run(*configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("tiermemd exited")
	}
}

func run(configPath string, logger zerolog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfgStore := config.NewStore(cfg)
	logger.Info().Int("embedding_dim", cfg.General.EmbeddingDim).Msg("configuration loaded")

	tierSettings, err := cfg.TierPolicySettings()
	if err != nil {
		return fmt.Errorf("tier policy settings: %w", err)
	}
	policy, err := tier.NewPolicy(tierSettings)
	if err != nil {
		return fmt.Errorf("build tier policy: %w", err)
	}

	cacheSettings := map[tier.Tier]cache.Settings{
		tier.Core:       {Capacity: cfg.Tiers["core"].Capacity, TTL: cfg.Tiers["core"].TTL},
		tier.Active:     {Capacity: cfg.Tiers["active"].Capacity, TTL: cfg.Tiers["active"].TTL},
		tier.Background: {Capacity: cfg.Tiers["background"].Capacity, TTL: cfg.Tiers["background"].TTL},
	}
	tierCache, err := cache.New(cacheSettings)
	if err != nil {
		return fmt.Errorf("build tier cache: %w", err)
	}
	logger.Info().Msg("tier cache ready")

	gateway := vectorstore.NewMemoized(vectorstore.NewChromemGateway(cfg.General.EmbeddingDim), 512)
	logger.Info().Msg("vector gateway ready (chromem-go, memoized)")

	c := codec.New(cfg.Compression.MinSize)

	embed := embedder.NewMock(cfg.General.EmbeddingDim)
	logger.Warn().Msg("using the deterministic mock embedder; wire a real embedding backend for production traffic")

	clk := clock.System

	svc := service.New(cfgStore, policy, gateway, tierCache, c, embed, clk, logging.New("service"))

	mgr := lifecycle.New(svc, policy, cfgStore, clk, nil, logging.New("lifecycle"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopSchedule, err := mgr.StartSchedule(ctx)
	if err != nil {
		return fmt.Errorf("start lifecycle schedule: %w", err)
	}
	defer stopSchedule()
	logger.Info().Dur("cleanup_interval", cfg.General.CleanupInterval).Msg("lifecycle schedule started")

	go func() {
		for err := range mgr.Errors() {
			logger.Error().Err(err).Msg("lifecycle pass failed after retries")
		}
	}()

	logger.Info().Msg("tiermemd running, press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	return nil
}
