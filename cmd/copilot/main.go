package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"copilot/internal/config"
	"copilot/internal/discovery"
	appLog "copilot/internal/log"
	"copilot/internal/metrics"
	"copilot/internal/model"
	"copilot/internal/refresh"
	"copilot/internal/relevance"
	"copilot/internal/store"
	"copilot/internal/surface"
	"copilot/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	timezone   string
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
		conf.CacheDir = filepath.Join(".", "cache", "feed-cache")
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	defer appLog.Sync()

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"end_time_policy", conf.EndTimePolicy,
		"feeds", len(conf.Feeds),
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	policy, _ := relevance.ParseEndTimePolicy(conf.EndTimePolicy)
	m := metrics.New()
	filter := relevance.New(relevance.WithEndTimePolicy(policy), relevance.WithReporter(m))

	mem := store.NewMemory()
	collector := &discovery.Collector{
		Fetcher:  discovery.NewFetcher(conf.CacheDir, nil),
		Horizon:  time.Duration(conf.HorizonDays) * 24 * time.Hour,
		Backfill: time.Duration(conf.BackfillDays) * 24 * time.Hour,
	}
	sched, err := refresh.New(conf.RefreshCron, conf.DiscoveryFeeds(), collector, mem, refresh.WithRecorder(m))
	if err != nil {
		appLog.Error("failed to build refresh scheduler", err)
		os.Exit(1)
	}

	if err := sched.RunOnce(ctx); err != nil {
		appLog.Error("initial refresh failed", err)
	}

	if flags.once {
		code := runOnce(filter, mem.Events(), flags.timezone)
		appLog.Sync()
		os.Exit(code)
	}

	sched.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		sched.Stop(stopCtx)
	}()

	srv := web.NewServer(conf, mem, filter, m)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("http server stopped", err)
		cancel()
		return
	}
	appLog.Info("copilot exiting")
}

// runOnce prints today's briefing for timezone to stdout.
func runOnce(filter *relevance.Filter, events []model.Event, timezone string) int {
	briefing, layer := surface.Today(filter, events, timezone)
	out := struct {
		Timezone string           `json:"timezone"`
		Briefing surface.Briefing `json:"briefing"`
		Map      surface.MapLayer `json:"map"`
	}{timezone, briefing, layer}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		appLog.Error("failed to write briefing", err)
		return 1
	}
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/copilot/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one discovery cycle, print today's briefing and exit")
	flag.StringVar(&cfg.timezone, "timezone", "", "IANA timezone of the location for -once (e.g. America/Chicago)")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and a local ./cache directory")

	flag.Parse()

	return cfg
}
