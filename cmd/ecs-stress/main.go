package main

import (
	"context"
	"fmt"
	"os"
	"time"

	jlconfig "github.com/JeremyLoy/config"
	"github.com/pkg/profile"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// stressConfig is read from ECS_STRESS_* environment variables first; flags
// given on the command line take precedence.
type stressConfig struct {
	Duration       string `config:"ECS_STRESS_DURATION"`
	Entities       int    `config:"ECS_STRESS_ENTITIES"`
	PageSize       int    `config:"ECS_STRESS_PAGE_SIZE"`
	Aggressive     bool   `config:"ECS_STRESS_AGGRESSIVE_RECLAIM"`
	Profile        string `config:"ECS_STRESS_PROFILE"`
	ProfileDir     string `config:"ECS_STRESS_PROFILE_DIR"`
	LogLevel       string `config:"ECS_STRESS_LOG_LEVEL"`
	Pretty         bool   `config:"ECS_STRESS_PRETTY"`
	GCPauseMetrics bool   `config:"ECS_STRESS_GC_PAUSE_METRICS"`
}

func defaultConfig() stressConfig {
	return stressConfig{
		Duration:   "10s",
		Entities:   10000,
		ProfileDir: ".",
		LogLevel:   "info",
	}
}

func loadConfig() (stressConfig, error) {
	cfg := defaultConfig()
	if err := jlconfig.FromEnv().To(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to read environment")
	}
	return cfg, nil
}

func newLogger(cfg stressConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), eris.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

func startProfile(cfg stressConfig) (interface{ Stop() }, error) {
	switch cfg.Profile {
	case "":
		return nil, nil
	case "cpu":
		return profile.Start(profile.CPUProfile, profile.ProfilePath(cfg.ProfileDir), profile.NoShutdownHook, profile.Quiet), nil
	case "mem":
		return profile.Start(profile.MemProfileAllocs, profile.ProfilePath(cfg.ProfileDir), profile.NoShutdownHook, profile.Quiet), nil
	default:
		return nil, eris.Errorf("unknown profile mode %q, want cpu or mem", cfg.Profile)
	}
}

func newRootCmd() (*cobra.Command, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	cmd := &cobra.Command{
		Use:          "ecs-stress",
		Short:        "Churn an entity registry and report frame timings",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			duration, err := time.ParseDuration(cfg.Duration)
			if err != nil {
				return eris.Wrapf(err, "invalid duration %q", cfg.Duration)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			p, err := startProfile(cfg)
			if err != nil {
				return err
			}
			if p != nil {
				defer p.Stop()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), duration)
			defer cancel()

			report, err := run(ctx, cfg, duration, logger)
			if err != nil {
				return err
			}
			return report.Generate(cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Duration, "duration", cfg.Duration, "total run time")
	flags.IntVar(&cfg.Entities, "entities", cfg.Entities, "number of entities kept alive")
	flags.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "sparse page size, 0 for the default")
	flags.BoolVar(&cfg.Aggressive, "aggressive-reclaim", cfg.Aggressive, "release sparse pages as soon as they empty")
	flags.StringVar(&cfg.Profile, "profile", cfg.Profile, "write a cpu or mem profile")
	flags.StringVar(&cfg.ProfileDir, "profile-dir", cfg.ProfileDir, "directory for profile output")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "zerolog level")
	flags.BoolVar(&cfg.Pretty, "pretty", cfg.Pretty, "human readable logs")
	flags.BoolVar(&cfg.GCPauseMetrics, "gc-pause-metrics", cfg.GCPauseMetrics, "include GC pause totals in the report")
	return cmd, nil
}

func main() {
	cmd, err := newRootCmd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
