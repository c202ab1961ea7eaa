// backtestlab drives a strategy execution service: option discovery,
// single backtests, parameter sweeps and the local control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	httpapi "github.com/saltfish/backtestlab/internal/api/http"
	"github.com/saltfish/backtestlab/internal/config"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `usage: backtestlab [-config file] [-env-file file] <command> [flags]

commands:
  serve                       run the control API and event stream
  options                     print exchanges, timeframes, strategies and defaults
  backtest [flags]            run one backtest
  optimize [flags]            run a parameter sweep and print the top results
  upload <file.py>            upload a strategy file
  bot status|start|stop       inspect or control the live bot
  trades                      list live bot trades
  stats                       print live performance stats
  runs [-mode m] [-status s]  list journaled runs (requires database)
`

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	envFile := flag.String("env-file", "", "Path to a .env file (default .env if present)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(*configPath, envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	httpapi.Version = Version
	logger.Debug("Starting backtestlab",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Env),
		zap.String("backend", cfg.Backend.BaseURL),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := newApp(cfg, logger, os.Stdout)
	if err := app.dispatch(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		logger.Error("Command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initLogger builds a zap logger from the logging section. Logs go to stderr
// unless output_path says otherwise, keeping stdout for command output.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Logging.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Logging.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zapCfg.OutputPaths = []string{"stderr"}
	if cfg.Logging.OutputPath != "" {
		zapCfg.OutputPaths = []string{cfg.Logging.OutputPath}
	}

	return zapCfg.Build()
}
