package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/agentworkforce/dealsync/internal/config"
	"github.com/agentworkforce/dealsync/internal/dealsource"
	"github.com/agentworkforce/dealsync/internal/dealstore"
	"github.com/agentworkforce/dealsync/internal/ingest"
	"github.com/agentworkforce/dealsync/internal/logger"
)

// Process exit codes.
const (
	exitOK            = 0
	exitBadConfig     = 1
	exitRunFailed     = 3
	exitMissingConfig = 4
	exitFatal         = 5
)

const storePingTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	ctx := logger.WithContext(context.Background(), logger.New())
	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

// run wires the process together and returns its exit code. The logger
// carried by ctx is used until the configured one is built.
func run(ctx context.Context, args []string, stdout io.Writer) (code int) {
	bootLog := logger.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			bootLog.Error().Interface("panic", r).Msg("dealsync terminated unexpectedly")
			code = exitFatal
		}
	}()

	cfg, err := config.Load(os.Getenv("DEALSYNC_ENV_FILE"))
	if err != nil {
		bootLog.Error().Err(err).Msg("failed to load configuration")
		return configExitCode(err)
	}
	flags := flag.NewFlagSet("dealsync", flag.ContinueOnError)
	flags.SetOutput(stdout)
	cfg.BindFlags(flags)
	once := flags.Bool("once", false, "run one ingestion pass and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitBadConfig
	}

	log, err := logger.Configure(cfg.LogLevel, cfg.LogFormat, stdout)
	if err != nil {
		bootLog.Error().Err(err).Msg("invalid logging configuration")
		return exitBadConfig
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return configExitCode(err)
	}

	interval, err := ingest.ParseSchedule(cfg.Schedule, time.Now())
	if err != nil {
		log.Error().Err(err).Str("schedule", cfg.Schedule).Msg("schedule expression is not a valid recurring cadence")
		return exitBadConfig
	}

	store, err := dealstore.BuildStoreFromDSN(cfg.StoreDSN, dealstore.Options{OperationTimeout: cfg.StoreTimeout})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize deal store")
		return exitBadConfig
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("closing deal store failed")
		}
	}()

	log = logger.WithFields(log, map[string]interface{}{
		"service":  "dealsync",
		"schedule": cfg.Schedule,
	})

	rootCtx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	if p, ok := store.(pinger); ok {
		pingCtx, cancel := context.WithTimeout(rootCtx, storePingTimeout)
		if err := p.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("deal store is not reachable yet; records will fail until it is")
		}
		cancel()
	}

	source, err := dealsource.NewClient(dealsource.ClientOptions{
		Endpoint:          cfg.Endpoint,
		HTTPClient:        &http.Client{Timeout: cfg.HTTPTimeout},
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize deal source")
		return exitFatal
	}
	runner, err := ingest.NewRunner(source, ingest.NewEngine(store, log), ingest.RunnerOptions{
		PageSize:     cfg.PageSize,
		FetchRetries: cfg.FetchRetries,
		Logger:       log,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize ingestion run")
		return exitBadConfig
	}

	if *once {
		if _, err := runner.Run(rootCtx, 1); err != nil {
			return exitRunFailed
		}
		return exitOK
	}

	scheduler, err := ingest.NewScheduler(runner, ingest.SchedulerOptions{Interval: interval, Logger: log})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize scheduler")
		return exitBadConfig
	}
	log.Info().
		Str("endpoint", cfg.Endpoint).
		Msgf("dealsync ingesting every %s", interval)
	scheduler.Start(rootCtx)
	return exitOK
}

func configExitCode(err error) int {
	if config.IsMissing(err) {
		return exitMissingConfig
	}
	return exitBadConfig
}
