package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/eliseohh/branchpoll/internal/bot"
	"github.com/eliseohh/branchpoll/internal/config"
	"github.com/eliseohh/branchpoll/internal/logging"
	"github.com/eliseohh/branchpoll/internal/metrics"
	"github.com/eliseohh/branchpoll/internal/outbox"
	"github.com/eliseohh/branchpoll/internal/sheets"
	"github.com/eliseohh/branchpoll/internal/survey"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	cfg, err := config.Load(config.ResolvePath(*configPath, explicit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("branchpoll stopped")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("branchpoll stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	// 1. Spreadsheet access
	creds := sheets.FileCredentials{
		CredentialsFile: cfg.Sheets.CredentialsFile,
		TokenFile:       cfg.Sheets.TokenFile,
	}
	ts, err := creds.Authenticate(ctx)
	if err != nil {
		return err
	}
	writer, err := sheets.New(ctx, sheets.Options{
		SpreadsheetID: cfg.Sheets.SpreadsheetID,
		Range:         cfg.Sheets.Range,
		RPS:           cfg.Sheets.RPS,
		Burst:         cfg.Sheets.Burst,
	}, option.WithTokenSource(ts))
	if err != nil {
		return err
	}

	// 2. Delivery policy
	var delivery survey.Delivery
	switch cfg.Delivery.Mode {
	case "retry":
		delivery = survey.RetryPolicy(writer, cfg.Delivery.Attempts, cfg.Delivery.Delay)
	case "outbox":
		db, err := outbox.Open(cfg.Delivery.OutboxPath)
		if err != nil {
			return err
		}
		defer db.Close()

		drainer := outbox.NewDrainer(db, writer, cfg.Delivery.Workers, cfg.Delivery.MaxAttempts, m, log)
		go func() {
			if err := drainer.Schedule(ctx, cfg.Delivery.Cron); err != nil {
				log.Error().Err(err).Msg("outbox scheduler")
			}
		}()
		delivery = survey.OutboxPolicy(writer, db)
	default:
		delivery = survey.DropPolicy(writer)
	}

	// 3. Survey state
	ctrl := survey.New(survey.Settings{
		Prompt:       cfg.Survey.Prompt,
		Branches:     cfg.Survey.Branches,
		Question:     cfg.Survey.Question,
		Options:      cfg.Survey.Options,
		Anonymous:    cfg.Survey.Anonymous,
		BranchSource: survey.BranchSource(cfg.Survey.BranchSource),
		SessionClear: survey.ClearScope(cfg.Survey.SessionClear),
		Location:     cfg.Survey.Location(),
		RegistryTTL:  cfg.Survey.RegistryTTL,
		SessionTTL:   cfg.Survey.SessionTTL,
	}, delivery, log, survey.WithMetrics(m))
	go ctrl.Run(ctx, cfg.Survey.SweepInterval)

	// 4. Bot
	b, err := bot.Connect(ctx, bot.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeout,
		Attempts:    cfg.Startup.Attempts,
		Delay:       cfg.Startup.Delay,
	}, ctrl, log)
	if err != nil {
		return err
	}

	log.Info().
		Int("branches", len(cfg.Survey.Branches)).
		Str("delivery", cfg.Delivery.Mode).
		Msg("listening")
	b.Start()
	return nil
}
