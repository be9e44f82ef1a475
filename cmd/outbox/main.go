package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"google.golang.org/api/option"

	"github.com/eliseohh/branchpoll/internal/config"
	"github.com/eliseohh/branchpoll/internal/logging"
	"github.com/eliseohh/branchpoll/internal/outbox"
	"github.com/eliseohh/branchpoll/internal/sheets"
)

const usage = `usage: outbox [-config config.yaml] <command>

commands:
  stats   count pending and dead entries
  list    show pending entries, oldest first
  drain   send pending entries to the sheet once
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	limit := flag.Int("limit", 50, "entries shown by list")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logging.New("info", "console")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	db, err := outbox.Open(cfg.Delivery.OutboxPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open outbox")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch flag.Arg(0) {
	case "stats":
		pending, dead, err := db.Count(ctx, cfg.Delivery.MaxAttempts)
		if err != nil {
			log.Fatal().Err(err).Msg("count")
		}
		fmt.Printf("pending: %d\ndead:    %d\n", pending, dead)

	case "list":
		entries, err := db.Pending(ctx, cfg.Delivery.MaxAttempts, *limit)
		if err != nil {
			log.Fatal().Err(err).Msg("list")
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUEUED\tATTEMPTS\tRESPONDENT\tBRANCH\tANSWER\tLAST ERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				e.ID, e.CreatedAt.Format(time.DateTime), e.Attempts,
				e.Row.Respondent, e.Row.Branch, e.Row.Answer, e.LastError)
		}
		w.Flush()

	case "drain":
		creds := sheets.FileCredentials{CredentialsFile: cfg.Sheets.CredentialsFile, TokenFile: cfg.Sheets.TokenFile}
		ts, err := creds.Authenticate(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("credentials")
		}
		writer, err := sheets.New(ctx, sheets.Options{
			SpreadsheetID: cfg.Sheets.SpreadsheetID,
			Range:         cfg.Sheets.Range,
			RPS:           cfg.Sheets.RPS,
			Burst:         cfg.Sheets.Burst,
		}, option.WithTokenSource(ts))
		if err != nil {
			log.Fatal().Err(err).Msg("sheets")
		}

		st, err := outbox.NewDrainer(db, writer, cfg.Delivery.Workers, cfg.Delivery.MaxAttempts, nil, log).Drain(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("drain")
		}
		fmt.Printf("sent: %d\nfailed: %d\ndead: %d\n", st.Sent, st.Failed, st.Dead)

	default:
		flag.Usage()
		os.Exit(2)
	}
}
