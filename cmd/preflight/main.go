package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/eliseohh/branchpoll/internal/config"
	"github.com/eliseohh/branchpoll/internal/outbox"
	"github.com/eliseohh/branchpoll/internal/sheets"
)

// preflight checks a deployment before the bot is started: config, sheet
// credentials and the outbox file.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	problems := 0
	fail := func(area, format string, args ...interface{}) {
		fmt.Printf("❌ [%s] %s\n", area, fmt.Sprintf(format, args...))
		problems++
	}
	ok := func(area, format string, args ...interface{}) {
		fmt.Printf("✔ [%s] %s\n", area, fmt.Sprintf(format, args...))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("Config", "%v", err)
		os.Exit(1)
	}

	// 1. Config
	if err := cfg.Validate(); err != nil {
		fail("Config", "%v", err)
	} else {
		ok("Config", "%d branches, %d options, delivery %s", len(cfg.Survey.Branches), len(cfg.Survey.Options), cfg.Delivery.Mode)
	}
	seen := make(map[string]bool, len(cfg.Survey.Branches))
	for _, b := range cfg.Survey.Branches {
		if seen[b] {
			fail("Config", "branch %q listed twice", b)
		}
		seen[b] = true
	}

	// 2. Credentials
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	creds := sheets.FileCredentials{CredentialsFile: cfg.Sheets.CredentialsFile, TokenFile: cfg.Sheets.TokenFile}
	if ts, err := creds.Authenticate(ctx); err != nil {
		fail("Sheets", "%v", err)
	} else if tok, err := ts.Token(); err != nil {
		fail("Sheets", "token: %v", err)
	} else {
		ok("Sheets", "credentials usable, token valid until %s", tok.Expiry.Format(time.RFC3339))
	}

	// 3. Outbox
	if cfg.Delivery.Mode == "outbox" {
		db, err := outbox.Open(cfg.Delivery.OutboxPath)
		if err != nil {
			fail("Outbox", "%v", err)
		} else {
			pending, dead, err := db.Count(ctx, cfg.Delivery.MaxAttempts)
			db.Close()
			if err != nil {
				fail("Outbox", "%v", err)
			} else {
				ok("Outbox", "%s: %d pending, %d dead", cfg.Delivery.OutboxPath, pending, dead)
			}
		}
	}

	if problems > 0 {
		fmt.Printf("\n🚫 %d problem(s) found.\n", problems)
		os.Exit(1)
	}
	fmt.Println("✅ Ready to start.")
}
