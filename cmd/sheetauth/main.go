package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"

	"github.com/eliseohh/branchpoll/internal/config"
	"github.com/eliseohh/branchpoll/internal/logging"
	"github.com/eliseohh/branchpoll/internal/sheets"
)

// sheetauth runs the one-time OAuth consent for the spreadsheet account and
// stores the resulting token where the bot expects it.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	credsFlag := flag.String("credentials", "", "OAuth client secret (overrides config)")
	tokenFlag := flag.String("token", "", "where to write the token (overrides config)")
	flag.Parse()

	log := logging.New("info", "console")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	credsPath := cfg.Sheets.CredentialsFile
	if *credsFlag != "" {
		credsPath = *credsFlag
	}
	tokenPath := cfg.Sheets.TokenFile
	if *tokenFlag != "" {
		tokenPath = *tokenFlag
	}
	if tokenPath == "" {
		log.Fatal().Msg("no token path configured; pass -token")
	}

	secret, err := os.ReadFile(credsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("read client secret")
	}
	conf, err := sheets.ClientConfig(secret)
	if err != nil {
		log.Fatal().Err(err).Str("file", credsPath).Msg("parse client secret")
	}

	url := conf.AuthCodeURL("branchpoll", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Open this link, approve access, then paste the code here:\n\n%s\n\ncode: ", url)

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && code == "" {
		log.Fatal().Err(err).Msg("read code")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		log.Fatal().Msg("empty code")
	}

	tok, err := conf.Exchange(context.Background(), code)
	if err != nil {
		log.Fatal().Err(err).Msg("exchange code")
	}
	if err := sheets.WriteToken(tokenPath, tok); err != nil {
		log.Fatal().Err(err).Msg("save token")
	}
	log.Info().Str("token", tokenPath).Msg("token saved")
}
