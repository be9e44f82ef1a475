package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

const (
	DefaultQuestion = "በሚመሯችሁ ኃላፊዎች ምን ያህል ደስተኛ ነህ/ሽ"
	DefaultPrompt   = "Please select your branch:"
	DefaultRange    = "Sheet1!A:D"
)

// DefaultOptions are the four answers offered by every poll.
var DefaultOptions = []string{
	"በጣም ደስተኛ ነኝ",
	"ደስተኛ ነኝ",
	"ደህና ነኝ",
	"ደስተኛ አይደለሁም",
}

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Survey   SurveyConfig   `yaml:"survey"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Startup  StartupConfig  `yaml:"startup"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type TelegramConfig struct {
	Token       string        `yaml:"token"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

type SurveyConfig struct {
	Prompt         string        `yaml:"prompt"`
	Branches       []string      `yaml:"branches"`
	Question       string        `yaml:"question"`
	Options        []string      `yaml:"options"`
	Anonymous      bool          `yaml:"anonymous"`
	BranchSource   string        `yaml:"branch_source"` // session|poll
	SessionClear   string        `yaml:"session_clear"` // conversation|poll
	UTCOffsetHours int           `yaml:"utc_offset_hours"`
	RegistryTTL    time.Duration `yaml:"registry_ttl"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

type SheetsConfig struct {
	SpreadsheetID   string  `yaml:"spreadsheet_id"`
	Range           string  `yaml:"range"`
	CredentialsFile string  `yaml:"credentials_file"`
	TokenFile       string  `yaml:"token_file"`
	RPS             float64 `yaml:"rps"`
	Burst           int     `yaml:"burst"`
}

type DeliveryConfig struct {
	Mode        string        `yaml:"mode"` // drop|retry|outbox
	Attempts    int           `yaml:"attempts"`
	Delay       time.Duration `yaml:"delay"`
	OutboxPath  string        `yaml:"outbox_path"`
	Cron        string        `yaml:"cron"`
	MaxAttempts int           `yaml:"max_attempts"`
	Workers     int           `yaml:"workers"`
}

type StartupConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console|json
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration the bot runs with when no file is given.
func Default() *Config {
	branches := make([]string, 0, 30)
	for i := 1; i <= 30; i++ {
		branches = append(branches, fmt.Sprintf("Branch %d", i))
	}
	return &Config{
		Telegram: TelegramConfig{PollTimeout: 10 * time.Second},
		Survey: SurveyConfig{
			Prompt:         DefaultPrompt,
			Branches:       branches,
			Question:       DefaultQuestion,
			Options:        append([]string(nil), DefaultOptions...),
			BranchSource:   "session",
			SessionClear:   "conversation",
			UTCOffsetHours: 3,
			RegistryTTL:    72 * time.Hour,
			SessionTTL:     24 * time.Hour,
			SweepInterval:  10 * time.Minute,
		},
		Sheets: SheetsConfig{
			Range:           DefaultRange,
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
			RPS:             1,
			Burst:           5,
		},
		Delivery: DeliveryConfig{
			Mode:        "drop",
			Attempts:    3,
			Delay:       2 * time.Second,
			OutboxPath:  "./outbox.db",
			Cron:        "*/5 * * * *",
			MaxAttempts: 20,
			Workers:     2,
		},
		Startup: StartupConfig{Attempts: 5, Delay: 10 * time.Second},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads .env (if present), the YAML file at path (if present) on top of
// Default, then applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// ResolvePath prefers an explicitly set flag, then BRANCHPOLL_CONFIG.
func ResolvePath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if p := strings.TrimSpace(os.Getenv("BRANCHPOLL_CONFIG")); p != "" {
		return p
	}
	return flagVal
}

func applyEnv(cfg *Config) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.Telegram.Token, "TELEGRAM_TOKEN", "YOUR_BOT_TOKEN")
	set(&cfg.Sheets.SpreadsheetID, "SPREADSHEET_ID")
	set(&cfg.Sheets.CredentialsFile, "SHEETS_CREDENTIALS_FILE")
	set(&cfg.Sheets.TokenFile, "SHEETS_TOKEN_FILE")
	set(&cfg.Delivery.Mode, "BRANCHPOLL_DELIVERY_MODE")
	set(&cfg.Logging.Level, "BRANCHPOLL_LOG_LEVEL")
	set(&cfg.Metrics.Addr, "BRANCHPOLL_METRICS_ADDR")
}

// Validate checks the settings the bot cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is empty (set TELEGRAM_TOKEN)"))
	}
	if c.Sheets.SpreadsheetID == "" {
		errs = append(errs, errors.New("sheets.spreadsheet_id is empty"))
	}
	if len(c.Survey.Branches) == 0 {
		errs = append(errs, errors.New("survey.branches is empty"))
	}
	if len(c.Survey.Options) != 4 {
		errs = append(errs, fmt.Errorf("survey.options must have exactly 4 entries, got %d", len(c.Survey.Options)))
	}
	if strings.TrimSpace(c.Survey.Question) == "" {
		errs = append(errs, errors.New("survey.question is empty"))
	}
	if !oneOf(c.Survey.BranchSource, "session", "poll") {
		errs = append(errs, fmt.Errorf("survey.branch_source %q: want session or poll", c.Survey.BranchSource))
	}
	if !oneOf(c.Survey.SessionClear, "conversation", "poll") {
		errs = append(errs, fmt.Errorf("survey.session_clear %q: want conversation or poll", c.Survey.SessionClear))
	}
	if !oneOf(c.Delivery.Mode, "drop", "retry", "outbox") {
		errs = append(errs, fmt.Errorf("delivery.mode %q: want drop, retry or outbox", c.Delivery.Mode))
	}
	if c.Delivery.Mode == "outbox" && c.Delivery.OutboxPath == "" {
		errs = append(errs, errors.New("delivery.outbox_path is required in outbox mode"))
	}
	if c.Startup.Attempts < 1 {
		errs = append(errs, errors.New("startup.attempts must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Location is the fixed zone survey timestamps are rendered in.
func (s SurveyConfig) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", s.UTCOffsetHours), s.UTCOffsetHours*3600)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
