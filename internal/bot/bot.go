package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"

	"github.com/eliseohh/branchpoll/internal/survey"
)

// ErrInstanceConflict means another process is already polling updates for
// the same token.
var ErrInstanceConflict = errors.New("another bot instance is polling this token")

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Startup conflict handling.
	Attempts int
	Delay    time.Duration
}

// poster is the part of *tele.Bot used to send polls.
type poster interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Bot struct {
	api    *tele.Bot
	out    poster
	survey *survey.Controller
	ctx    context.Context
	log    zerolog.Logger
}

func New(ctx context.Context, cfg Config, ctrl *survey.Controller, log zerolog.Logger) (*Bot, error) {
	log = log.With().Str("component", "bot").Logger()
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pref := tele.Settings{
		Token: cfg.Token,
		Poller: &tele.LongPoller{
			Timeout:        timeout,
			AllowedUpdates: []string{"message", "callback_query", "poll_answer"},
		},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("handler failed")
		},
	}

	api, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	b := &Bot{api: api, out: api, survey: ctrl, ctx: ctx, log: log}
	b.register()
	return b, nil
}

// Connect builds the bot and makes sure no other instance is polling the
// token. A conflict is retried cfg.Attempts times, cfg.Delay apart.
func Connect(ctx context.Context, cfg Config, ctrl *survey.Controller, log zerolog.Logger) (*Bot, error) {
	b, err := New(ctx, cfg, ctrl, log)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := waitExclusive(ctx, b.probe, cfg.Attempts, cfg.Delay, b.log); err != nil {
		return nil, err
	}
	return b, nil
}

// probe asks for pending updates without consuming any; Telegram answers 409
// when a second poller holds the token.
func (b *Bot) probe() error {
	_, err := b.api.Raw("getUpdates", map[string]interface{}{"limit": 1, "timeout": 0})
	if err == nil {
		return nil
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %v", ErrInstanceConflict, err)
	}
	return err
}

func waitExclusive(ctx context.Context, probe func() error, attempts int, delay time.Duration, log zerolog.Logger) error {
	if attempts < 1 {
		attempts = 1
	}
	try := 0
	op := func() error {
		try++
		err := probe()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrInstanceConflict) {
			return backoff.Permanent(err)
		}
		log.Warn().Int("attempt", try).Int("of", attempts).Dur("retry_in", delay).Msg("another instance is running")
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	return nil
}

func isConflict(err error) bool {
	var te *tele.Error
	if errors.As(err, &te) {
		return te.Code == http.StatusConflict
	}
	return strings.Contains(err.Error(), "(409)") || strings.Contains(err.Error(), "Conflict:")
}

// Start polls until ctx is cancelled.
func (b *Bot) Start() {
	go func() {
		<-b.ctx.Done()
		b.api.Stop()
	}()
	b.log.Info().Str("username", b.api.Me.Username).Msg("bot started")
	b.api.Start()
}
