package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/eliseohh/branchpoll/internal/metrics"
	"github.com/eliseohh/branchpoll/internal/survey"
)

const batchSize = 100

// Drainer re-sends queued rows to the sheet.
type Drainer struct {
	db          *DB
	sheet       survey.Appender
	workers     int
	maxAttempts int
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewDrainer(db *DB, sheet survey.Appender, workers, maxAttempts int, m *metrics.Metrics, log zerolog.Logger) *Drainer {
	if workers < 1 {
		workers = 1
	}
	return &Drainer{
		db:          db,
		sheet:       sheet,
		workers:     workers,
		maxAttempts: maxAttempts,
		metrics:     m,
		log:         log.With().Str("component", "outbox").Logger(),
	}
}

type Stats struct {
	Sent   int
	Failed int
	Dead   int
}

type sendResult struct {
	entry Entry
	err   error
}

// Drain makes one pass over the eligible entries. Workers call the sheet in
// parallel; this goroutine is the only one writing to SQLite.
func (d *Drainer) Drain(ctx context.Context) (Stats, error) {
	var st Stats

	entries, err := d.db.Pending(ctx, d.maxAttempts, batchSize)
	if err != nil {
		return st, fmt.Errorf("list outbox: %w", err)
	}

	jobs := make(chan Entry)
	results := make(chan sendResult, len(entries))

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				results <- sendResult{entry: e, err: d.sheet.Append(ctx, e.Row)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, e := range entries {
			select {
			case jobs <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err == nil {
			if err := d.db.Remove(ctx, res.entry.ID); err != nil {
				d.log.Error().Err(err).Str("id", res.entry.ID).Msg("remove sent entry")
			}
			st.Sent++
			d.metrics.Delivered(string(survey.Written))
			continue
		}
		st.Failed++
		if err := d.db.MarkFailed(ctx, res.entry.ID, res.err); err != nil {
			d.log.Error().Err(err).Str("id", res.entry.ID).Msg("record failed attempt")
		}
	}

	pending, dead, err := d.db.Count(ctx, d.maxAttempts)
	if err != nil {
		return st, fmt.Errorf("count outbox: %w", err)
	}
	st.Dead = dead
	d.metrics.SetOutboxPending(pending)
	return st, ctx.Err()
}

// Schedule runs Drain on every tick of cronExpr until ctx is done.
func (d *Drainer) Schedule(ctx context.Context, cronExpr string) error {
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("invalid outbox cron expression: %q", cronExpr)
	}
	d.log.Info().Str("cron", cronExpr).Msg("outbox scheduler started")

	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now(), false)
		if err != nil {
			d.log.Error().Err(err).Str("cron", cronExpr).Msg("next tick")
			next = time.Now().Add(time.Minute)
		}

		select {
		case <-ctx.Done():
			d.log.Info().Msg("outbox scheduler stopping")
			return nil
		case <-time.After(time.Until(next)):
		}

		st, err := d.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("outbox drain")
			continue
		}
		if st.Sent > 0 || st.Failed > 0 || st.Dead > 0 {
			d.log.Info().Int("sent", st.Sent).Int("failed", st.Failed).Int("dead", st.Dead).Msg("outbox drained")
		}
	}
}
