package sheets

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/eliseohh/branchpoll/internal/survey"
)

type Options struct {
	SpreadsheetID string
	Range         string
	// RPS and Burst bound the append rate; RPS <= 0 disables the limit.
	RPS   float64
	Burst int
}

// Writer appends response rows to the end of a fixed range.
type Writer struct {
	svc     *sheets.Service
	id      string
	rng     string
	limiter *rate.Limiter
}

func New(ctx context.Context, o Options, opts ...option.ClientOption) (*Writer, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}

	limit := rate.Inf
	if o.RPS > 0 {
		limit = rate.Limit(o.RPS)
	}
	burst := o.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Writer{
		svc:     svc,
		id:      o.SpreadsheetID,
		rng:     o.Range,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// Append inserts row as a new line after the last row of the range.
func (w *Writer) Append(ctx context.Context, row survey.ResponseRow) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("append: %w", err)
	}

	vals := row.Values()
	cells := make([]interface{}, len(vals))
	for i, v := range vals {
		cells[i] = v
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{cells}}

	_, err := w.svc.Spreadsheets.Values.Append(w.id, w.rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", w.rng, err)
	}
	return nil
}
