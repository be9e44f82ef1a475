package survey

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Appender writes one row to the results sheet.
type Appender interface {
	Append(ctx context.Context, row ResponseRow) error
}

// Queue keeps rows that could not be written for a later attempt.
type Queue interface {
	Enqueue(ctx context.Context, row ResponseRow, cause error) error
}

type DeliveryStatus string

const (
	Written DeliveryStatus = "written"
	Dropped DeliveryStatus = "dropped"
	Queued  DeliveryStatus = "queued"
)

// DeliveryResult is returned for every row handed to a Delivery. Err holds
// the last write error when Status is not Written.
type DeliveryResult struct {
	Status   DeliveryStatus
	Attempts int
	Err      error
}

// Delivery decides what happens to a row when the sheet write fails.
type Delivery interface {
	Deliver(ctx context.Context, row ResponseRow) DeliveryResult
}

type dropPolicy struct {
	sheet Appender
}

// DropPolicy writes once and discards the row on failure.
func DropPolicy(sheet Appender) Delivery {
	return &dropPolicy{sheet: sheet}
}

func (p *dropPolicy) Deliver(ctx context.Context, row ResponseRow) DeliveryResult {
	if err := p.sheet.Append(ctx, row); err != nil {
		return DeliveryResult{Status: Dropped, Attempts: 1, Err: err}
	}
	return DeliveryResult{Status: Written, Attempts: 1}
}

type retryPolicy struct {
	sheet    Appender
	attempts int
	delay    time.Duration
}

// RetryPolicy writes up to attempts times with a fixed delay between tries,
// then discards the row.
func RetryPolicy(sheet Appender, attempts int, delay time.Duration) Delivery {
	if attempts < 1 {
		attempts = 1
	}
	return &retryPolicy{sheet: sheet, attempts: attempts, delay: delay}
}

func (p *retryPolicy) Deliver(ctx context.Context, row ResponseRow) DeliveryResult {
	tries := 0
	op := func() error {
		tries++
		return p.sheet.Append(ctx, row)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.delay), uint64(p.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return DeliveryResult{Status: Dropped, Attempts: tries, Err: err}
	}
	return DeliveryResult{Status: Written, Attempts: tries}
}

type outboxPolicy struct {
	sheet Appender
	queue Queue
}

// OutboxPolicy writes once and parks the row in queue on failure. If the
// queue itself fails the row is dropped.
func OutboxPolicy(sheet Appender, queue Queue) Delivery {
	return &outboxPolicy{sheet: sheet, queue: queue}
}

func (p *outboxPolicy) Deliver(ctx context.Context, row ResponseRow) DeliveryResult {
	err := p.sheet.Append(ctx, row)
	if err == nil {
		return DeliveryResult{Status: Written, Attempts: 1}
	}
	if qerr := p.queue.Enqueue(ctx, row, err); qerr != nil {
		return DeliveryResult{Status: Dropped, Attempts: 1, Err: fmt.Errorf("%w (outbox: %v)", err, qerr)}
	}
	return DeliveryResult{Status: Queued, Attempts: 1, Err: err}
}
