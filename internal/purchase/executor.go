// Package purchase executes single purchase attempts against the upstream
// provider and classifies their outcomes.
package purchase

import (
	"context"
	"errors"
	"time"

	"snipebot/internal/catalog"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

// Result is the provider's answer to one attempt.
type Result struct {
	OrderID  string
	OrderURL string

	PriceWithTax float64
	Currency     string
}

// Provider places one order for one resolved intent. A nil error means the
// order was created. Errors wrapped with Permanent() are not retried.
type Provider interface {
	AttemptPurchase(ctx context.Context, intent catalog.PurchaseIntent) (Result, error)
}

// permanentError marks a failure that no amount of retrying can fix
// (invalid plan, rejected account, malformed options).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the executor classifies it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the non-retryable mark.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Executor wraps a Provider with a per-attempt timeout and outcome
// classification. Timeouts and plain errors count as transient; only
// Permanent-wrapped errors end a task.
type Executor struct {
	provider Provider
	timeout  time.Duration
	log      logx.Logger
}

func NewExecutor(provider Provider, timeout time.Duration, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{provider: provider, timeout: timeout, log: log}
}

// Attempt runs one purchase attempt and reduces it to a queue outcome.
func (e *Executor) Attempt(ctx context.Context, intent catalog.PurchaseIntent) queue.Outcome {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.provider.AttemptPurchase(ctx, intent)
	elapsed := time.Since(start)

	if err == nil {
		e.log.Info("purchase succeeded",
			logx.String("plan", intent.PlanCode),
			logx.String("dc", intent.Datacenter),
			logx.String("order", res.OrderID),
			logx.Duration("took", elapsed))
		return queue.Outcome{
			Class:    queue.OutcomeSuccess,
			OrderID:  res.OrderID,
			OrderURL: res.OrderURL,
		}
	}

	if IsPermanent(err) {
		e.log.Warn("purchase failed permanently",
			logx.String("plan", intent.PlanCode),
			logx.String("dc", intent.Datacenter),
			logx.Err(err))
		return queue.Outcome{Class: queue.OutcomePermanent, Message: err.Error()}
	}

	e.log.Debug("purchase attempt failed",
		logx.String("plan", intent.PlanCode),
		logx.String("dc", intent.Datacenter),
		logx.Duration("took", elapsed),
		logx.Err(err))
	return queue.Outcome{Class: queue.OutcomeTransient, Message: err.Error()}
}
