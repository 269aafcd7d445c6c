package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/wallet-key-backup/interfaces"
)

// Watcher defaults.
const (
	DefaultPollInterval = time.Second
	DefaultMaxPolls     = 60
)

var (
	// ErrNotSealed is returned when polling gives up before the transaction executes.
	ErrNotSealed = fmt.Errorf("%w: transaction not executed in time", interfaces.ErrIO)

	// ErrExpired is returned when the transaction expired before execution.
	ErrExpired = fmt.Errorf("%w: transaction expired", interfaces.ErrProtocolRejection)

	errPending = errors.New("transaction pending")
)

// StatusUpdate is one observed status change. The last update of a subscription
// carries the final result or the error that ended the watch.
type StatusUpdate struct {
	Result interfaces.TransactionResult
	Err    error
}

// Subscription delivers status updates for one transaction until it is executed,
// fails, or is unsubscribed.
type Subscription struct {
	updates chan StatusUpdate
	cancel  context.CancelFunc
	once    sync.Once
	done    chan struct{}
}

// Updates returns the update channel. It is closed when the watch ends.
func (s *Subscription) Updates() <-chan StatusUpdate {
	return s.updates
}

// Unsubscribe stops polling and waits for the poller to exit. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.done
}

// Watcher polls transaction results until they are executed or sealed.
type Watcher struct {
	chain    interfaces.ChainClient
	interval time.Duration
	maxPolls uint64
	log      *slog.Logger
}

// NewWatcher creates a watcher polling every interval, at most maxPolls times.
func NewWatcher(chain interfaces.ChainClient, interval time.Duration, maxPolls uint64, log *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxPolls == 0 {
		maxPolls = DefaultMaxPolls
	}
	return &Watcher{chain: chain, interval: interval, maxPolls: maxPolls, log: log}
}

// Watch starts polling id and returns a cancellable subscription.
func (w *Watcher) Watch(ctx context.Context, id interfaces.Identifier) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		updates: make(chan StatusUpdate, 8),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.updates)
		defer cancel()

		final, err := w.poll(ctx, id, func(result interfaces.TransactionResult) {
			select {
			case sub.updates <- StatusUpdate{Result: result}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case sub.updates <- StatusUpdate{Result: final, Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return sub
}

// Wait blocks until id is executed or sealed and returns its result. A transaction
// that failed execution returns ErrProtocolRejection along with the result.
func (w *Watcher) Wait(ctx context.Context, id interfaces.Identifier) (*interfaces.TransactionResult, error) {
	sub := w.Watch(ctx, id)
	defer sub.Unsubscribe()

	var last StatusUpdate
	for update := range sub.Updates() {
		last = update
		if update.Err != nil {
			break
		}
	}

	if last.Err != nil {
		return &last.Result, last.Err
	}
	if !last.Result.Status.Settled() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotSealed
	}
	return &last.Result, nil
}

func (w *Watcher) poll(ctx context.Context, id interfaces.Identifier, notify func(interfaces.TransactionResult)) (interfaces.TransactionResult, error) {
	var (
		last  = interfaces.TransactionStatusUnknown
		final interfaces.TransactionResult
	)

	operation := func() error {
		result, err := w.chain.GetTransactionResult(ctx, id)
		if err != nil {
			if !errors.Is(err, interfaces.ErrIO) && !errors.Is(err, interfaces.ErrNotFound) {
				return backoff.Permanent(err)
			}
			w.log.Debug("Transaction result unavailable", slog.String("txId", id.String()), "err", err)
			return err
		}

		final = *result
		if result.Status != last {
			last = result.Status
			notify(*result)
		}

		switch {
		case result.Status == interfaces.TransactionStatusExpired:
			return backoff.Permanent(ErrExpired)
		case result.Status.Settled() && result.Failed():
			return backoff.Permanent(fmt.Errorf("%w: %s", interfaces.ErrProtocolRejection, result.ErrorMessage))
		case result.Status.Settled():
			return nil
		default:
			return errPending
		}
	}

	// The first poll is not a retry.
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(w.interval), w.maxPolls-1), ctx)
	err := backoff.Retry(operation, policy)
	switch {
	case err == nil:
		w.log.Info("Transaction executed", slog.String("txId", id.String()), slog.String("status", final.Status.String()))
		return final, nil
	case errors.Is(err, errPending):
		return final, ErrNotSealed
	default:
		return final, err
	}
}
