package backup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
	"github.com/ruteri/wallet-key-backup/transaction"
)

// Retry defaults.
const (
	DefaultRetryAttempts = 3
	DefaultRetryInterval = 500 * time.Millisecond
)

// Config tunes the orchestrator.
type Config struct {
	// RetryAttempts bounds retries of idempotent steps failing with ErrIO.
	RetryAttempts uint64

	// RetryInterval is the initial backoff between retries.
	RetryInterval time.Duration

	// MnemonicWords is the length of generated share phrases.
	MnemonicWords int

	// DeviceInfo is reported to the account registry.
	DeviceInfo interfaces.DeviceInfo
}

// Orchestrator runs the create-backup and restore flows. It runs one flow at a
// time; concurrent calls wait for the running flow to end.
type Orchestrator struct {
	chain    interfaces.ChainClient
	builder  *transaction.Builder
	watcher  *transaction.Watcher
	registry interfaces.AccountRegistry
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	// mu serializes flows.
	mu sync.Mutex

	stateMu sync.Mutex
	state   State

	pending map[pendingKey]*pendingShare
	restore *restoreSession

	notifier *notifier
}

// NewOrchestrator creates an orchestrator. registry may be nil to skip account sync.
// Close must be called to stop the observer goroutine.
func NewOrchestrator(chain interfaces.ChainClient, builder *transaction.Builder, watcher *transaction.Watcher, registry interfaces.AccountRegistry, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.MnemonicWords == 0 {
		cfg.MnemonicWords = keys.DefaultMnemonicWords
	}

	return &Orchestrator{
		chain:    chain,
		builder:  builder,
		watcher:  watcher,
		registry: registry,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		state:    StateIdle,
		pending:  make(map[pendingKey]*pendingShare),
		notifier: newNotifier(),
	}
}

// Subscribe registers an observer for state transitions.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.notifier.subscribe(obs)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

// Close delivers pending transitions and stops the observer goroutine.
func (o *Orchestrator) Close() {
	o.notifier.close()
}

func (o *Orchestrator) transition(flow Flow, to State, shares int, err error) {
	o.stateMu.Lock()
	from := o.state
	o.state = to
	o.stateMu.Unlock()

	o.log.Debug("Backup state changed",
		slog.String("flow", string(flow)),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	o.notifier.publish(Transition{Flow: flow, From: from, To: to, Shares: shares, Err: err})
}

// fail moves the flow to the terminal state matching err and wraps it in a StepError.
func (o *Orchestrator) fail(flow Flow, step State, source string, err error, shares int) error {
	stepErr := &StepError{Flow: flow, Step: step, Source: source, Err: err}
	if source == "" {
		var srcErr *interfaces.SourceError
		if errors.As(err, &srcErr) {
			stepErr.Source = srcErr.Source
		}
	}

	o.log.Warn("Backup flow failed",
		slog.String("flow", string(flow)),
		slog.String("step", step.String()),
		slog.String("source", stepErr.Source),
		"err", err)

	to := StateFailed
	if flow == FlowRestore {
		to = failureState(step, err)
	}
	o.transition(flow, to, shares, stepErr)
	return stepErr
}

// retry runs an idempotent operation, retrying ErrIO failures with exponential backoff.
func (o *Orchestrator) retry(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.cfg.RetryInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, o.cfg.RetryAttempts), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || errors.Is(err, interfaces.ErrIO) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		o.log.Warn("Retrying operation",
			slog.String("op", op),
			slog.Duration("wait", wait),
			"err", err)
	})
}

// fetchAccount reads the account with retries.
func (o *Orchestrator) fetchAccount(ctx context.Context, address interfaces.Address) (*interfaces.Account, error) {
	var account *interfaces.Account
	err := o.retry(ctx, "get_account", func() error {
		var err error
		account, err = o.chain.GetAccount(ctx, address)
		return err
	})
	return account, err
}

// prepare builds a voucher with retries; only chain reads happen before signing.
func (o *Orchestrator) prepare(ctx context.Context, req transaction.PrepareRequest, proposer interfaces.SigningProvider, signers ...interfaces.SigningProvider) (*transaction.Voucher, []transaction.SignerKey, error) {
	var (
		v    *transaction.Voucher
		keys []transaction.SignerKey
	)
	err := o.retry(ctx, "prepare", func() error {
		var err error
		v, keys, err = o.builder.PrepareMulti(ctx, req, proposer, signers...)
		return err
	})
	return v, keys, err
}

// sign attaches every signer's signature. A self-paying account signs the envelope
// with every key; otherwise the keys sign the payload and the fee payer signs the
// envelope.
func (o *Orchestrator) sign(ctx context.Context, v *transaction.Voucher, address interfaces.Address, signers []transaction.SignerKey) error {
	if v.SelfPaying() {
		for _, s := range signers {
			if err := o.builder.AddEnvelopeSignature(v, address, s.KeyIndex, s.Provider); err != nil {
				return err
			}
		}
		return nil
	}

	if err := o.builder.AddPayloadSignatures(v, address, signers); err != nil {
		return err
	}
	return o.retry(ctx, "sign_as_payer", func() error {
		return o.builder.AddRemoteEnvelopeSignature(ctx, v)
	})
}

// submitAndWatch submits once and follows the transaction until it executes.
func (o *Orchestrator) submitAndWatch(ctx context.Context, flow Flow, v *transaction.Voucher) (interfaces.Identifier, error) {
	id, err := o.builder.Submit(ctx, v)
	if err != nil {
		return interfaces.Identifier{}, err
	}

	sub := o.watcher.Watch(ctx, id)
	defer sub.Unsubscribe()

	var last transaction.StatusUpdate
	for update := range sub.Updates() {
		if update.Err == nil {
			o.log.Debug("Transaction status",
				slog.String("flow", string(flow)),
				slog.String("txId", id.String()),
				slog.String("status", update.Result.Status.String()))
		}
		last = update
	}

	if last.Err != nil {
		return id, last.Err
	}
	if !last.Result.Status.Settled() {
		if err := ctx.Err(); err != nil {
			return id, err
		}
		return id, transaction.ErrNotSealed
	}
	return id, nil
}

// syncKey reports a registered key to the account registry, when configured.
func (o *Orchestrator) syncKey(ctx context.Context, address interfaces.Address, req *interfaces.DeviceKeyRequest) error {
	if o.registry == nil {
		return nil
	}
	return o.retry(ctx, "sync_device_key", func() error {
		return o.registry.SyncDeviceKey(ctx, address, req)
	})
}
