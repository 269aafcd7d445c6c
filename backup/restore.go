package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
	"github.com/ruteri/wallet-key-backup/transaction"
)

// MinRestoreShares is the fewest shares a restore accepts.
const MinRestoreShares = 2

// ShareSource locates one share: either a backup record (Store, UserID and PIN) or
// a seed phrase entered by the user (Mnemonic).
type ShareSource struct {
	Store  interfaces.BackupRecordStore
	UserID string
	PIN    string

	Mnemonic string
}

func (s ShareSource) name() string {
	if s.Mnemonic != "" {
		return "manual"
	}
	if s.Store != nil {
		return s.Store.Name()
	}
	return ""
}

// Progress reports the shares collected so far.
type Progress struct {
	Shares int
	Weight int
	Ready  bool
}

// RestoreRequest finishes a restore by registering DeviceKey on the account.
type RestoreRequest struct {
	Address interfaces.Address

	// Sources is used by Restore only; CompleteRestore uses the collected shares.
	Sources []ShareSource

	// DeviceKey is the new full-weight key of this device.
	DeviceKey interfaces.SigningProvider
}

// RestoreResult is the outcome of a successful restore.
type RestoreResult struct {
	TransactionID  interfaces.Identifier
	DeviceKeyIndex int
	Shares         int
}

// RestoreOutcome is delivered by RestoreAsync and CompleteRestoreAsync.
type RestoreOutcome struct {
	Result *RestoreResult
	Err    error
}

type restoreSession struct {
	address interfaces.Address
	shares  []*keys.SeedPhraseProvider
}

func (s *restoreSession) progress() Progress {
	p := Progress{Shares: len(s.shares)}
	for _, share := range s.shares {
		p.Weight += share.KeyWeight()
	}
	p.Ready = p.Shares >= MinRestoreShares && p.Weight >= interfaces.FullWeight
	return p
}

// BeginRestore starts collecting shares for address, discarding any earlier collection.
func (o *Orchestrator) BeginRestore(address interfaces.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.beginRestore(address)
}

func (o *Orchestrator) beginRestore(address interfaces.Address) {
	o.restore = &restoreSession{address: address}
	o.transition(FlowRestore, StateCollectingShares, 0, nil)
}

// CollectShare recovers one share. A missing file or record ends in NotFound and a
// PIN or phrase that does not decrypt ends in WrongPin; either way the collection
// stays open and the share can be retried.
func (o *Orchestrator) CollectShare(ctx context.Context, src ShareSource) (Progress, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.collectShare(ctx, src)
}

func (o *Orchestrator) collectShare(ctx context.Context, src ShareSource) (Progress, error) {
	session := o.restore
	if session == nil {
		return Progress{}, ErrNoRestore
	}

	provider, err := o.recoverShare(ctx, session.address, src)
	if err != nil {
		return session.progress(), o.fail(FlowRestore, StateCollectingShares, src.name(), err, len(session.shares))
	}

	duplicate := false
	for _, share := range session.shares {
		if share.PublicKey() == provider.PublicKey() {
			duplicate = true
			break
		}
	}
	if !duplicate {
		session.shares = append(session.shares, provider)
	}

	progress := session.progress()
	o.log.Info("Collected backup share",
		slog.String("source", src.name()),
		slog.Int("shares", progress.Shares),
		slog.Int("weight", progress.Weight),
		slog.Bool("duplicate", duplicate))

	o.transition(FlowRestore, StateCollectingShares, progress.Shares, nil)
	return progress, nil
}

func (o *Orchestrator) recoverShare(ctx context.Context, address interfaces.Address, src ShareSource) (*keys.SeedPhraseProvider, error) {
	if src.Mnemonic != "" {
		return keys.NewSeedPhraseProvider(src.Mnemonic)
	}
	if src.Store == nil || src.UserID == "" {
		return nil, fmt.Errorf("%w: share source needs a store and user id or a phrase", interfaces.ErrConfiguration)
	}

	var record *interfaces.BackupRecord
	err := o.retry(ctx, "find_record", func() error {
		var err error
		record, err = src.Store.Find(ctx, src.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if record.Address != interfaces.EmptyAddress && record.Address != address {
		return nil, fmt.Errorf("%w: record of %s belongs to %s", interfaces.ErrNotFound, src.UserID, record.Address)
	}

	mnemonic, err := OpenMnemonic(src.PIN, record.Data)
	if err != nil {
		return nil, err
	}

	provider, err := keys.NewSeedPhraseProvider(mnemonic)
	if err != nil {
		return nil, err
	}
	if !sameKey(provider.PublicKey(), record.PublicKey) {
		return nil, fmt.Errorf("%w: recovered key does not match record", interfaces.ErrDecryption)
	}
	return provider, nil
}

// CompleteRestore registers req.DeviceKey with a transaction signed by every
// collected share and syncs it with the account registry.
func (o *Orchestrator) CompleteRestore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completeRestore(ctx, req)
}

// CompleteRestoreAsync runs CompleteRestore on a goroutine.
func (o *Orchestrator) CompleteRestoreAsync(ctx context.Context, req RestoreRequest) <-chan RestoreOutcome {
	out := make(chan RestoreOutcome, 1)
	go func() {
		defer close(out)
		result, err := o.CompleteRestore(ctx, req)
		out <- RestoreOutcome{Result: result, Err: err}
	}()
	return out
}

// Restore collects every source and completes the restore in one call.
func (o *Orchestrator) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.beginRestore(req.Address)
	for _, src := range req.Sources {
		if _, err := o.collectShare(ctx, src); err != nil {
			return nil, err
		}
	}
	return o.completeRestore(ctx, req)
}

// RestoreAsync runs Restore on a goroutine.
func (o *Orchestrator) RestoreAsync(ctx context.Context, req RestoreRequest) <-chan RestoreOutcome {
	out := make(chan RestoreOutcome, 1)
	go func() {
		defer close(out)
		result, err := o.Restore(ctx, req)
		out <- RestoreOutcome{Result: result, Err: err}
	}()
	return out
}

func (o *Orchestrator) completeRestore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	session := o.restore
	if session == nil {
		return nil, ErrNoRestore
	}
	if req.DeviceKey == nil {
		return nil, o.fail(FlowRestore, StateCollectingShares, "", fmt.Errorf("%w: device key is required", interfaces.ErrConfiguration), len(session.shares))
	}

	n := len(session.shares)
	progress := session.progress()
	if !progress.Ready {
		return nil, o.fail(FlowRestore, StateCollectingShares, "", fmt.Errorf("%w: %d shares with weight %d", ErrRestoreIncomplete, progress.Shares, progress.Weight), n)
	}

	o.transition(FlowRestore, StateBuildingMultiSigTx, n, nil)

	args, err := transaction.AddKeyArguments(req.DeviceKey.PublicKey(), req.DeviceKey.SignatureAlgorithm(), req.DeviceKey.HashAlgorithm(), req.DeviceKey.KeyWeight())
	if err != nil {
		return nil, o.fail(FlowRestore, StateBuildingMultiSigTx, "", err, n)
	}

	providers := make([]interfaces.SigningProvider, 0, n)
	for _, share := range session.shares {
		providers = append(providers, share)
	}

	v, signers, err := o.prepare(ctx, transaction.PrepareRequest{
		Address:   session.address,
		Script:    transaction.AddKeyScript,
		Arguments: args,
	}, providers[0], providers[1:]...)
	if err != nil {
		return nil, o.fail(FlowRestore, StateBuildingMultiSigTx, "", err, n)
	}

	weight := 0
	for _, s := range signers {
		weight += s.Weight
	}
	if weight < interfaces.FullWeight {
		return nil, o.fail(FlowRestore, StateBuildingMultiSigTx, "", fmt.Errorf("%w: on-chain weight %d", ErrRestoreIncomplete, weight), n)
	}

	if err := o.sign(ctx, v, session.address, signers); err != nil {
		return nil, o.fail(FlowRestore, StateBuildingMultiSigTx, "", err, n)
	}

	o.transition(FlowRestore, StateWatchingTransaction, n, nil)

	txID, err := o.submitAndWatch(ctx, FlowRestore, v)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			// A transaction that cannot be found is a chain failure, not a missing backup.
			err = fmt.Errorf("%w: %v", interfaces.ErrIO, err)
		}
		return nil, o.fail(FlowRestore, StateWatchingTransaction, "", err, n)
	}

	o.transition(FlowRestore, StateSyncingAccount, n, nil)

	account, err := o.fetchAccount(ctx, session.address)
	if err != nil {
		return nil, o.fail(FlowRestore, StateSyncingAccount, "", err, n)
	}
	deviceKey, ok := account.KeyByPublicKey(req.DeviceKey.PublicKey())
	if !ok {
		return nil, o.fail(FlowRestore, StateSyncingAccount, "", fmt.Errorf("%w: device key missing after transaction %s executed", interfaces.ErrKeyNotFound, txID), n)
	}

	err = o.syncKey(ctx, session.address, &interfaces.DeviceKeyRequest{
		PublicKey:  req.DeviceKey.PublicKey(),
		SignAlgo:   int(req.DeviceKey.SignatureAlgorithm()),
		HashAlgo:   int(req.DeviceKey.HashAlgorithm()),
		Weight:     req.DeviceKey.KeyWeight(),
		DeviceInfo: o.cfg.DeviceInfo,
	})
	if err != nil {
		return nil, o.fail(FlowRestore, StateSyncingAccount, "account-registry", err, n)
	}

	o.log.Info("Account restored",
		slog.String("address", session.address.String()),
		slog.String("txId", txID.String()),
		slog.Int("deviceKeyIndex", deviceKey.Index),
		slog.Int("shares", n))

	o.restore = nil
	o.transition(FlowRestore, StateDone, n, nil)
	return &RestoreResult{TransactionID: txID, DeviceKeyIndex: deviceKey.Index, Shares: n}, nil
}
