package backup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
	"github.com/ruteri/wallet-key-backup/transaction"
)

// CreateRequest describes a backup share to create.
type CreateRequest struct {
	Address  interfaces.Address
	UserID   string
	UserName string

	// PIN seals the share's seed phrase in the backup record.
	PIN string

	// Store is the backend receiving the record.
	Store interfaces.BackupRecordStore

	// Authorizer is a full-weight account key signing the add-key transaction.
	Authorizer interfaces.SigningProvider

	// BackupType is reported to the account registry; defaults to the store name.
	BackupType string
}

// CreateResult is the outcome of a successful Create.
type CreateResult struct {
	Record interfaces.BackupRecord

	// TransactionID is empty when a share registered by an earlier attempt was reused.
	TransactionID interfaces.Identifier

	// Resumed is set when the share of an earlier failed attempt was reused.
	Resumed bool
}

// CreateOutcome is delivered by CreateAsync.
type CreateOutcome struct {
	Result *CreateResult
	Err    error
}

type pendingKey struct {
	address interfaces.Address
	userID  string
	backend string
}

// pendingShare is a generated share whose backup has not been uploaded yet.
type pendingShare struct {
	provider *keys.SeedPhraseProvider
}

// Create generates a new share, registers it on the account, uploads its sealed
// phrase and syncs the key with the account registry. There is no rollback: a key
// added on-chain stays there when a later step fails.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.create(ctx, req)
}

// CreateAsync runs Create on a goroutine and delivers its outcome on the returned channel.
func (o *Orchestrator) CreateAsync(ctx context.Context, req CreateRequest) <-chan CreateOutcome {
	out := make(chan CreateOutcome, 1)
	go func() {
		defer close(out)
		result, err := o.Create(ctx, req)
		out <- CreateOutcome{Result: result, Err: err}
	}()
	return out
}

func (o *Orchestrator) create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Store == nil || req.Authorizer == nil || req.UserID == "" {
		return nil, o.fail(FlowCreate, StateIdle, "", fmt.Errorf("%w: store, authorizer and user id are required", interfaces.ErrConfiguration), 0)
	}
	if req.PIN == "" {
		return nil, o.fail(FlowCreate, StateIdle, "", fmt.Errorf("%w: empty PIN", interfaces.ErrConfiguration), 0)
	}

	o.transition(FlowCreate, StateGeneratingShare, 0, nil)

	key := pendingKey{address: req.Address, userID: req.UserID, backend: req.Store.Name()}
	share, resumed := o.pending[key]
	if !resumed {
		material, err := keys.GenerateKeyMaterial(o.cfg.MnemonicWords)
		if err != nil {
			return nil, o.fail(FlowCreate, StateGeneratingShare, "", err, 0)
		}
		provider, err := material.Provider(interfaces.SHA2_256, interfaces.ShareWeight)
		if err != nil {
			return nil, o.fail(FlowCreate, StateGeneratingShare, "", err, 0)
		}
		share = &pendingShare{provider: provider}
		o.pending[key] = share
	}
	provider := share.provider

	o.transition(FlowCreate, StateRegisteringOnChain, 0, nil)

	keyIndex, txID, err := o.registerShare(ctx, req, provider, resumed)
	if err != nil {
		return nil, o.fail(FlowCreate, StateRegisteringOnChain, "", err, 0)
	}

	o.transition(FlowCreate, StateUploading, 0, nil)

	data, err := SealMnemonic(req.PIN, provider.Mnemonic())
	if err != nil {
		return nil, o.fail(FlowCreate, StateUploading, req.Store.Name(), fmt.Errorf("%w: %w", ErrKeyAddedRetryUpload, err), 0)
	}

	record := interfaces.BackupRecord{
		Address:    req.Address,
		UserID:     req.UserID,
		UserName:   req.UserName,
		PublicKey:  provider.PublicKey(),
		SignAlgo:   provider.SignatureAlgorithm(),
		HashAlgo:   provider.HashAlgorithm(),
		KeyIndex:   keyIndex,
		UpdateTime: o.now().UnixMilli(),
		Data:       data,
	}

	err = o.retry(ctx, "upsert_record", func() error {
		return req.Store.Upsert(ctx, record)
	})
	if err != nil {
		return nil, o.fail(FlowCreate, StateUploading, req.Store.Name(), fmt.Errorf("%w: %w", ErrKeyAddedRetryUpload, err), 0)
	}
	delete(o.pending, key)

	o.transition(FlowCreate, StateSyncingServer, 0, nil)

	backupType := req.BackupType
	if backupType == "" {
		backupType = req.Store.Name()
	}
	err = o.syncKey(ctx, req.Address, &interfaces.DeviceKeyRequest{
		PublicKey:  record.PublicKey,
		SignAlgo:   int(record.SignAlgo),
		HashAlgo:   int(record.HashAlgo),
		Weight:     provider.KeyWeight(),
		DeviceInfo: o.cfg.DeviceInfo,
		BackupType: backupType,
	})
	if err != nil {
		return nil, o.fail(FlowCreate, StateSyncingServer, "account-registry", err, 0)
	}

	o.log.Info("Backup created",
		slog.String("address", req.Address.String()),
		slog.String("backend", req.Store.Name()),
		slog.Int("keyIndex", keyIndex),
		slog.Bool("resumed", resumed))

	o.transition(FlowCreate, StateDone, 0, nil)
	return &CreateResult{Record: record, TransactionID: txID, Resumed: resumed}, nil
}

// registerShare adds the share key to the account, unless a resumed share is
// already there, and returns its key index.
func (o *Orchestrator) registerShare(ctx context.Context, req CreateRequest, provider interfaces.SigningProvider, resumed bool) (int, interfaces.Identifier, error) {
	if resumed {
		account, err := o.fetchAccount(ctx, req.Address)
		if err != nil {
			return 0, interfaces.Identifier{}, err
		}
		if existing, ok := account.KeyByPublicKey(provider.PublicKey()); ok {
			o.log.Info("Reusing share key registered by an earlier attempt",
				slog.String("address", req.Address.String()),
				slog.Int("keyIndex", existing.Index))
			return existing.Index, interfaces.Identifier{}, nil
		}
	}

	args, err := transaction.AddKeyArguments(provider.PublicKey(), provider.SignatureAlgorithm(), provider.HashAlgorithm(), provider.KeyWeight())
	if err != nil {
		return 0, interfaces.Identifier{}, err
	}

	v, signers, err := o.prepare(ctx, transaction.PrepareRequest{
		Address:   req.Address,
		Script:    transaction.AddKeyScript,
		Arguments: args,
	}, req.Authorizer)
	if err != nil {
		return 0, interfaces.Identifier{}, err
	}

	if err := o.sign(ctx, v, req.Address, signers); err != nil {
		return 0, interfaces.Identifier{}, err
	}

	txID, err := o.submitAndWatch(ctx, FlowCreate, v)
	if err != nil {
		return 0, txID, err
	}

	account, err := o.fetchAccount(ctx, req.Address)
	if err != nil {
		return 0, txID, err
	}
	added, ok := account.KeyByPublicKey(provider.PublicKey())
	if !ok {
		return 0, txID, fmt.Errorf("%w: share key missing after transaction %s executed", interfaces.ErrKeyNotFound, txID)
	}
	return added.Index, txID, nil
}
