package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/wallet-key-backup/api/clients"
	"github.com/ruteri/wallet-key-backup/chain/chaintest"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
	"github.com/ruteri/wallet-key-backup/storage"
	"github.com/ruteri/wallet-key-backup/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testPIN    = "135790"
	wrongPIN   = "000000"
	testSecret = "static-backup-secret"
)

var (
	accountAddr, _ = interfaces.NewAddressFromHex("0x01cf0e2f2f715450")
	payerAddr, _   = interfaces.NewAddressFromHex("0xf8d6e0586b0a20c7")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDeviceKey(t *testing.T) *keys.PrivateKeyProvider {
	t.Helper()
	key, err := keys.GeneratePrivateKey(interfaces.ECDSAP256)
	require.NoError(t, err)
	provider, err := keys.NewPrivateKeyProvider(key, interfaces.ECDSAP256, interfaces.SHA3_256, interfaces.FullWeight)
	require.NoError(t, err)
	return provider
}

func newStore(t *testing.T) *storage.BackupStore {
	t.Helper()
	driver, err := storage.NewFileDriver(t.TempDir(), testLogger())
	require.NoError(t, err)
	return storage.NewBackupStore(driver, testSecret, "", testLogger())
}

// testPayer signs envelopes in-process as a sponsoring account.
type testPayer struct {
	address interfaces.Address
	signer  interfaces.SigningProvider
	builder *transaction.Builder
}

func (p *testPayer) Address() interfaces.Address { return p.address }
func (p *testPayer) KeyIndex() int { return 0 }

func (p *testPayer) SignAsPayer(ctx context.Context, req *interfaces.PayerSignRequest) (*interfaces.PayerSignResponse, error) {
	v, err := transaction.VoucherFromPayerRequest(req)
	if err != nil {
		return nil, err
	}
	if err := p.builder.AddEnvelopeSignature(v, p.address, 0, p.signer); err != nil {
		return nil, err
	}
	return &interfaces.PayerSignResponse{EnvelopeSignature: interfaces.PayerSignature{
		Address:   p.address.String(),
		KeyID:     0,
		Signature: fmt.Sprintf("%x", v.EnvelopeSignatures[0].Signature),
	}}, nil
}

// flakyStore fails the first uploads with an I/O error.
type flakyStore struct {
	*storage.BackupStore

	mu       sync.Mutex
	failures int
	upserts  int
}

func (s *flakyStore) Upsert(ctx context.Context, record interfaces.BackupRecord) error {
	s.mu.Lock()
	s.upserts++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		return interfaces.NewSourceError(s.Name(), "write", fmt.Errorf("%w: quota exceeded", interfaces.ErrIO))
	}
	return s.BackupStore.Upsert(ctx, record)
}

type testEnv struct {
	chain    *chaintest.FakeChain
	device   *keys.PrivateKeyProvider
	registry *clients.MockAccountRegistry
	orch     *Orchestrator

	mu          sync.Mutex
	transitions []Transition
}

func setupTestEnvironment(t *testing.T, withFeePayer bool) *testEnv {
	env := &testEnv{
		chain:    chaintest.NewFakeChain(),
		device:   newDeviceKey(t),
		registry: &clients.MockAccountRegistry{},
	}
	env.chain.PendingPolls = 2
	env.chain.CreateAccount(accountAddr, env.device)
	env.registry.On("SyncDeviceKey", mock.Anything, accountAddr, mock.Anything).Return(nil)

	var feePayer interfaces.FeePayer
	if withFeePayer {
		payerKey := newDeviceKey(t)
		env.chain.CreateAccount(payerAddr, payerKey)
		payer := &testPayer{address: payerAddr, signer: payerKey}
		payer.builder = transaction.NewBuilder(nil, nil, 0, testLogger())
		feePayer = payer
	}

	builder := transaction.NewBuilder(env.chain, feePayer, 0, testLogger())
	watcher := transaction.NewWatcher(env.chain, time.Millisecond, 20, testLogger())
	env.orch = NewOrchestrator(env.chain, builder, watcher, env.registry, Config{
		RetryAttempts: 2,
		RetryInterval: time.Millisecond,
		DeviceInfo:    interfaces.DeviceInfo{DeviceID: "device-1", Name: "test", Type: "android"},
	}, testLogger())
	env.orch.Subscribe(func(tr Transition) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.transitions = append(env.transitions, tr)
	})
	t.Cleanup(env.orch.Close)
	return env
}

func (e *testEnv) states(flow Flow) []State {
	e.orch.Close()
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []State
	for _, tr := range e.transitions {
		if tr.Flow == flow {
			out = append(out, tr.To)
		}
	}
	return out
}

func (e *testEnv) create(t *testing.T, store interfaces.BackupRecordStore, userID string) *CreateResult {
	t.Helper()
	result, err := e.orch.Create(context.Background(), CreateRequest{
		Address:    accountAddr,
		UserID:     userID,
		UserName:   "alice",
		PIN:        testPIN,
		Store:      store,
		Authorizer: e.device,
	})
	require.NoError(t, err)
	return result
}

func TestCreateThenRestore(t *testing.T) {
	for _, withFeePayer := range []bool{false, true} {
		t.Run(fmt.Sprintf("feePayer=%v", withFeePayer), func(t *testing.T) {
			ctx := context.Background()
			env := setupTestEnvironment(t, withFeePayer)
			storeA, storeB := newStore(t), newStore(t)

			first := env.create(t, storeA, "user-1")
			second := env.create(t, storeB, "user-1")

			assert.Equal(t, 1, first.Record.KeyIndex)
			assert.Equal(t, 2, second.Record.KeyIndex)
			assert.NotEqual(t, interfaces.EmptyIdentifier, first.TransactionID)
			assert.False(t, first.Resumed)

			account := env.chain.Account(accountAddr)
			require.Len(t, account.Keys, 3)
			assert.Equal(t, interfaces.ShareWeight, account.Keys[1].Weight)
			assert.Equal(t, interfaces.SHA2_256, account.Keys[1].HashAlgo)

			records, err := storeA.LoadRecords(ctx)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, first.Record.PublicKey, records[0].PublicKey)
			assert.Equal(t, accountAddr, records[0].Address)

			newDevice := newDeviceKey(t)
			result, err := env.orch.Restore(ctx, RestoreRequest{
				Address: accountAddr,
				Sources: []ShareSource{
					{Store: storeA, UserID: "user-1", PIN: testPIN},
					{Store: storeB, UserID: "user-1", PIN: testPIN},
				},
				DeviceKey: newDevice,
			})
			require.NoError(t, err)
			assert.Equal(t, 3, result.DeviceKeyIndex)
			assert.Equal(t, 2, result.Shares)
			assert.Equal(t, StateDone, env.orch.State())

			key, ok := env.chain.Account(accountAddr).KeyByPublicKey(newDevice.PublicKey())
			require.True(t, ok)
			assert.Equal(t, interfaces.FullWeight, key.Weight)

			sent := env.chain.Sent()
			restoreTx := sent[len(sent)-1]
			if withFeePayer {
				assert.Len(t, restoreTx.PayloadSignatures, 2)
				require.Len(t, restoreTx.EnvelopeSignatures, 1)
				assert.Equal(t, payerAddr, restoreTx.EnvelopeSignatures[0].Address)
			} else {
				assert.Empty(t, restoreTx.PayloadSignatures)
				assert.Len(t, restoreTx.EnvelopeSignatures, 2)
			}

			env.registry.AssertNumberOfCalls(t, "SyncDeviceKey", 3)
		})
	}
}

func TestCreate_Transitions(t *testing.T) {
	env := setupTestEnvironment(t, false)
	env.create(t, newStore(t), "user-1")

	assert.Equal(t, []State{
		StateGeneratingShare,
		StateRegisteringOnChain,
		StateUploading,
		StateSyncingServer,
		StateDone,
	}, env.states(FlowCreate))
}

func TestCreate_RegistrySyncRequest(t *testing.T) {
	env := setupTestEnvironment(t, false)
	env.registry = &clients.MockAccountRegistry{}
	env.orch.registry = env.registry
	env.registry.On("SyncDeviceKey", mock.Anything, accountAddr, mock.MatchedBy(func(req *interfaces.DeviceKeyRequest) bool {
		return req.Weight == interfaces.ShareWeight &&
			req.SignAlgo == int(interfaces.ECDSAP256) &&
			req.HashAlgo == int(interfaces.SHA2_256) &&
			req.BackupType == "google-drive" &&
			req.DeviceInfo.DeviceID == "device-1"
	})).Return(fmt.Errorf("%w: registry unavailable", interfaces.ErrIO)).Once()
	env.registry.On("SyncDeviceKey", mock.Anything, accountAddr, mock.Anything).Return(nil).Once()

	_, err := env.orch.Create(context.Background(), CreateRequest{
		Address:    accountAddr,
		UserID:     "user-1",
		PIN:        testPIN,
		Store:      newStore(t),
		Authorizer: env.device,
		BackupType: "google-drive",
	})
	require.NoError(t, err)
	env.registry.AssertExpectations(t)
}

func TestRestore_WrongPin(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnvironment(t, false)
	store := newStore(t)
	env.create(t, store, "user-1")

	env.orch.BeginRestore(accountAddr)
	progress, err := env.orch.CollectShare(ctx, ShareSource{Store: store, UserID: "user-1", PIN: wrongPIN})
	require.ErrorIs(t, err, interfaces.ErrDecryption)
	assert.Equal(t, StateWrongPin, env.orch.State())
	assert.Equal(t, 0, progress.Shares)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, FlowRestore, stepErr.Flow)
	assert.Equal(t, StateCollectingShares, stepErr.Step)
	assert.Equal(t, store.Name(), stepErr.Source)

	progress, err = env.orch.CollectShare(ctx, ShareSource{Store: store, UserID: "user-1", PIN: testPIN})
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Shares)
	assert.Equal(t, interfaces.ShareWeight, progress.Weight)
	assert.False(t, progress.Ready)
	assert.Equal(t, StateCollectingShares, env.orch.State())
}

func TestRestore_NotFound(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnvironment(t, false)
	store := newStore(t)

	env.orch.BeginRestore(accountAddr)
	_, err := env.orch.CollectShare(ctx, ShareSource{Store: store, UserID: "user-1", PIN: testPIN})
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.NotErrorIs(t, err, interfaces.ErrDecryption)
	assert.Equal(t, StateNotFound, env.orch.State())

	env.create(t, store, "user-1")
	_, err = env.orch.CollectShare(ctx, ShareSource{Store: store, UserID: "user-2", PIN: testPIN})
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRestore_Incomplete(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnvironment(t, false)
	store := newStore(t)
	env.create(t, store, "user-1")

	env.orch.BeginRestore(accountAddr)
	_, err := env.orch.CollectShare(ctx, ShareSource{Store: store, UserID: "user-1", PIN: testPIN})
	require.NoError(t, err)

	// The same share twice does not count twice.
	progress, err := env.orch.CollectShare(ctx, ShareSource{Store: store, UserID: "user-1", PIN: testPIN})
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Shares)

	sentBefore := len(env.chain.Sent())
	_, err = env.orch.CompleteRestore(ctx, RestoreRequest{DeviceKey: newDeviceKey(t)})
	require.ErrorIs(t, err, ErrRestoreIncomplete)
	assert.Equal(t, StateFailed, env.orch.State())
	assert.Len(t, env.chain.Sent(), sentBefore)
}

func TestRestore_ManualPhraseAndAsync(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnvironment(t, false)
	storeA, storeB := newStore(t), newStore(t)
	env.create(t, storeA, "user-1")
	second := env.create(t, storeB, "user-1")

	mnemonic, err := OpenMnemonic(testPIN, second.Record.Data)
	require.NoError(t, err)

	// Earlier collections are discarded by BeginRestore.
	env.orch.BeginRestore(accountAddr)
	_, err = env.orch.CollectShare(ctx, ShareSource{Store: storeA, UserID: "user-1", PIN: testPIN})
	require.NoError(t, err)
	env.orch.BeginRestore(accountAddr)

	_, err = env.orch.CollectShare(ctx, ShareSource{Store: storeA, UserID: "user-1", PIN: testPIN})
	require.NoError(t, err)
	progress, err := env.orch.CollectShare(ctx, ShareSource{Mnemonic: mnemonic})
	require.NoError(t, err)
	assert.True(t, progress.Ready)

	outcome := <-env.orch.CompleteRestoreAsync(ctx, RestoreRequest{DeviceKey: newDeviceKey(t)})
	require.NoError(t, outcome.Err)
	assert.Equal(t, 2, outcome.Result.Shares)

	_, err = env.orch.CollectShare(ctx, ShareSource{Mnemonic: mnemonic})
	require.ErrorIs(t, err, ErrNoRestore)

	assert.Equal(t, []State{
		StateCollectingShares,
		StateCollectingShares,
		StateCollectingShares,
		StateCollectingShares,
		StateCollectingShares,
		StateBuildingMultiSigTx,
		StateWatchingTransaction,
		StateSyncingAccount,
		StateDone,
	}, env.states(FlowRestore))
}

func TestRestore_RevokedShare(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnvironment(t, false)
	storeA, storeB := newStore(t), newStore(t)
	first := env.create(t, storeA, "user-1")
	env.create(t, storeB, "user-1")

	env.chain.RevokeKey(accountAddr, first.Record.KeyIndex)

	_, err := env.orch.Restore(ctx, RestoreRequest{
		Address: accountAddr,
		Sources: []ShareSource{
			{Store: storeA, UserID: "user-1", PIN: testPIN},
			{Store: storeB, UserID: "user-1", PIN: testPIN},
		},
		DeviceKey: newDeviceKey(t),
	})
	require.ErrorIs(t, err, interfaces.ErrKeyNotFound)
	assert.Equal(t, StateFailed, env.orch.State())
}

func TestRestore_UnknownAccountFails(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnvironment(t, false)

	var sources []ShareSource
	for i := 0; i < 2; i++ {
		mnemonic, err := keys.NewMnemonic(keys.DefaultMnemonicWords)
		require.NoError(t, err)
		sources = append(sources, ShareSource{Mnemonic: mnemonic})
	}

	unknown, err := interfaces.NewAddressFromHex("0x00000000deadbeef")
	require.NoError(t, err)

	_, err = env.orch.Restore(ctx, RestoreRequest{Address: unknown, Sources: sources, DeviceKey: newDeviceKey(t)})
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StateBuildingMultiSigTx, stepErr.Step)
	assert.Equal(t, StateFailed, env.orch.State())
}

func TestCreate_ResumesAfterUploadFailure(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnvironment(t, false)
	store := &flakyStore{BackupStore: newStore(t), failures: 3}

	_, err := env.orch.Create(ctx, CreateRequest{
		Address:    accountAddr,
		UserID:     "user-1",
		PIN:        testPIN,
		Store:      store,
		Authorizer: env.device,
	})
	require.ErrorIs(t, err, ErrKeyAddedRetryUpload)
	require.ErrorIs(t, err, interfaces.ErrIO)
	assert.Equal(t, StateFailed, env.orch.State())
	assert.Equal(t, 3, store.upserts, "one attempt plus two retries")

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StateUploading, stepErr.Step)
	assert.Equal(t, store.Name(), stepErr.Source)

	require.Len(t, env.chain.Account(accountAddr).Keys, 2)
	sentBefore := len(env.chain.Sent())

	report, err := env.orch.Reconcile(ctx, accountAddr, store, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileRecordMissing, report.Status)
	assert.Equal(t, 1, report.Key.Index)

	result, err := env.orch.Create(ctx, CreateRequest{
		Address:    accountAddr,
		UserID:     "user-1",
		PIN:        testPIN,
		Store:      store,
		Authorizer: env.device,
	})
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, interfaces.EmptyIdentifier, result.TransactionID)
	assert.Equal(t, 1, result.Record.KeyIndex)
	assert.Len(t, env.chain.Sent(), sentBefore, "no second add-key transaction")
	assert.Len(t, env.chain.Account(accountAddr).Keys, 2)

	report, err = env.orch.Reconcile(ctx, accountAddr, store, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileInSync, report.Status)
}

func TestCreate_NotResubmittedOnSendFailure(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnvironment(t, false)
	env.chain.SendErr = fmt.Errorf("%w: access node unavailable", interfaces.ErrIO)

	outcome := <-env.orch.CreateAsync(ctx, CreateRequest{
		Address:    accountAddr,
		UserID:     "user-1",
		PIN:        testPIN,
		Store:      newStore(t),
		Authorizer: env.device,
	})
	require.ErrorIs(t, outcome.Err, interfaces.ErrIO)
	assert.NotErrorIs(t, outcome.Err, ErrKeyAddedRetryUpload)

	var stepErr *StepError
	require.True(t, errors.As(outcome.Err, &stepErr))
	assert.Equal(t, StateRegisteringOnChain, stepErr.Step)
	assert.Empty(t, env.chain.Sent())
}

func TestCreate_InvalidRequest(t *testing.T) {
	env := setupTestEnvironment(t, false)

	_, err := env.orch.Create(context.Background(), CreateRequest{
		Address:    accountAddr,
		UserID:     "user-1",
		Store:      newStore(t),
		Authorizer: env.device,
	})
	require.ErrorIs(t, err, interfaces.ErrConfiguration)
	assert.False(t, interfaces.IsRetryable(err))
}

func TestReconcile_KeyMissingAndNoBackup(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnvironment(t, false)
	store := newStore(t)

	report, err := env.orch.Reconcile(ctx, accountAddr, store, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileNoBackup, report.Status)

	created := env.create(t, store, "user-1")
	env.chain.RevokeKey(accountAddr, created.Record.KeyIndex)

	report, err = env.orch.Reconcile(ctx, accountAddr, store, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileKeyMissing, report.Status)
	assert.Equal(t, created.Record.PublicKey, report.Record.PublicKey)
}
