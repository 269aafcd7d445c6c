package transaction_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockChainClient implements interfaces.ChainClient for testing
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) GetAccount(ctx context.Context, address interfaces.Address) (*interfaces.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Account), args.Error(1)
}

func (m *MockChainClient) GetLatestSealedBlock(ctx context.Context) (*interfaces.Block, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Block), args.Error(1)
}

func (m *MockChainClient) SendTransaction(ctx context.Context, tx *interfaces.SignedTransaction) (interfaces.Identifier, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(interfaces.Identifier), args.Error(1)
}

func (m *MockChainClient) GetTransactionResult(ctx context.Context, id interfaces.Identifier) (*interfaces.TransactionResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.TransactionResult), args.Error(1)
}

func result(status interfaces.TransactionStatus, errMsg string) *interfaces.TransactionResult {
	return &interfaces.TransactionResult{Status: status, ErrorMessage: errMsg}
}

func TestWatcher_UpdatesUntilExecuted(t *testing.T) {
	id := interfaces.Identifier{1}
	chain := &MockChainClient{}
	chain.On("GetTransactionResult", mock.Anything, id).Return(result(interfaces.TransactionStatusPending, ""), nil).Twice()
	chain.On("GetTransactionResult", mock.Anything, id).Return(nil, fmt.Errorf("%w: timeout", interfaces.ErrIO)).Once()
	chain.On("GetTransactionResult", mock.Anything, id).Return(result(interfaces.TransactionStatusFinalized, ""), nil).Once()
	chain.On("GetTransactionResult", mock.Anything, id).Return(result(interfaces.TransactionStatusExecuted, ""), nil).Once()

	watcher := transaction.NewWatcher(chain, time.Millisecond, 10, testLogger())
	sub := watcher.Watch(context.Background(), id)
	defer sub.Unsubscribe()

	var statuses []interfaces.TransactionStatus
	for update := range sub.Updates() {
		require.NoError(t, update.Err)
		statuses = append(statuses, update.Result.Status)
	}

	assert.Equal(t, []interfaces.TransactionStatus{
		interfaces.TransactionStatusPending,
		interfaces.TransactionStatusFinalized,
		interfaces.TransactionStatusExecuted,
	}, statuses)
	chain.AssertExpectations(t)
}

func TestWatcher_ExecutedWithError(t *testing.T) {
	id := interfaces.Identifier{6}
	chain := &MockChainClient{}
	chain.On("GetTransactionResult", mock.Anything, id).Return(result(interfaces.TransactionStatusExecuted, "cadence runtime error"), nil).Once()

	res, err := transaction.NewWatcher(chain, time.Millisecond, 10, testLogger()).Wait(context.Background(), id)
	require.ErrorIs(t, err, interfaces.ErrProtocolRejection)
	assert.Contains(t, err.Error(), "cadence runtime error")
	assert.Equal(t, interfaces.TransactionStatusExecuted, res.Status)
	chain.AssertExpectations(t)
}

func TestWatcher_Expired(t *testing.T) {
	id := interfaces.Identifier{2}
	chain := &MockChainClient{}
	chain.On("GetTransactionResult", mock.Anything, id).Return(result(interfaces.TransactionStatusExpired, ""), nil)

	_, err := transaction.NewWatcher(chain, time.Millisecond, 10, testLogger()).Wait(context.Background(), id)
	require.ErrorIs(t, err, transaction.ErrExpired)
	require.ErrorIs(t, err, interfaces.ErrProtocolRejection)
}

func TestWatcher_GivesUpAfterMaxPolls(t *testing.T) {
	id := interfaces.Identifier{3}
	chain := &MockChainClient{}
	chain.On("GetTransactionResult", mock.Anything, id).Return(result(interfaces.TransactionStatusPending, ""), nil)

	_, err := transaction.NewWatcher(chain, time.Millisecond, 3, testLogger()).Wait(context.Background(), id)
	require.ErrorIs(t, err, transaction.ErrNotSealed)
	chain.AssertNumberOfCalls(t, "GetTransactionResult", 3)
}

func TestWatcher_PermanentClientError(t *testing.T) {
	id := interfaces.Identifier{4}
	chain := &MockChainClient{}
	chain.On("GetTransactionResult", mock.Anything, id).Return(nil, fmt.Errorf("%w: bad request", interfaces.ErrConfiguration))

	_, err := transaction.NewWatcher(chain, time.Millisecond, 10, testLogger()).Wait(context.Background(), id)
	require.ErrorIs(t, err, interfaces.ErrConfiguration)
	chain.AssertNumberOfCalls(t, "GetTransactionResult", 1)
}

func TestWatcher_Unsubscribe(t *testing.T) {
	id := interfaces.Identifier{5}
	chain := &MockChainClient{}
	chain.On("GetTransactionResult", mock.Anything, id).Return(result(interfaces.TransactionStatusPending, ""), nil)

	sub := transaction.NewWatcher(chain, 10*time.Millisecond, 1000, testLogger()).Watch(context.Background(), id)
	update := <-sub.Updates()
	assert.Equal(t, interfaces.TransactionStatusPending, update.Result.Status)

	sub.Unsubscribe()
	sub.Unsubscribe()

	for range sub.Updates() {
	}
}
