// Package chaintest provides an in-memory chain that verifies signatures and key
// weights the way the network does, for use in tests.
package chaintest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
	"github.com/ruteri/wallet-key-backup/transaction"
)

// FakeChain is a ChainClient backed by in-memory accounts. Transactions are
// validated on submission and executed immediately; AddKeyScript is the only
// script it understands.
type FakeChain struct {
	mu       sync.Mutex
	accounts map[interfaces.Address]*interfaces.Account
	results  map[interfaces.Identifier]*txState
	height   uint64

	// PendingPolls is how many result queries report Pending before Sealed.
	PendingPolls int

	// SendErr, when set, is returned by SendTransaction.
	SendErr error

	// ResultErr, when set, is returned by GetTransactionResult.
	ResultErr error

	// EmptyID makes SendTransaction accept transactions without returning an id.
	EmptyID bool

	accountCalls int
	sent         []*interfaces.SignedTransaction
}

type txState struct {
	result interfaces.TransactionResult
	polls  int
}

// NewFakeChain creates an empty chain.
func NewFakeChain() *FakeChain {
	return &FakeChain{
		accounts: make(map[interfaces.Address]*interfaces.Account),
		results:  make(map[interfaces.Identifier]*txState),
		height:   1,
	}
}

// CreateAccount registers an account holding the given providers' keys.
func (c *FakeChain) CreateAccount(addr interfaces.Address, providers ...interfaces.SigningProvider) *interfaces.Account {
	c.mu.Lock()
	defer c.mu.Unlock()

	account := &interfaces.Account{Address: addr}
	for _, p := range providers {
		account.Keys = append(account.Keys, interfaces.AccountKey{
			Index:     len(account.Keys),
			PublicKey: p.PublicKey(),
			SigAlgo:   p.SignatureAlgorithm(),
			HashAlgo:  p.HashAlgorithm(),
			Weight:    p.KeyWeight(),
		})
	}
	c.accounts[addr] = account
	return copyAccount(account)
}

// AddKey registers one more key on an existing account and returns its index.
func (c *FakeChain) AddKey(addr interfaces.Address, key interfaces.AccountKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	account := c.accounts[addr]
	key.Index = len(account.Keys)
	account.Keys = append(account.Keys, key)
	return key.Index
}

// RevokeKey marks a key revoked.
func (c *FakeChain) RevokeKey(addr interfaces.Address, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[addr].Keys[index].Revoked = true
}

// Account returns a snapshot of an account.
func (c *FakeChain) Account(addr interfaces.Address) *interfaces.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if account, ok := c.accounts[addr]; ok {
		return copyAccount(account)
	}
	return nil
}

// AccountCalls returns how many times GetAccount was called.
func (c *FakeChain) AccountCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountCalls
}

// Sent returns every transaction accepted by SendTransaction.
func (c *FakeChain) Sent() []*interfaces.SignedTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*interfaces.SignedTransaction(nil), c.sent...)
}

func (c *FakeChain) GetAccount(ctx context.Context, address interfaces.Address) (*interfaces.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accountCalls++
	account, ok := c.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", interfaces.ErrNotFound, address)
	}
	return copyAccount(account), nil
}

func (c *FakeChain) GetLatestSealedBlock(ctx context.Context) (*interfaces.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &interfaces.Block{ID: blockID(c.height), Height: c.height}, nil
}

func (c *FakeChain) SendTransaction(ctx context.Context, tx *interfaces.SignedTransaction) (interfaces.Identifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return interfaces.Identifier{}, c.SendErr
	}

	v := transaction.VoucherFromSignedTransaction(tx)
	id, err := v.ID()
	if err != nil {
		return interfaces.Identifier{}, fmt.Errorf("%w: %v", interfaces.ErrProtocolRejection, err)
	}

	c.sent = append(c.sent, tx)
	c.height++

	result := interfaces.TransactionResult{ID: id, Status: interfaces.TransactionStatusSealed}
	if err := c.execute(v); err != nil {
		result.ErrorMessage = err.Error()
	}
	c.results[id] = &txState{result: result}

	if c.EmptyID {
		return interfaces.Identifier{}, nil
	}
	return id, nil
}

func (c *FakeChain) GetTransactionResult(ctx context.Context, id interfaces.Identifier) (*interfaces.TransactionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ResultErr != nil {
		return nil, c.ResultErr
	}

	state, ok := c.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", interfaces.ErrNotFound, id)
	}

	state.polls++
	if state.polls <= c.PendingPolls {
		return &interfaces.TransactionResult{ID: id, Status: interfaces.TransactionStatusPending}, nil
	}
	result := state.result
	return &result, nil
}

// execute validates signatures and weights, then applies the script.
func (c *FakeChain) execute(v *transaction.Voucher) error {
	proposer, ok := c.accounts[v.ProposalKey.Address]
	if !ok {
		return fmt.Errorf("proposer account %s not found", v.ProposalKey.Address)
	}
	if v.ProposalKey.KeyIndex >= len(proposer.Keys) {
		return fmt.Errorf("proposal key %d not found", v.ProposalKey.KeyIndex)
	}
	proposalKey := &proposer.Keys[v.ProposalKey.KeyIndex]
	if proposalKey.Revoked {
		return fmt.Errorf("proposal key %d is revoked", v.ProposalKey.KeyIndex)
	}
	if proposalKey.SequenceNumber != v.ProposalKey.SequenceNumber {
		return fmt.Errorf("invalid proposal key sequence number: expected %d, got %d", proposalKey.SequenceNumber, v.ProposalKey.SequenceNumber)
	}

	payloadMsg, err := v.PayloadSigningMessage()
	if err != nil {
		return err
	}
	envelopeMsg, err := v.EnvelopeSigningMessage()
	if err != nil {
		return err
	}

	weights := make(map[interfaces.Address]int)
	proposerSigned := false

	check := func(sigs []interfaces.TransactionSignature, msg []byte, counts func(interfaces.Address) bool) error {
		for _, sig := range sigs {
			account, ok := c.accounts[sig.Address]
			if !ok || sig.KeyIndex >= len(account.Keys) {
				return fmt.Errorf("signature by unknown key %s/%d", sig.Address, sig.KeyIndex)
			}
			key := account.Keys[sig.KeyIndex]
			if key.Revoked {
				return fmt.Errorf("signature by revoked key %s/%d", sig.Address, sig.KeyIndex)
			}
			valid, err := keys.Verify(key.PublicKey, key.SigAlgo, key.HashAlgo, msg, sig.Signature)
			if err != nil || !valid {
				return fmt.Errorf("invalid signature by %s/%d", sig.Address, sig.KeyIndex)
			}
			if counts(sig.Address) {
				weights[sig.Address] += key.Weight
			}
			if sig.Address == v.ProposalKey.Address && sig.KeyIndex == v.ProposalKey.KeyIndex {
				proposerSigned = true
			}
		}
		return nil
	}

	if err := check(v.PayloadSignatures, payloadMsg, func(a interfaces.Address) bool { return a != v.Payer }); err != nil {
		return err
	}
	if err := check(v.EnvelopeSignatures, envelopeMsg, func(a interfaces.Address) bool { return a == v.Payer }); err != nil {
		return err
	}

	if !proposerSigned {
		return fmt.Errorf("missing signature for proposal key %s/%d", v.ProposalKey.Address, v.ProposalKey.KeyIndex)
	}
	if weights[v.Payer] < interfaces.FullWeight {
		return fmt.Errorf("payer account %s does not have sufficient signatures (%d/%d)", v.Payer, weights[v.Payer], interfaces.FullWeight)
	}
	for _, addr := range v.Authorizers {
		if weights[addr] < interfaces.FullWeight {
			return fmt.Errorf("authorizer account %s does not have sufficient signatures (%d/%d)", addr, weights[addr], interfaces.FullWeight)
		}
	}

	// Sequence numbers advance once signatures are valid, even if the script fails.
	proposalKey.SequenceNumber++

	if v.Cadence != transaction.AddKeyScript {
		return nil
	}
	if len(v.Authorizers) == 0 {
		return fmt.Errorf("add key requires an authorizer")
	}
	return c.applyAddKey(v.Authorizers[0], v.Arguments)
}

func (c *FakeChain) applyAddKey(addr interfaces.Address, args [][]byte) error {
	if len(args) != 4 {
		return fmt.Errorf("add key expects 4 arguments, got %d", len(args))
	}

	values := make([]string, len(args))
	for i, arg := range args {
		_, value, err := transaction.DecodeArg(arg)
		if err != nil {
			return err
		}
		values[i] = value
	}

	sigRaw, err := strconv.ParseUint(values[1], 10, 8)
	if err != nil {
		return err
	}
	hashRaw, err := strconv.ParseUint(values[2], 10, 8)
	if err != nil {
		return err
	}
	weight, err := strconv.ParseFloat(values[3], 64)
	if err != nil {
		return err
	}

	sigAlgo := interfaces.UnknownSignatureAlgorithm
	switch sigRaw {
	case 1:
		sigAlgo = interfaces.ECDSAP256
	case 2:
		sigAlgo = interfaces.ECDSASecp256k1
	}

	account := c.accounts[addr]
	account.Keys = append(account.Keys, interfaces.AccountKey{
		Index:     len(account.Keys),
		PublicKey: values[0],
		SigAlgo:   sigAlgo,
		HashAlgo:  interfaces.HashAlgorithm(hashRaw),
		Weight:    int(weight),
	})
	return nil
}

func copyAccount(a *interfaces.Account) *interfaces.Account {
	out := *a
	out.Keys = append([]interfaces.AccountKey(nil), a.Keys...)
	return &out
}

func blockID(height uint64) interfaces.Identifier {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return interfaces.Identifier(sha256.Sum256(buf[:]))
}

var _ interfaces.ChainClient = (*FakeChain)(nil)
