package transaction

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"golang.org/x/sync/errgroup"
)

// PrepareRequest describes the transaction to prepare.
type PrepareRequest struct {
	// Address is the account whose key proposes (and by default authorizes) the transaction.
	Address interfaces.Address

	Script    string
	Arguments [][]byte

	// Payer overrides the fee payer. When nil, the configured fee payer is used, or
	// the account pays for itself.
	Payer *interfaces.Address

	// PayerKeyIndex is the key of an explicit Payer that signs the envelope.
	PayerKeyIndex int

	// Authorizers defaults to Address.
	Authorizers []interfaces.Address

	// ComputeLimit defaults to DefaultComputeLimit.
	ComputeLimit uint64
}

// SignerKey is a provider resolved to its on-chain key.
type SignerKey struct {
	Provider interfaces.SigningProvider
	KeyIndex int
	Weight   int
}

// Builder assembles transactions against live chain state. It never caches
// account state between calls and never checks signature weights.
type Builder struct {
	chain        interfaces.ChainClient
	feePayer     interfaces.FeePayer
	computeLimit uint64
	log          *slog.Logger
}

// NewBuilder creates a builder. feePayer may be nil when every transaction is self-paid.
func NewBuilder(chain interfaces.ChainClient, feePayer interfaces.FeePayer, computeLimit uint64, log *slog.Logger) *Builder {
	if computeLimit == 0 {
		computeLimit = DefaultComputeLimit
	}
	return &Builder{
		chain:        chain,
		feePayer:     feePayer,
		computeLimit: computeLimit,
		log:          log,
	}
}

// HasFeePayer reports whether a remote fee payer is configured.
func (b *Builder) HasFeePayer() bool {
	return b.feePayer != nil
}

// Prepare creates a voucher proposed by provider's key on req.Address.
func (b *Builder) Prepare(ctx context.Context, provider interfaces.SigningProvider, req PrepareRequest) (*Voucher, error) {
	v, _, err := b.PrepareMulti(ctx, req, provider)
	return v, err
}

// PrepareMulti creates one voucher whose proposal key belongs to proposer and
// resolves the key index of every signer on req.Address. The returned slice holds
// the proposer first, then signers in order.
func (b *Builder) PrepareMulti(ctx context.Context, req PrepareRequest, proposer interfaces.SigningProvider, signers ...interfaces.SigningProvider) (*Voucher, []SignerKey, error) {
	account, err := b.chain.GetAccount(ctx, req.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch account %s: %w", req.Address, err)
	}

	keys := make([]SignerKey, 0, len(signers)+1)
	for _, provider := range append([]interfaces.SigningProvider{proposer}, signers...) {
		key, ok := account.KeyByPublicKey(provider.PublicKey())
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s on %s", interfaces.ErrKeyNotFound, shortKey(provider.PublicKey()), req.Address)
		}
		keys = append(keys, SignerKey{Provider: provider, KeyIndex: key.Index, Weight: key.Weight})
	}

	proposalKey, _ := account.KeyByPublicKey(proposer.PublicKey())

	block, err := b.chain.GetLatestSealedBlock(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch latest sealed block: %w", err)
	}

	payer := req.Address
	payerKeyIndex := proposalKey.Index
	switch {
	case req.Payer != nil:
		payer = *req.Payer
		payerKeyIndex = req.PayerKeyIndex
	case b.feePayer != nil:
		payer = b.feePayer.Address()
		payerKeyIndex = b.feePayer.KeyIndex()
	}

	authorizers := req.Authorizers
	if len(authorizers) == 0 {
		authorizers = []interfaces.Address{req.Address}
	}

	computeLimit := req.ComputeLimit
	if computeLimit == 0 {
		computeLimit = b.computeLimit
	}

	v := &Voucher{
		Cadence:          req.Script,
		Arguments:        req.Arguments,
		ReferenceBlockID: block.ID,
		ComputeLimit:     computeLimit,
		ProposalKey: interfaces.ProposalKey{
			Address:        req.Address,
			KeyIndex:       proposalKey.Index,
			SequenceNumber: proposalKey.SequenceNumber,
		},
		Payer:         payer,
		PayerKeyIndex: payerKeyIndex,
		Authorizers:   authorizers,
	}

	b.log.Debug("Prepared transaction",
		slog.String("address", req.Address.String()),
		slog.String("payer", payer.String()),
		slog.Int("proposerKey", proposalKey.Index),
		slog.Uint64("sequence", proposalKey.SequenceNumber),
		slog.Int("signers", len(keys)))

	return v, keys, nil
}

// AddPayloadSignature signs the payload with provider as (address, keyIndex).
func (b *Builder) AddPayloadSignature(v *Voucher, address interfaces.Address, keyIndex int, provider interfaces.SigningProvider) error {
	if _, err := v.signerIndex(address); err != nil {
		return err
	}

	msg, err := v.PayloadSigningMessage()
	if err != nil {
		return err
	}

	sig, err := provider.Sign(msg)
	if err != nil {
		return fmt.Errorf("failed to sign payload: %w", err)
	}

	v.PayloadSignatures = upsertSignature(v.PayloadSignatures, interfaces.TransactionSignature{
		Address:   address,
		KeyIndex:  keyIndex,
		Signature: sig,
	})
	v.sortSignatures(v.PayloadSignatures)
	return nil
}

// AddPayloadSignatures signs the payload with every signer of address in parallel
// and merges the signatures in canonical order.
func (b *Builder) AddPayloadSignatures(v *Voucher, address interfaces.Address, signers []SignerKey) error {
	if _, err := v.signerIndex(address); err != nil {
		return err
	}

	msg, err := v.PayloadSigningMessage()
	if err != nil {
		return err
	}

	sigs := make([]interfaces.TransactionSignature, len(signers))
	var g errgroup.Group
	for i, signer := range signers {
		g.Go(func() error {
			sig, err := signer.Provider.Sign(msg)
			if err != nil {
				return fmt.Errorf("failed to sign payload with key %d: %w", signer.KeyIndex, err)
			}
			sigs[i] = interfaces.TransactionSignature{Address: address, KeyIndex: signer.KeyIndex, Signature: sig}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, sig := range sigs {
		v.PayloadSignatures = upsertSignature(v.PayloadSignatures, sig)
	}
	v.sortSignatures(v.PayloadSignatures)
	return nil
}

// AddEnvelopeSignature signs the envelope with provider as (address, keyIndex). A
// payload signature by the same key is dropped first.
func (b *Builder) AddEnvelopeSignature(v *Voucher, address interfaces.Address, keyIndex int, provider interfaces.SigningProvider) error {
	if _, err := v.signerIndex(address); err != nil {
		return err
	}

	v.PayloadSignatures = removeSignature(v.PayloadSignatures, address, keyIndex)

	msg, err := v.EnvelopeSigningMessage()
	if err != nil {
		return err
	}

	sig, err := provider.Sign(msg)
	if err != nil {
		return fmt.Errorf("failed to sign envelope: %w", err)
	}

	v.EnvelopeSignatures = upsertSignature(v.EnvelopeSignatures, interfaces.TransactionSignature{
		Address:   address,
		KeyIndex:  keyIndex,
		Signature: sig,
	})
	v.sortSignatures(v.EnvelopeSignatures)
	return nil
}

// AddRemoteEnvelopeSignature asks the fee payer to sign the envelope.
func (b *Builder) AddRemoteEnvelopeSignature(ctx context.Context, v *Voucher) error {
	if b.feePayer == nil {
		return fmt.Errorf("%w: no fee payer configured", interfaces.ErrConfiguration)
	}

	resp, err := b.feePayer.SignAsPayer(ctx, v.PayerRequest())
	if err != nil {
		return err
	}

	addr, err := interfaces.NewAddressFromHex(resp.EnvelopeSignature.Address)
	if err != nil {
		return fmt.Errorf("%w: invalid payer address in response: %v", interfaces.ErrProtocolRejection, err)
	}
	if addr != v.Payer {
		return fmt.Errorf("%w: payer signed as %s, expected %s", interfaces.ErrProtocolRejection, addr, v.Payer)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(resp.EnvelopeSignature.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("%w: invalid payer signature: %v", interfaces.ErrProtocolRejection, err)
	}

	v.EnvelopeSignatures = upsertSignature(v.EnvelopeSignatures, interfaces.TransactionSignature{
		Address:   addr,
		KeyIndex:  resp.EnvelopeSignature.KeyID,
		Signature: sig,
	})
	v.sortSignatures(v.EnvelopeSignatures)
	return nil
}

// Submit broadcasts a ready voucher and returns its transaction id.
func (b *Builder) Submit(ctx context.Context, v *Voucher) (interfaces.Identifier, error) {
	if !v.Ready() {
		return interfaces.Identifier{}, interfaces.ErrNotReady
	}

	id, err := b.chain.SendTransaction(ctx, v.SignedTransaction())
	if err != nil {
		return interfaces.Identifier{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	if id == interfaces.EmptyIdentifier {
		return interfaces.Identifier{}, interfaces.ErrNoTransactionID
	}

	b.log.Info("Submitted transaction",
		slog.String("txId", id.String()),
		slog.Int("payloadSigs", len(v.PayloadSignatures)),
		slog.Int("envelopeSigs", len(v.EnvelopeSignatures)))

	return id, nil
}

func shortKey(publicKey string) string {
	if len(publicKey) > 16 {
		return publicKey[:16] + "…"
	}
	return publicKey
}
