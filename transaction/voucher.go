// Package transaction assembles, signs and submits multi-signature transactions and
// watches them until they are sealed.
package transaction

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// DefaultComputeLimit is the compute limit used when a request does not set one.
const DefaultComputeLimit uint64 = 9999

// Voucher is an unsigned or partially signed transaction.
type Voucher struct {
	Cadence            string
	Arguments          [][]byte
	ReferenceBlockID   interfaces.Identifier
	ComputeLimit       uint64
	ProposalKey        interfaces.ProposalKey
	Payer              interfaces.Address
	Authorizers        []interfaces.Address
	PayloadSignatures  []interfaces.TransactionSignature
	EnvelopeSignatures []interfaces.TransactionSignature

	// PayerKeyIndex is the payer key expected to sign the envelope.
	PayerKeyIndex int
}

// Ready reports whether the voucher can be submitted.
func (v *Voucher) Ready() bool {
	return len(v.EnvelopeSignatures) > 0
}

// SelfPaying reports whether the payer is also the proposer.
func (v *Voucher) SelfPaying() bool {
	return v.Payer == v.ProposalKey.Address
}

// signers returns the ordered unique signer list: proposer, payer, authorizers.
func (v *Voucher) signers() []interfaces.Address {
	seen := make(map[interfaces.Address]struct{}, len(v.Authorizers)+2)
	out := make([]interfaces.Address, 0, len(v.Authorizers)+2)

	add := func(addr interfaces.Address) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	add(v.ProposalKey.Address)
	add(v.Payer)
	for _, addr := range v.Authorizers {
		add(addr)
	}
	return out
}

func (v *Voucher) signerIndex(addr interfaces.Address) (int, error) {
	for i, signer := range v.signers() {
		if signer == addr {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s is not a signer of this transaction", interfaces.ErrConfiguration, addr)
}

// sortSignatures orders signatures by signer index then key index.
func (v *Voucher) sortSignatures(sigs []interfaces.TransactionSignature) {
	order := make(map[interfaces.Address]int)
	for i, addr := range v.signers() {
		order[addr] = i
	}
	sort.SliceStable(sigs, func(i, j int) bool {
		if order[sigs[i].Address] != order[sigs[j].Address] {
			return order[sigs[i].Address] < order[sigs[j].Address]
		}
		return sigs[i].KeyIndex < sigs[j].KeyIndex
	})
}

func upsertSignature(sigs []interfaces.TransactionSignature, sig interfaces.TransactionSignature) []interfaces.TransactionSignature {
	for i := range sigs {
		if sigs[i].Address == sig.Address && sigs[i].KeyIndex == sig.KeyIndex {
			sigs[i] = sig
			return sigs
		}
	}
	return append(sigs, sig)
}

func removeSignature(sigs []interfaces.TransactionSignature, addr interfaces.Address, keyIndex int) []interfaces.TransactionSignature {
	out := sigs[:0]
	for _, sig := range sigs {
		if sig.Address == addr && sig.KeyIndex == keyIndex {
			continue
		}
		out = append(out, sig)
	}
	return out
}

// SignedTransaction converts the voucher into the chain client's wire form.
func (v *Voucher) SignedTransaction() *interfaces.SignedTransaction {
	return &interfaces.SignedTransaction{
		Script:             []byte(v.Cadence),
		Arguments:          v.Arguments,
		ReferenceBlockID:   v.ReferenceBlockID,
		ComputeLimit:       v.ComputeLimit,
		ProposalKey:        v.ProposalKey,
		Payer:              v.Payer,
		Authorizers:        append([]interfaces.Address(nil), v.Authorizers...),
		PayloadSignatures:  append([]interfaces.TransactionSignature(nil), v.PayloadSignatures...),
		EnvelopeSignatures: append([]interfaces.TransactionSignature(nil), v.EnvelopeSignatures...),
	}
}

// VoucherFromSignedTransaction rebuilds a voucher from its wire form.
func VoucherFromSignedTransaction(tx *interfaces.SignedTransaction) *Voucher {
	return &Voucher{
		Cadence:            string(tx.Script),
		Arguments:          tx.Arguments,
		ReferenceBlockID:   tx.ReferenceBlockID,
		ComputeLimit:       tx.ComputeLimit,
		ProposalKey:        tx.ProposalKey,
		Payer:              tx.Payer,
		Authorizers:        append([]interfaces.Address(nil), tx.Authorizers...),
		PayloadSignatures:  append([]interfaces.TransactionSignature(nil), tx.PayloadSignatures...),
		EnvelopeSignatures: append([]interfaces.TransactionSignature(nil), tx.EnvelopeSignatures...),
	}
}

// PayerRequest renders the signable form posted to a remote fee payer.
func (v *Voucher) PayerRequest() *interfaces.PayerSignRequest {
	req := &interfaces.PayerSignRequest{
		Cadence:          v.Cadence,
		ReferenceBlockID: v.ReferenceBlockID.String(),
		ComputeLimit:     v.ComputeLimit,
		Arguments:        make([]string, 0, len(v.Arguments)),
		ProposalKey: interfaces.PayerProposalKey{
			Address:        v.ProposalKey.Address.String(),
			KeyID:          v.ProposalKey.KeyIndex,
			SequenceNumber: v.ProposalKey.SequenceNumber,
		},
		Payer:             v.Payer.String(),
		Authorizers:       make([]string, 0, len(v.Authorizers)),
		PayloadSignatures: make([]interfaces.PayerSignature, 0, len(v.PayloadSignatures)),
		EnvelopeSigTemplate: []interfaces.PayerSignature{
			{Address: v.Payer.String(), KeyID: v.PayerKeyIndex},
		},
	}

	for _, arg := range v.Arguments {
		req.Arguments = append(req.Arguments, string(arg))
	}
	for _, addr := range v.Authorizers {
		req.Authorizers = append(req.Authorizers, addr.String())
	}
	for _, sig := range v.PayloadSignatures {
		req.PayloadSignatures = append(req.PayloadSignatures, interfaces.PayerSignature{
			Address:   sig.Address.String(),
			KeyID:     sig.KeyIndex,
			Signature: hex.EncodeToString(sig.Signature),
		})
	}
	return req
}

// VoucherFromPayerRequest parses the fee payer wire form back into a voucher.
func VoucherFromPayerRequest(req *interfaces.PayerSignRequest) (*Voucher, error) {
	refBlock, err := interfaces.NewIdentifierFromHex(req.ReferenceBlockID)
	if err != nil {
		return nil, fmt.Errorf("invalid reference block: %w", err)
	}

	proposer, err := interfaces.NewAddressFromHex(req.ProposalKey.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid proposer address: %w", err)
	}

	payer, err := interfaces.NewAddressFromHex(req.Payer)
	if err != nil {
		return nil, fmt.Errorf("invalid payer address: %w", err)
	}

	v := &Voucher{
		Cadence:          req.Cadence,
		ReferenceBlockID: refBlock,
		ComputeLimit:     req.ComputeLimit,
		ProposalKey: interfaces.ProposalKey{
			Address:        proposer,
			KeyIndex:       req.ProposalKey.KeyID,
			SequenceNumber: req.ProposalKey.SequenceNumber,
		},
		Payer: payer,
	}

	for _, tmpl := range req.EnvelopeSigTemplate {
		addr, err := interfaces.NewAddressFromHex(tmpl.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid envelope template address: %w", err)
		}
		if addr == payer {
			v.PayerKeyIndex = tmpl.KeyID
		}
	}
	for _, arg := range req.Arguments {
		v.Arguments = append(v.Arguments, []byte(arg))
	}
	for _, raw := range req.Authorizers {
		addr, err := interfaces.NewAddressFromHex(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid authorizer address: %w", err)
		}
		v.Authorizers = append(v.Authorizers, addr)
	}
	for _, raw := range req.PayloadSignatures {
		addr, err := interfaces.NewAddressFromHex(raw.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid signer address: %w", err)
		}
		sig, err := hex.DecodeString(strings.TrimPrefix(raw.Signature, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid signature hex: %w", err)
		}
		v.PayloadSignatures = append(v.PayloadSignatures, interfaces.TransactionSignature{
			Address:   addr,
			KeyIndex:  raw.KeyID,
			Signature: sig,
		})
	}
	return v, nil
}
