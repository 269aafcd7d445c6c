package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ruteri/wallet-key-backup/cryptoutils"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"golang.org/x/crypto/sha3"
)

type payloadCanonicalForm struct {
	Script                    []byte
	Arguments                 [][]byte
	ReferenceBlockID          []byte
	GasLimit                  uint64
	ProposalKeyAddress        []byte
	ProposalKeyIndex          uint64
	ProposalKeySequenceNumber uint64
	Payer                     []byte
	Authorizers               [][]byte
}

type signatureCanonicalForm struct {
	SignerIndex uint
	KeyIndex    uint
	Signature   []byte
}

type envelopeCanonicalForm struct {
	Payload           payloadCanonicalForm
	PayloadSignatures []signatureCanonicalForm
}

type transactionCanonicalForm struct {
	Payload            payloadCanonicalForm
	PayloadSignatures  []signatureCanonicalForm
	EnvelopeSignatures []signatureCanonicalForm
}

func (v *Voucher) payloadForm() payloadCanonicalForm {
	authorizers := make([][]byte, len(v.Authorizers))
	for i, addr := range v.Authorizers {
		authorizers[i] = addr.Bytes()
	}

	args := v.Arguments
	if args == nil {
		args = [][]byte{}
	}

	return payloadCanonicalForm{
		Script:                    []byte(v.Cadence),
		Arguments:                 args,
		ReferenceBlockID:          v.ReferenceBlockID.Bytes(),
		GasLimit:                  v.ComputeLimit,
		ProposalKeyAddress:        v.ProposalKey.Address.Bytes(),
		ProposalKeyIndex:          uint64(v.ProposalKey.KeyIndex),
		ProposalKeySequenceNumber: v.ProposalKey.SequenceNumber,
		Payer:                     v.Payer.Bytes(),
		Authorizers:               authorizers,
	}
}

func (v *Voucher) signatureForms(sigs []interfaces.TransactionSignature) ([]signatureCanonicalForm, error) {
	forms := make([]signatureCanonicalForm, 0, len(sigs))
	for _, sig := range sigs {
		index, err := v.signerIndex(sig.Address)
		if err != nil {
			return nil, err
		}
		forms = append(forms, signatureCanonicalForm{
			SignerIndex: uint(index),
			KeyIndex:    uint(sig.KeyIndex),
			Signature:   sig.Signature,
		})
	}
	return forms, nil
}

// PayloadMessage is the RLP encoding of the payload.
func (v *Voucher) PayloadMessage() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(v.payloadForm())
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return encoded, nil
}

// EnvelopeMessage is the RLP encoding of the payload and its signatures.
func (v *Voucher) EnvelopeMessage() ([]byte, error) {
	sigs, err := v.signatureForms(v.PayloadSignatures)
	if err != nil {
		return nil, err
	}

	encoded, err := rlp.EncodeToBytes(envelopeCanonicalForm{
		Payload:           v.payloadForm(),
		PayloadSignatures: sigs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return encoded, nil
}

// PayloadSigningMessage is the domain-tagged payload signed by payload signers.
func (v *Voucher) PayloadSigningMessage() ([]byte, error) {
	msg, err := v.PayloadMessage()
	if err != nil {
		return nil, err
	}
	return cryptoutils.WithDomainTag(cryptoutils.TransactionDomainTag, msg), nil
}

// EnvelopeSigningMessage is the domain-tagged envelope signed by envelope signers.
func (v *Voucher) EnvelopeSigningMessage() ([]byte, error) {
	msg, err := v.EnvelopeMessage()
	if err != nil {
		return nil, err
	}
	return cryptoutils.WithDomainTag(cryptoutils.TransactionDomainTag, msg), nil
}

// ID computes the transaction id: SHA3-256 over the fully signed canonical form.
func (v *Voucher) ID() (interfaces.Identifier, error) {
	payloadSigs, err := v.signatureForms(v.PayloadSignatures)
	if err != nil {
		return interfaces.Identifier{}, err
	}
	envelopeSigs, err := v.signatureForms(v.EnvelopeSignatures)
	if err != nil {
		return interfaces.Identifier{}, err
	}

	encoded, err := rlp.EncodeToBytes(transactionCanonicalForm{
		Payload:            v.payloadForm(),
		PayloadSignatures:  payloadSigs,
		EnvelopeSignatures: envelopeSigs,
	})
	if err != nil {
		return interfaces.Identifier{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	var id interfaces.Identifier
	h := sha3.New256()
	h.Write(encoded)
	copy(id[:], h.Sum(nil))
	return id, nil
}
