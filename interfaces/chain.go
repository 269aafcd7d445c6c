package interfaces

import (
	"context"
)

// AccountKey is a public key registered on an account.
type AccountKey struct {
	Index          int
	PublicKey      string
	SigAlgo        SignatureAlgorithm
	HashAlgo       HashAlgorithm
	Weight         int
	SequenceNumber uint64
	Revoked        bool
}

// Account is an on-chain account with its keys.
type Account struct {
	Address Address
	Balance uint64
	Keys    []AccountKey
}

// KeyByPublicKey returns the first non-revoked key matching publicKey (hex, no prefix).
func (a *Account) KeyByPublicKey(publicKey string) (AccountKey, bool) {
	for _, key := range a.Keys {
		if !key.Revoked && equalHexKeys(key.PublicKey, publicKey) {
			return key, true
		}
	}
	return AccountKey{}, false
}

// ActiveWeight sums the weights of all non-revoked keys.
func (a *Account) ActiveWeight() int {
	total := 0
	for _, key := range a.Keys {
		if !key.Revoked {
			total += key.Weight
		}
	}
	return total
}

// Block is a sealed block header.
type Block struct {
	ID     Identifier
	Height uint64
}

// TransactionStatus is the lifecycle status of a submitted transaction.
type TransactionStatus int

const (
	TransactionStatusUnknown TransactionStatus = iota
	TransactionStatusPending
	TransactionStatusFinalized
	TransactionStatusExecuted
	TransactionStatusSealed
	TransactionStatusExpired
)

// String returns the status name.
func (s TransactionStatus) String() string {
	switch s {
	case TransactionStatusPending:
		return "PENDING"
	case TransactionStatusFinalized:
		return "FINALIZED"
	case TransactionStatusExecuted:
		return "EXECUTED"
	case TransactionStatusSealed:
		return "SEALED"
	case TransactionStatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// ParseTransactionStatus maps a status name to its value.
func ParseTransactionStatus(s string) TransactionStatus {
	switch s {
	case "Pending", "PENDING":
		return TransactionStatusPending
	case "Finalized", "FINALIZED":
		return TransactionStatusFinalized
	case "Executed", "EXECUTED":
		return TransactionStatusExecuted
	case "Sealed", "SEALED":
		return TransactionStatusSealed
	case "Expired", "EXPIRED":
		return TransactionStatusExpired
	default:
		return TransactionStatusUnknown
	}
}

// IsFinal reports whether no further status updates will follow.
func (s TransactionStatus) IsFinal() bool {
	return s == TransactionStatusSealed || s == TransactionStatusExpired
}

// Settled reports whether the transaction has executed, so its effects are visible
// to account queries.
func (s TransactionStatus) Settled() bool {
	return s == TransactionStatusExecuted || s == TransactionStatusSealed
}

// TransactionResult is the execution result of a submitted transaction.
type TransactionResult struct {
	ID           Identifier
	Status       TransactionStatus
	ErrorMessage string
}

// Failed reports whether the transaction was executed with an error.
func (r *TransactionResult) Failed() bool {
	return r.ErrorMessage != ""
}

// SignedTransaction is the wire form handed to the chain client.
type SignedTransaction struct {
	Script             []byte
	Arguments          [][]byte
	ReferenceBlockID   Identifier
	ComputeLimit       uint64
	ProposalKey        ProposalKey
	Payer              Address
	Authorizers        []Address
	PayloadSignatures  []TransactionSignature
	EnvelopeSignatures []TransactionSignature
}

// ProposalKey is the account key whose sequence number anchors a transaction.
type ProposalKey struct {
	Address        Address `json:"address"`
	KeyIndex       int     `json:"keyId"`
	SequenceNumber uint64  `json:"sequenceNum"`
}

// TransactionSignature is a signature by one account key.
type TransactionSignature struct {
	Address   Address `json:"address"`
	KeyIndex  int     `json:"keyId"`
	Signature []byte  `json:"sig"`
}

// ChainClient is the blockchain access surface.
type ChainClient interface {
	GetAccount(ctx context.Context, address Address) (*Account, error)
	GetLatestSealedBlock(ctx context.Context) (*Block, error)
	SendTransaction(ctx context.Context, tx *SignedTransaction) (Identifier, error)
	GetTransactionResult(ctx context.Context, id Identifier) (*TransactionResult, error)
}

// PayerSignRequest is the signable form posted to a remote fee payer.
type PayerSignRequest struct {
	Cadence           string           `json:"cadence"`
	ReferenceBlockID  string           `json:"refBlock"`
	ComputeLimit      uint64           `json:"computeLimit"`
	Arguments         []string         `json:"arguments"`
	ProposalKey       PayerProposalKey `json:"proposalKey"`
	Payer             string           `json:"payer"`
	Authorizers       []string         `json:"authorizers"`
	PayloadSignatures []PayerSignature `json:"payloadSigs"`

	// EnvelopeSigTemplate lists the envelope signatures expected from the payer.
	EnvelopeSigTemplate []PayerSignature `json:"envelopeSigs"`
}

// PayerProposalKey is the proposal key in the fee payer wire format.
type PayerProposalKey struct {
	Address        string `json:"address"`
	KeyID          int    `json:"keyId"`
	SequenceNumber uint64 `json:"sequenceNum"`
}

// PayerSignature is a signature in the fee payer wire format (hex signature).
type PayerSignature struct {
	Address   string `json:"address"`
	KeyID     int    `json:"keyId"`
	Signature string `json:"sig"`
}

// PayerSignResponse carries the envelope signature returned by the fee payer.
type PayerSignResponse struct {
	EnvelopeSignature PayerSignature `json:"envelopeSignature"`
}

// FeePayer signs transaction envelopes on behalf of a sponsoring account.
type FeePayer interface {
	// Address is the sponsoring payer account.
	Address() Address

	// KeyIndex is the payer account key that signs envelopes.
	KeyIndex() int

	// SignAsPayer returns the payer's envelope signature for req.
	SignAsPayer(ctx context.Context, req *PayerSignRequest) (*PayerSignResponse, error)
}

// DeviceKeyRequest is posted to the account registry after key registration.
type DeviceKeyRequest struct {
	PublicKey  string     `json:"public_key"`
	SignAlgo   int        `json:"sign_algo"`
	HashAlgo   int        `json:"hash_algo"`
	Weight     int        `json:"weight"`
	DeviceInfo DeviceInfo `json:"device_info"`
	BackupType string     `json:"backup_type,omitempty"`
}

// AccountRegistry is the wallet backend that tracks device and backup keys.
type AccountRegistry interface {
	SyncDeviceKey(ctx context.Context, address Address, req *DeviceKeyRequest) error
}
