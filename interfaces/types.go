// Package interfaces defines the core contracts and types shared by the key backup,
// storage and transaction packages. It carries no implementation details.
package interfaces

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Protocol-level key weights. An account action requires signatures whose key
// weights sum to FullWeight; a backup share contributes ShareWeight.
const (
	FullWeight  = 1000
	ShareWeight = 500
)

// Address is an 8-byte account address.
type Address [8]byte

// EmptyAddress is the zero address.
var EmptyAddress = Address{}

// NewAddressFromBytes creates an address from raw bytes, left-padding short input.
func NewAddressFromBytes(b []byte) (Address, error) {
	if len(b) > 8 {
		return Address{}, errors.New("invalid address length: must be at most 8 bytes")
	}

	var addr Address
	copy(addr[8-len(b):], b)
	return addr, nil
}

// NewAddressFromHex parses a hex address with or without the 0x prefix.
func NewAddressFromHex(s string) (Address, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(clean) == 0 || len(clean) > 16 {
		return Address{}, fmt.Errorf("invalid address length: %q", s)
	}
	if len(clean)%2 == 1 {
		clean = "0" + clean
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex format: %w", err)
	}
	return NewAddressFromBytes(raw)
}

// String returns the 0x-prefixed hex representation.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Hex returns the hex representation without prefix.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns the raw 8-byte address.
func (a Address) Bytes() []byte {
	return a[:]
}

// MarshalText encodes the address as 0x-prefixed hex.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a hex address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := NewAddressFromHex(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Identifier is a 32-byte block or transaction id.
type Identifier [32]byte

// EmptyIdentifier is the zero identifier.
var EmptyIdentifier = Identifier{}

// NewIdentifierFromHex parses a 64-char hex identifier.
func NewIdentifierFromHex(s string) (Identifier, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 64 {
		return Identifier{}, errors.New("invalid identifier length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Identifier{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id Identifier
	copy(id[:], raw)
	return id, nil
}

// String returns hex representation.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw identifier.
func (id Identifier) Bytes() []byte {
	return id[:]
}

// Equal compares two identifiers.
func (id Identifier) Equal(other Identifier) bool {
	return bytes.Equal(id[:], other[:])
}

// SignatureAlgorithm is the protocol id of an account key's signature scheme.
type SignatureAlgorithm int

const (
	UnknownSignatureAlgorithm SignatureAlgorithm = 0
	ECDSAP256                 SignatureAlgorithm = 2
	ECDSASecp256k1            SignatureAlgorithm = 3
)

// String returns the protocol name.
func (a SignatureAlgorithm) String() string {
	switch a {
	case ECDSAP256:
		return "ECDSA_P256"
	case ECDSASecp256k1:
		return "ECDSA_secp256k1"
	default:
		return "unknown"
	}
}

// ParseSignatureAlgorithm maps a protocol name to its id.
func ParseSignatureAlgorithm(s string) SignatureAlgorithm {
	switch strings.ToUpper(s) {
	case "ECDSA_P256":
		return ECDSAP256
	case "ECDSA_SECP256K1":
		return ECDSASecp256k1
	default:
		return UnknownSignatureAlgorithm
	}
}

// HashAlgorithm is the protocol id of an account key's hash function.
type HashAlgorithm int

const (
	UnknownHashAlgorithm HashAlgorithm = 0
	SHA2_256             HashAlgorithm = 1
	SHA3_256             HashAlgorithm = 3
)

// String returns the protocol name.
func (h HashAlgorithm) String() string {
	switch h {
	case SHA2_256:
		return "SHA2_256"
	case SHA3_256:
		return "SHA3_256"
	default:
		return "unknown"
	}
}

// ParseHashAlgorithm maps a protocol name to its id.
func ParseHashAlgorithm(s string) HashAlgorithm {
	switch strings.ToUpper(s) {
	case "SHA2_256":
		return SHA2_256
	case "SHA3_256":
		return SHA3_256
	default:
		return UnknownHashAlgorithm
	}
}

// equalHexKeys compares hex-encoded public keys ignoring case and a 0x prefix.
func equalHexKeys(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}

// DeviceInfo describes the device registering a key with the account registry.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	UserAgent  string `json:"user_agent,omitempty"`
	IP         string `json:"ip,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}
