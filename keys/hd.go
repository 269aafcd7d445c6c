package keys

import (
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// DefaultDerivationPath is the account key path for backup shares.
const DefaultDerivationPath = "m/44'/539'/0'/0/0"

// HardenedOffset marks a hardened child index.
const HardenedOffset uint32 = 0x80000000

var nist256p1Seed = []byte("Nist256p1 seed")

// ExtendedKey is a SLIP-0010 private key with its chain code on NIST P-256.
type ExtendedKey struct {
	Key       []byte
	ChainCode []byte
}

// ParseDerivationPath parses a path like "m/44'/539'/0'/0/0". Both ' and h mark
// hardened components.
func ParseDerivationPath(path string) ([]uint32, error) {
	if path == "" || path == "m" || path == "/" {
		return []uint32{}, nil
	}

	parts := strings.Split(path, "/")
	if parts[0] == "m" {
		parts = parts[1:]
	}

	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}

		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") {
			hardened = true
			part = part[:len(part)-1]
		}

		n, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid path component %q", interfaces.ErrConfiguration, part)
		}

		index := uint32(n)
		if hardened {
			index |= HardenedOffset
		}
		indices = append(indices, index)
	}
	return indices, nil
}

// NewMasterKey derives the P-256 master key from a BIP-39 seed.
func NewMasterKey(seed []byte) (*ExtendedKey, error) {
	curveN := elliptic.P256().Params().N
	data := seed

	for {
		mac := hmac.New(sha512.New, nist256p1Seed)
		mac.Write(data)
		sum := mac.Sum(nil)

		il := new(big.Int).SetBytes(sum[:32])
		if il.Sign() != 0 && il.Cmp(curveN) < 0 {
			return &ExtendedKey{Key: sum[:32], ChainCode: sum[32:]}, nil
		}
		data = sum
	}
}

// Child derives the private child key at index.
func (k *ExtendedKey) Child(index uint32) (*ExtendedKey, error) {
	curve := elliptic.P256()
	curveN := curve.Params().N
	parent := new(big.Int).SetBytes(k.Key)

	var data []byte
	if index >= HardenedOffset {
		data = make([]byte, 0, 37)
		data = append(data, 0x00)
		data = append(data, k.Key...)
	} else {
		x, y := curve.ScalarBaseMult(k.Key)
		data = elliptic.MarshalCompressed(curve, x, y)
	}
	data = binary.BigEndian.AppendUint32(data, index)

	for {
		mac := hmac.New(sha512.New, k.ChainCode)
		mac.Write(data)
		sum := mac.Sum(nil)

		il := new(big.Int).SetBytes(sum[:32])
		child := new(big.Int).Add(il, parent)
		child.Mod(child, curveN)

		if il.Cmp(curveN) < 0 && child.Sign() != 0 {
			return &ExtendedKey{Key: child.FillBytes(make([]byte, 32)), ChainCode: sum[32:]}, nil
		}

		data = make([]byte, 0, 37)
		data = append(data, 0x01)
		data = append(data, sum[32:]...)
		data = binary.BigEndian.AppendUint32(data, index)
	}
}

// DerivePath derives the key at path from a BIP-39 seed.
func DerivePath(seed []byte, path string) (*ExtendedKey, error) {
	indices, err := ParseDerivationPath(path)
	if err != nil {
		return nil, err
	}

	key, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	for _, index := range indices {
		if key, err = key.Child(index); err != nil {
			return nil, fmt.Errorf("failed to derive child %d: %w", index, err)
		}
	}
	return key, nil
}
