package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/wallet-key-backup/cryptoutils"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"golang.org/x/crypto/sha3"
)

// PrivateKeyProvider signs with an in-memory private key. It backs the device key
// registered during restore and is embedded by SeedPhraseProvider.
type PrivateKeyProvider struct {
	privateKey *ecdsa.PrivateKey
	sigAlgo    interfaces.SignatureAlgorithm
	hashAlgo   interfaces.HashAlgorithm
	weight     int
}

// NewPrivateKeyProvider wraps privateKey. The signature algorithm must match the key's
// curve and both algorithms must be registered, else ErrConfiguration.
func NewPrivateKeyProvider(privateKey *ecdsa.PrivateKey, sigAlgo interfaces.SignatureAlgorithm, hashAlgo interfaces.HashAlgorithm, weight int) (*PrivateKeyProvider, error) {
	curve, err := curveFor(sigAlgo)
	if err != nil {
		return nil, err
	}
	if privateKey == nil || privateKey.Curve != curve {
		return nil, fmt.Errorf("%w: private key does not match %s", interfaces.ErrConfiguration, sigAlgo)
	}
	if _, err := hasherFor(hashAlgo); err != nil {
		return nil, err
	}

	return &PrivateKeyProvider{
		privateKey: privateKey,
		sigAlgo:    sigAlgo,
		hashAlgo:   hashAlgo,
		weight:     weight,
	}, nil
}

// GeneratePrivateKey creates a random key for sigAlgo.
func GeneratePrivateKey(sigAlgo interfaces.SignatureAlgorithm) (*ecdsa.PrivateKey, error) {
	curve, err := curveFor(sigAlgo)
	if err != nil {
		return nil, err
	}
	return ecdsa.GenerateKey(curve, rand.Reader)
}

// PrivateKeyFromHex decodes a raw 32-byte hex scalar for sigAlgo.
func PrivateKeyFromHex(sigAlgo interfaces.SignatureAlgorithm, s string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key hex: %v", interfaces.ErrConfiguration, err)
	}
	return privateKeyFromBytes(sigAlgo, raw)
}

func privateKeyFromBytes(sigAlgo interfaces.SignatureAlgorithm, raw []byte) (*ecdsa.PrivateKey, error) {
	curve, err := curveFor(sigAlgo)
	if err != nil {
		return nil, err
	}

	if sigAlgo == interfaces.ECDSASecp256k1 {
		key, err := ethcrypto.ToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrConfiguration, err)
		}
		return key, nil
	}

	d := new(big.Int).SetBytes(raw)
	if len(raw) != 32 || d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("%w: invalid private key scalar", interfaces.ErrConfiguration)
	}

	key := &ecdsa.PrivateKey{D: d}
	key.PublicKey.Curve = curve
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(raw)
	return key, nil
}

// PublicKey returns the uncompressed public key as hex without the 04 prefix.
func (p *PrivateKeyProvider) PublicKey() string {
	return encodePublicKey(&p.privateKey.PublicKey)
}

// PrivateKeyHex returns the raw private scalar as hex.
func (p *PrivateKeyProvider) PrivateKeyHex() string {
	return hex.EncodeToString(p.privateKey.D.FillBytes(make([]byte, 32)))
}

// Sign hashes msg and returns the 64-byte r||s signature.
func (p *PrivateKeyProvider) Sign(msg []byte) ([]byte, error) {
	digest, err := Hash(p.hashAlgo, msg)
	if err != nil {
		return nil, err
	}

	if p.sigAlgo == interfaces.ECDSASecp256k1 {
		sig, err := ethcrypto.Sign(digest, p.privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign: %w", err)
		}
		// Drop the recovery id.
		return sig[:64], nil
	}

	r, s, err := ecdsa.Sign(rand.Reader, p.privateKey, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// UserSignature signs the user-domain-tagged jwt.
func (p *PrivateKeyProvider) UserSignature(jwt string) ([]byte, error) {
	return p.Sign(cryptoutils.WithDomainTag(cryptoutils.UserDomainTag, []byte(jwt)))
}

func (p *PrivateKeyProvider) SignatureAlgorithm() interfaces.SignatureAlgorithm {
	return p.sigAlgo
}

func (p *PrivateKeyProvider) HashAlgorithm() interfaces.HashAlgorithm {
	return p.hashAlgo
}

func (p *PrivateKeyProvider) KeyWeight() int {
	return p.weight
}

// Hash digests msg with the registered hash algorithm.
func Hash(hashAlgo interfaces.HashAlgorithm, msg []byte) ([]byte, error) {
	h, err := hasherFor(hashAlgo)
	if err != nil {
		return nil, err
	}
	h.Write(msg)
	return h.Sum(nil), nil
}

// Verify checks a 64-byte r||s signature over msg against a hex public key.
func Verify(publicKey string, sigAlgo interfaces.SignatureAlgorithm, hashAlgo interfaces.HashAlgorithm, msg, sig []byte) (bool, error) {
	pub, err := DecodePublicKey(sigAlgo, publicKey)
	if err != nil {
		return false, err
	}

	digest, err := Hash(hashAlgo, msg)
	if err != nil {
		return false, err
	}

	if len(sig) != 64 {
		return false, nil
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pub, digest, r, s), nil
}

// DecodePublicKey parses a hex public key, with or without the 04 prefix.
func DecodePublicKey(sigAlgo interfaces.SignatureAlgorithm, publicKey string) (*ecdsa.PublicKey, error) {
	curve, err := curveFor(sigAlgo)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(publicKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid public key hex: %v", interfaces.ErrConfiguration, err)
	}
	if len(raw) == 64 {
		raw = append([]byte{0x04}, raw...)
	}
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("%w: invalid public key length %d", interfaces.ErrConfiguration, len(raw))
	}

	x := new(big.Int).SetBytes(raw[1:33])
	y := new(big.Int).SetBytes(raw[33:])
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("%w: public key is not on %s", interfaces.ErrConfiguration, sigAlgo)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func encodePublicKey(pub *ecdsa.PublicKey) string {
	raw := make([]byte, 64)
	pub.X.FillBytes(raw[:32])
	pub.Y.FillBytes(raw[32:])
	return hex.EncodeToString(raw)
}

func curveFor(sigAlgo interfaces.SignatureAlgorithm) (elliptic.Curve, error) {
	switch sigAlgo {
	case interfaces.ECDSAP256:
		return elliptic.P256(), nil
	case interfaces.ECDSASecp256k1:
		return ethcrypto.S256(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported signature algorithm %d", interfaces.ErrConfiguration, int(sigAlgo))
	}
}

func hasherFor(hashAlgo interfaces.HashAlgorithm) (hash.Hash, error) {
	switch hashAlgo {
	case interfaces.SHA2_256:
		return sha256.New(), nil
	case interfaces.SHA3_256:
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported hash algorithm %d", interfaces.ErrConfiguration, int(hashAlgo))
	}
}
