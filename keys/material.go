// Package keys derives backup share keys from BIP-39 seed phrases and implements the
// signing providers used by the transaction builder.
package keys

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// KeyMaterial is a P-256 key deterministically derived from a seed phrase. It lives
// only in memory; the phrase is persisted only encrypted under a PIN.
type KeyMaterial struct {
	mnemonic   string
	path       string
	key        *ExtendedKey
	privateKey *ecdsa.PrivateKey
}

// NewKeyMaterial derives the key for mnemonic at DefaultDerivationPath.
func NewKeyMaterial(mnemonic string) (*KeyMaterial, error) {
	return NewKeyMaterialWithPath(mnemonic, DefaultDerivationPath)
}

// NewKeyMaterialWithPath derives the key for mnemonic at path.
func NewKeyMaterialWithPath(mnemonic, path string) (*KeyMaterial, error) {
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}

	key, err := DerivePath(seed, path)
	if err != nil {
		return nil, err
	}

	privateKey, err := privateKeyFromBytes(interfaces.ECDSAP256, key.Key)
	if err != nil {
		return nil, fmt.Errorf("derived key is invalid: %w", err)
	}

	return &KeyMaterial{
		mnemonic:   NormalizeMnemonic(mnemonic),
		path:       path,
		key:        key,
		privateKey: privateKey,
	}, nil
}

// GenerateKeyMaterial creates key material from a fresh mnemonic of the given length.
func GenerateKeyMaterial(words int) (*KeyMaterial, error) {
	mnemonic, err := NewMnemonic(words)
	if err != nil {
		return nil, err
	}
	return NewKeyMaterial(mnemonic)
}

// Mnemonic returns the normalized seed phrase.
func (m *KeyMaterial) Mnemonic() string {
	return m.mnemonic
}

// Path returns the derivation path.
func (m *KeyMaterial) Path() string {
	return m.path
}

// PublicKey returns the uncompressed public key as hex without the 04 prefix.
func (m *KeyMaterial) PublicKey() string {
	return encodePublicKey(&m.privateKey.PublicKey)
}

// Provider returns a signing provider for this key.
func (m *KeyMaterial) Provider(hashAlgo interfaces.HashAlgorithm, weight int) (*SeedPhraseProvider, error) {
	inner, err := NewPrivateKeyProvider(m.privateKey, interfaces.ECDSAP256, hashAlgo, weight)
	if err != nil {
		return nil, err
	}
	return &SeedPhraseProvider{PrivateKeyProvider: inner, material: m}, nil
}

// SeedPhraseProvider is a backup share signer: ECDSA P-256, SHA2-256 by default,
// weight 500.
type SeedPhraseProvider struct {
	*PrivateKeyProvider
	material *KeyMaterial
}

// NewSeedPhraseProvider derives a share provider from mnemonic.
func NewSeedPhraseProvider(mnemonic string) (*SeedPhraseProvider, error) {
	material, err := NewKeyMaterial(mnemonic)
	if err != nil {
		return nil, err
	}
	return material.Provider(interfaces.SHA2_256, interfaces.ShareWeight)
}

// Mnemonic returns the seed phrase backing this provider.
func (p *SeedPhraseProvider) Mnemonic() string {
	return p.material.Mnemonic()
}

// Material returns the underlying key material.
func (p *SeedPhraseProvider) Material() *KeyMaterial {
	return p.material
}

var (
	_ interfaces.SigningProvider = (*PrivateKeyProvider)(nil)
	_ interfaces.SigningProvider = (*SeedPhraseProvider)(nil)
)
