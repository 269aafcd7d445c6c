package keys

import (
	"fmt"
	"strings"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic is returned for a phrase that fails BIP-39 validation. It is a
// decryption error: a wrong PIN yields garbage that fails validation.
var ErrInvalidMnemonic = fmt.Errorf("%w: invalid mnemonic phrase", interfaces.ErrDecryption)

// DefaultMnemonicWords is the length of generated backup phrases.
const DefaultMnemonicWords = 12

// NewMnemonic generates a new BIP-39 mnemonic with 12, 15, 18, 21 or 24 words.
func NewMnemonic(words int) (string, error) {
	if words < 12 || words > 24 || words%3 != 0 {
		return "", fmt.Errorf("%w: unsupported mnemonic length %d", interfaces.ErrConfiguration, words)
	}

	// Each 3 words carry 32 bits of entropy.
	entropy, err := bip39.NewEntropy(words / 3 * 32)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic collapses whitespace and lowercases a phrase.
func NormalizeMnemonic(mnemonic string) string {
	return strings.ToLower(strings.Join(strings.Fields(mnemonic), " "))
}

// ValidateMnemonic checks the word list and checksum.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(NormalizeMnemonic(mnemonic)) {
		return ErrInvalidMnemonic
	}
	return nil
}

// SeedFromMnemonic validates a mnemonic and returns its 64-byte BIP-39 seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	mnemonic = NormalizeMnemonic(mnemonic)
	if mnemonic == "" {
		return nil, ErrInvalidMnemonic
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return seed, nil
}
