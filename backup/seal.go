package backup

import (
	"encoding/base64"
	"fmt"

	"github.com/ruteri/wallet-key-backup/cryptoutils"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
)

// SealMnemonic encrypts a seed phrase under pin for the data field of a backup record.
func SealMnemonic(pin, mnemonic string) (string, error) {
	if pin == "" {
		return "", fmt.Errorf("%w: empty PIN", interfaces.ErrConfiguration)
	}

	blob, err := cryptoutils.NewBlobCipher(pin).Encrypt([]byte(keys.NormalizeMnemonic(mnemonic)))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// OpenMnemonic decrypts the data field of a backup record. A wrong PIN fails either
// authentication or phrase validation; both return ErrDecryption.
func OpenMnemonic(pin, data string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("%w: invalid record data: %v", interfaces.ErrDecryption, err)
	}

	plaintext, err := cryptoutils.NewBlobCipher(pin).Decrypt(blob)
	if err != nil {
		return "", err
	}

	mnemonic := string(plaintext)
	if err := keys.ValidateMnemonic(mnemonic); err != nil {
		return "", err
	}
	return keys.NormalizeMnemonic(mnemonic), nil
}
