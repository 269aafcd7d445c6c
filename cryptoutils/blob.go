package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of a derived blob key.
const KeySize = chacha20poly1305.KeySize

// DeriveKey derives a 32-byte blob key from a secret (the static backup secret or a PIN).
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// DeriveIV derives the 32-byte IV bound to key. Only the first 16 key bytes are used.
func DeriveIV(key []byte) []byte {
	if len(key) > 16 {
		key = key[:16]
	}
	sum := sha256.Sum256(key)
	return sum[:]
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under key. The iv is bound as
// associated data and a random 24-byte nonce is prefixed to the output.
func Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid blob key: %v", interfaces.ErrConfiguration, err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, iv), nil
}

// Decrypt opens a blob produced by Encrypt. Any authentication failure, including a
// key derived from the wrong secret, returns ErrDecryption.
func Decrypt(key, iv, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid blob key: %v", interfaces.ErrConfiguration, err)
	}

	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: blob too short", interfaces.ErrDecryption)
	}

	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, iv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecryption, err)
	}
	return plaintext, nil
}

// BlobCipher binds a key and IV derived from one secret.
type BlobCipher struct {
	key []byte
	iv  []byte
}

// NewBlobCipher derives the key and IV for secret.
func NewBlobCipher(secret string) *BlobCipher {
	key := DeriveKey(secret)
	return &BlobCipher{key: key, iv: DeriveIV(key)}
}

// Encrypt seals plaintext.
func (c *BlobCipher) Encrypt(plaintext []byte) ([]byte, error) {
	return Encrypt(c.key, c.iv, plaintext)
}

// Decrypt opens a sealed blob.
func (c *BlobCipher) Decrypt(blob []byte) ([]byte, error) {
	return Decrypt(c.key, c.iv, blob)
}
