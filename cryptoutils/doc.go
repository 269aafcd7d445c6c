// Package cryptoutils provides the symmetric encryption used for backup files and
// sealed seed phrases, and the domain tags used when signing transactions.
//
// BlobCipher derives a 256-bit key from a secret with SHA-256 and an IV from the
// key. Blobs are sealed with XChaCha20-Poly1305: the output is a random 24-byte nonce
// followed by the ciphertext, and the IV is bound as associated data. Any
// authentication failure is reported as interfaces.ErrDecryption.
package cryptoutils
