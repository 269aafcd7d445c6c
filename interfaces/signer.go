package interfaces

// SigningProvider is the capability set every signing key kind exposes. The
// transaction builder depends only on this interface, so seed-phrase backed and
// keystore backed keys are interchangeable.
type SigningProvider interface {
	// PublicKey returns the uncompressed public key as hex, without the 04 prefix.
	PublicKey() string

	// Sign hashes msg with the provider's hash algorithm and signs the digest.
	Sign(msg []byte) ([]byte, error)

	// UserSignature signs a user-domain-tagged JWT for account registry sessions.
	UserSignature(jwt string) ([]byte, error)

	SignatureAlgorithm() SignatureAlgorithm
	HashAlgorithm() HashAlgorithm

	// KeyWeight is the weight the key is registered with on-chain.
	KeyWeight() int
}
