package cryptoutils

// DomainTagLength is the fixed length of a domain separation tag.
const DomainTagLength = 32

var (
	// TransactionDomainTag prefixes every signed transaction payload or envelope.
	TransactionDomainTag = DomainTag("FLOW-V0.0-transaction")

	// UserDomainTag prefixes user message signatures.
	UserDomainTag = DomainTag("FLOW-V0.0-user")
)

// DomainTag right-pads tag with zero bytes to DomainTagLength. Longer tags are truncated.
func DomainTag(tag string) []byte {
	padded := make([]byte, DomainTagLength)
	copy(padded, tag)
	return padded
}

// WithDomainTag returns tag ++ msg in a fresh slice.
func WithDomainTag(tag, msg []byte) []byte {
	out := make([]byte, 0, len(tag)+len(msg))
	out = append(out, tag...)
	return append(out, msg...)
}
