package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// AddKeyScript registers a public key on the signing account.
const AddKeyScript = `import Crypto

transaction(publicKey: String, signatureAlgorithm: UInt8, hashAlgorithm: UInt8, weight: UFix64) {
    prepare(signer: auth(AddKey) &Account) {
        let key = PublicKey(
            publicKey: publicKey.decodeHex(),
            signatureAlgorithm: SignatureAlgorithm(rawValue: signatureAlgorithm)!
        )
        signer.keys.add(
            publicKey: key,
            hashAlgorithm: HashAlgorithm(rawValue: hashAlgorithm)!,
            weight: weight
        )
    }
}
`

type cadenceValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func encodeArg(typ, value string) []byte {
	// Marshalling a struct of two strings cannot fail.
	encoded, _ := json.Marshal(cadenceValue{Type: typ, Value: value})
	return encoded
}

// StringArg encodes a JSON-Cadence String argument.
func StringArg(s string) []byte {
	return encodeArg("String", s)
}

// UInt8Arg encodes a JSON-Cadence UInt8 argument.
func UInt8Arg(v uint8) []byte {
	return encodeArg("UInt8", strconv.FormatUint(uint64(v), 10))
}

// UFix64Arg encodes a JSON-Cadence UFix64 argument with eight decimals.
func UFix64Arg(v float64) []byte {
	return encodeArg("UFix64", strconv.FormatFloat(v, 'f', 8, 64))
}

// DecodeArg parses a JSON-Cadence argument into its type and value.
func DecodeArg(arg []byte) (string, string, error) {
	var value cadenceValue
	if err := json.Unmarshal(arg, &value); err != nil {
		return "", "", fmt.Errorf("invalid JSON-Cadence argument: %w", err)
	}
	return value.Type, value.Value, nil
}

// CadenceSignatureAlgorithm maps a protocol signature algorithm id to the raw value
// of the Cadence SignatureAlgorithm enum.
func CadenceSignatureAlgorithm(a interfaces.SignatureAlgorithm) (uint8, error) {
	switch a {
	case interfaces.ECDSAP256:
		return 1, nil
	case interfaces.ECDSASecp256k1:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: unsupported signature algorithm %d", interfaces.ErrConfiguration, int(a))
	}
}

// CadenceHashAlgorithm maps a protocol hash algorithm id to the raw value of the
// Cadence HashAlgorithm enum.
func CadenceHashAlgorithm(h interfaces.HashAlgorithm) (uint8, error) {
	switch h {
	case interfaces.SHA2_256:
		return 1, nil
	case interfaces.SHA3_256:
		return 3, nil
	default:
		return 0, fmt.Errorf("%w: unsupported hash algorithm %d", interfaces.ErrConfiguration, int(h))
	}
}

// AddKeyArguments encodes the arguments of AddKeyScript for a public key.
func AddKeyArguments(publicKey string, sigAlgo interfaces.SignatureAlgorithm, hashAlgo interfaces.HashAlgorithm, weight int) ([][]byte, error) {
	cadenceSig, err := CadenceSignatureAlgorithm(sigAlgo)
	if err != nil {
		return nil, err
	}
	cadenceHash, err := CadenceHashAlgorithm(hashAlgo)
	if err != nil {
		return nil, err
	}

	return [][]byte{
		StringArg(publicKey),
		UInt8Arg(cadenceSig),
		UInt8Arg(cadenceHash),
		UFix64Arg(float64(weight)),
	}, nil
}
