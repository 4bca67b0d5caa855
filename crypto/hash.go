package crypto

import (
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// HashLength is the size in bytes of every protocol digest.
const HashLength = 32

// Hash is a 32-byte protocol digest: order hashes, hash-locks, secrets and
// derived escrow identities all share this shape.
type Hash [HashLength]byte

// IsZero reports whether the digest is all zeroes.
func (h Hash) IsZero() bool { return h == Hash{} }

// Hex returns the 0x-prefixed hex form of the digest.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 32-byte digest from hex, with or without 0x prefix.
func ParseHash(raw string) (Hash, error) {
	var h Hash
	decoded, err := decodeFixedHex(raw, HashLength)
	if err != nil {
		return h, fmt.Errorf("hash: %w", err)
	}
	copy(h[:], decoded)
	return h, nil
}

// Blake2b256 is the protocol hash. It is pinned: order hashes, hash-locks and
// escrow identities only reproduce across implementations when every party
// uses the unkeyed 256-bit Blake2b digest.
func Blake2b256(data ...[]byte) Hash {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		// Only a key longer than 64 bytes makes New256 fail.
		panic(err)
	}
	for _, chunk := range data {
		hasher.Write(chunk)
	}
	var out Hash
	copy(out[:], hasher.Sum(nil))
	return out
}

// HashSecret returns the hash-lock committed to by the supplied preimage.
func HashSecret(secret Hash) Hash { return Blake2b256(secret[:]) }

// Keccak256 hashes Ledger-B payloads. Ledger-B is EVM compatible so Merkle
// proofs about its escrows are keccak based.
func Keccak256(data ...[]byte) Hash {
	var out Hash
	copy(out[:], ethcrypto.Keccak256(data...))
	return out
}
