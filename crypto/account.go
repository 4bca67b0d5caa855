package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AccountPrefix is the human-readable prefix used when rendering Ledger-A
// account identifiers.
const AccountPrefix = "fus"

// AccountIDLength is the size in bytes of a Ledger-A party identifier.
const AccountIDLength = 32

// AccountID identifies a party (maker, resolver, owner, custody account) on
// Ledger-A. Derived escrow identities share the same representation.
type AccountID [AccountIDLength]byte

// IsZero reports whether the identifier is the all-zero sentinel.
func (a AccountID) IsZero() bool { return a == AccountID{} }

// Bytes returns a copy of the raw identifier bytes.
func (a AccountID) Bytes() []byte {
	out := make([]byte, AccountIDLength)
	copy(out, a[:])
	return out
}

// Hex returns the 0x-prefixed hex form of the identifier.
func (a AccountID) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String renders the identifier as a bech32 string with the account prefix.
func (a AccountID) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		return a.Hex()
	}
	encoded, err := bech32.Encode(AccountPrefix, conv)
	if err != nil {
		return a.Hex()
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler using the hex form so JSON
// payloads stay stable across prefixes.
func (a AccountID) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler accepting hex or bech32.
func (a *AccountID) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAccountID decodes an identifier from its 0x-hex or bech32 form.
func ParseAccountID(raw string) (AccountID, error) {
	var id AccountID
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return id, fmt.Errorf("account id required")
	}
	if strings.HasPrefix(strings.ToLower(trimmed), AccountPrefix+"1") {
		prefix, decoded, err := bech32.Decode(trimmed)
		if err != nil {
			return id, fmt.Errorf("invalid bech32 account: %w", err)
		}
		if prefix != AccountPrefix {
			return id, fmt.Errorf("unexpected account prefix %q", prefix)
		}
		conv, err := bech32.ConvertBits(decoded, 5, 8, false)
		if err != nil {
			return id, fmt.Errorf("error converting bits: %w", err)
		}
		if len(conv) != AccountIDLength {
			return id, fmt.Errorf("account id must be %d bytes, got %d", AccountIDLength, len(conv))
		}
		copy(id[:], conv)
		return id, nil
	}
	decoded, err := decodeFixedHex(trimmed, AccountIDLength)
	if err != nil {
		return id, fmt.Errorf("account id: %w", err)
	}
	copy(id[:], decoded)
	return id, nil
}

func decodeFixedHex(raw string, size int) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != size*2 {
		return nil, fmt.Errorf("must be %d bytes (got %d hex chars)", size, len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return decoded, nil
}
