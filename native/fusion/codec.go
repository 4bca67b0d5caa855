package fusion

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"fusionswap/crypto"
)

// Encoder produces the canonical binary form fed to the protocol hash:
// little-endian fixed-width integers, byte arrays verbatim and options as a
// one-byte tag followed by the value when present.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder { return &Encoder{buf: make([]byte, 0, 256)} }

func (e *Encoder) U8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *Encoder) U32(v uint32) *Encoder {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
	return e
}

func (e *Encoder) U64(v uint64) *Encoder {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	return e
}

// U128 appends v as 16 little-endian bytes. Values above 2^128-1 poison the
// encoder with ErrArithmeticOverflow.
func (e *Encoder) U128(v *uint256.Int) *Encoder {
	value := cloneAmount(v)
	if !fitsU128(value) {
		if e.err == nil {
			e.err = ErrArithmeticOverflow
		}
		value = zero()
	}
	be := value.Bytes32()
	for i := 31; i >= 16; i-- {
		e.buf = append(e.buf, be[i])
	}
	return e
}

// Fixed appends a fixed-size array verbatim.
func (e *Encoder) Fixed(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

// Option appends the presence tag and, when present, the bytes.
func (e *Encoder) Option(b []byte, present bool) *Encoder {
	if !present {
		return e.U8(0)
	}
	return e.U8(1).Fixed(b)
}

// Bytes returns the encoding or the first error recorded.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out, nil
}

// Hash applies the protocol hash to the encoding.
func (e *Encoder) Hash() (crypto.Hash, error) {
	encoded, err := e.Bytes()
	if err != nil {
		return crypto.Hash{}, err
	}
	return crypto.Blake2b256(encoded), nil
}

// OrderHashInput is the tuple bound into an order hash.
type OrderHashInput struct {
	Maker        crypto.AccountID
	SrcAsset     crypto.Hash
	DstAsset     [20]byte
	SrcAmount    *uint256.Int
	MinDstAmount *uint256.Int
	FillDeadline uint64
	Nonce        uint64
	CreatedAt    uint64
}

// ComputeOrderHash derives the primary key of an order.
func ComputeOrderHash(in OrderHashInput) (crypto.Hash, error) {
	return NewEncoder().
		Fixed(in.Maker[:]).
		Fixed(in.SrcAsset[:]).
		Fixed(in.DstAsset[:]).
		U128(in.SrcAmount).
		U128(in.MinDstAmount).
		U64(in.FillDeadline).
		U64(in.Nonce).
		U64(in.CreatedAt).
		Hash()
}

// VerifySecret reports whether secret is the preimage of hashLock.
func VerifySecret(secret, hashLock crypto.Hash) bool {
	return crypto.HashSecret(secret) == hashLock
}
