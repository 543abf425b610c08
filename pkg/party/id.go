package party

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/zkbitcoin/committee/pkg/math/curve"
)

// ByteSize is the number of bytes required to store an ID.
const ByteSize = 2

// MaxID is the largest value an ID can take.
// It also bounds the number of members in a committee.
const MaxID = (1 << (ByteSize * 8)) - 1

// ID represents the identifier of a committee member.
//
// IDs are the x coordinates at which the dealer's polynomial is evaluated,
// so 0 is never a valid ID.
type ID uint16

// Scalar returns the corresponding curve.Scalar.
func (id ID) Scalar() *curve.Scalar {
	return curve.NewScalarUInt32(uint32(id))
}

// Bytes returns a []byte slice of length party.ByteSize.
func (id ID) Bytes() []byte {
	bytes := make([]byte, ByteSize)
	binary.BigEndian.PutUint16(bytes, uint16(id))
	return bytes
}

// String returns a base 10 representation of ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Validate returns an error if id is 0.
func (id ID) Validate() error {
	if id == 0 {
		return fmt.Errorf("party: invalid ID %d", id)
	}
	return nil
}

// WriteTo implements io.WriterTo.
func (id ID) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(id.Bytes())
	return int64(n), err
}

// Domain implements hash.Value.
func (ID) Domain() string {
	return "ID"
}

// FromBytes reads the first party.ByteSize bytes from b and creates an ID from it.
func FromBytes(b []byte) ID {
	return ID(binary.BigEndian.Uint16(b))
}

// IDFromString reads a base 10 string and attempts to generate an ID from it.
func IDFromString(str string) (ID, error) {
	p, err := strconv.ParseUint(str, 10, 16)
	if err != nil {
		return 0, err
	}
	id := ID(p)
	if err = id.Validate(); err != nil {
		return 0, err
	}
	return id, nil
}
