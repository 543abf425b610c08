package hash

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// DigestLengthBytes is the size of the output of Sum.
const DigestLengthBytes = 32

// Value is a type which writes its own encoding into a Hash.
//
// Domain names the type, so that two values of different types with the same
// encoding never hash alike.
type Value interface {
	io.WriterTo
	Domain() string
}

// Hash is the hash function we use for deriving binding factors, hashing
// verifying keys, and anything else that needs domain separated hashing.
//
// Internally, this is a wrapper around blake3.Hasher, whose extendable output
// lets Digest be used as a stream of bytes.
type Hash struct {
	h *blake3.Hasher
}

// New creates a Hash, writing initialData with WriteAny.
func New(initialData ...interface{}) *Hash {
	hash := &Hash{h: blake3.New()}
	for _, d := range initialData {
		_ = hash.WriteAny(d)
	}
	return hash
}

// Digest returns a reader for the current output of the function.
//
// This finalizes the current state of the hash, and returns what's
// essentially a stream of random bytes.
func (hash *Hash) Digest() io.Reader {
	return hash.h.Digest()
}

// Sum returns a slice of length DigestLengthBytes resulting from the current hash state.
// If a different length is required, use io.ReadFull(hash.Digest(), out) instead.
func (hash *Hash) Sum() []byte {
	out := make([]byte, DigestLengthBytes)
	if _, err := io.ReadFull(hash.Digest(), out); err != nil {
		panic(fmt.Sprintf("hash.Sum: internal hash failure: %v", err))
	}
	return out
}

// WriteAny absorbs each of data into the hash state.
//
// Supported types are []byte, string, uint64 and Value. Each item is framed
// as len(domain) ‖ domain ‖ len(body) ‖ body, with uvarint lengths, so
// adjacent items cannot be re-split into a different sequence.
func (hash *Hash) WriteAny(data ...interface{}) error {
	for _, d := range data {
		var (
			domain string
			body   []byte
		)
		switch t := d.(type) {
		case []byte:
			domain, body = "[]byte", t
		case string:
			domain, body = "string", []byte(t)
		case uint64:
			domain, body = "uint64", binary.BigEndian.AppendUint64(nil, t)
		case Value:
			var buf bytes.Buffer
			if _, err := t.WriteTo(&buf); err != nil {
				return fmt.Errorf("hash.Hash: write %s: %w", t.Domain(), err)
			}
			domain, body = t.Domain(), buf.Bytes()
		default:
			return fmt.Errorf("hash.Hash: unsupported type %T", d)
		}
		hash.frame([]byte(domain))
		hash.frame(body)
	}
	return nil
}

func (hash *Hash) frame(b []byte) {
	// blake3.Hasher.Write never fails
	_, _ = hash.h.Write(binary.AppendUvarint(nil, uint64(len(b))))
	_, _ = hash.h.Write(b)
}

// Clone returns a copy of the Hash in its current state.
func (hash *Hash) Clone() *Hash {
	return &Hash{h: hash.h.Clone()}
}

// Sum256 returns the plain BLAKE3-256 digest of data, without domain separation.
//
// This is used where the digest must be reproducible by other tools, as for
// the hash of a verifying key.
func Sum256(data []byte) [32]byte {
	return blake3.Sum256(data)
}
