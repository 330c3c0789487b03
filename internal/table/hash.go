// Computes the deterministic state digest of a table.

package table

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashLen is the digest width in bytes.
const HashLen = 32

// Hash is a Keccak-256 digest.
type Hash [HashLen]byte

// String returns the 0x prefixed hex encoding.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero digest.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	p, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = p
	return nil
}

// ParseHash decodes a hex digest, with or without 0x prefix. An empty string
// is the zero digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return h, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != HashLen {
		return h, fmt.Errorf("invalid hash length: got %d bytes, want %d", len(b), HashLen)
	}
	copy(h[:], b)
	return h, nil
}

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		_, _ = d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

// isHashField reports whether a field contributes to the digest. Names
// starting or ending with an underscore are bookkeeping, except the status.
func isHashField(name string) bool {
	if name == "" {
		return false
	}
	if name == StatusField {
		return true
	}
	return name[0] != '_' && name[len(name)-1] != '_'
}

// digest accumulates rows into a Keccak-256 state.
type digest struct {
	h      hash.Hash
	fields []string
	buf    []byte
	rows   int
}

func newDigest(fields []string) *digest {
	hashed := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		if isHashField(f) {
			hashed = append(hashed, f)
		}
	}
	hashed = append(hashed, StatusField)
	return &digest{h: sha3.NewLegacyKeccak256(), fields: hashed}
}

// add writes a live row. Absent fields are written as empty values so that
// an unset field and a field set to "" hash the same, matching Field().
func (d *digest) add(e *Entry) {
	if d.rows != 0 {
		d.buf = append(d.buf[:0], 0xFF)
		_, _ = d.h.Write(d.buf)
	}
	d.rows++
	for _, name := range d.fields {
		var value string
		switch {
		case name != StatusField:
			value = e.Field(name)
		case e.status == StatusNormal:
			value = "0"
		default:
			value = "1"
		}
		d.buf = d.buf[:0]
		d.buf = binary.AppendUvarint(d.buf, uint64(len(name)))
		d.buf = append(d.buf, name...)
		d.buf = binary.AppendUvarint(d.buf, uint64(len(value)))
		d.buf = append(d.buf, value...)
		_, _ = d.h.Write(d.buf)
	}
}

func (d *digest) sum() Hash {
	var h Hash
	if d.rows == 0 {
		return h
	}
	d.h.Sum(h[:0])
	return h
}
