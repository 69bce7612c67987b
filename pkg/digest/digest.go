// Package digest derives the canonical record identity used throughout the
// engine: a fixed 16-byte digest of a fixed 10-byte key.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeySize is the size of a raw key (a phone number in the source domain).
	KeySize = 10
	// Size is the size of a digest in bytes.
	Size = 16
)

// ErrKeyTooLong is returned when a string does not fit in a Key.
var ErrKeyTooLong = errors.New("digest: key longer than 10 bytes")

// Key is a raw fixed-size key.
type Key [KeySize]byte

// Digest is the truncated SHA-256 of a Key.
type Digest [Size]byte

// Sum returns the first 16 bytes of SHA-256(key).
func Sum(key Key) Digest {
	full := sha256.Sum256(key[:])
	var d Digest
	copy(d[:], full[:Size])
	return d
}

// KeyFromString packs s into a Key, zero padding on the right.
func KeyFromString(s string) (Key, error) {
	var k Key
	if len(s) > KeySize {
		return k, fmt.Errorf("%w: %q", ErrKeyTooLong, s)
	}
	copy(k[:], s)
	return k, nil
}

// KeyFromUint64 encodes n big-endian into the low 8 bytes of a Key.
// Distinct values always produce distinct keys.
func KeyFromUint64(n uint64) Key {
	var k Key
	binary.BigEndian.PutUint64(k[KeySize-8:], n)
	return k
}

// Compare orders digests lexicographically by raw bytes.
func Compare(a, b Digest) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a sorts before b.
func (d Digest) Less(other Digest) bool {
	return Compare(d, other) < 0
}

// Xor returns d ^ other byte by byte.
func (d Digest) Xor(other Digest) Digest {
	var out Digest
	for i := range d {
		out[i] = d[i] ^ other[i]
	}
	return out
}

// IsZero reports whether every byte is zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Parse decodes a 32-character hex string.
func Parse(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("digest: %w", err)
	}
	if len(raw) != Size {
		return d, fmt.Errorf("digest: want %d bytes, got %d", Size, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}
