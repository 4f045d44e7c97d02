package types

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Hash is a 32-byte, collision-resistant digest used throughout the
// pipeline for batch hashes, block hashes and Merkle roots.
type Hash [32]byte

// Bytes8 is an 8-byte identifier, used for the DA namespace id.
type Bytes8 [8]byte

var ErrInvalidHashLength = errors.New("types: invalid hash length")

// BytesToHash right-aligns b into a Hash, truncating from the left if
// b is longer than 32 bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > len(h) {
		b = b[len(b)-len(h):]
	}
	copy(h[len(h)-len(b):], b)
	return h
}

// HexToHash parses a 0x-prefixed or bare hex string into a Hash.
func HexToHash(s string) (Hash, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) > 32 {
		return Hash{}, fmt.Errorf("%w: got %d bytes", ErrInvalidHashLength, len(b))
	}
	return BytesToHash(b), nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) Bytes() []byte {
	out := make([]byte, len(h))
	copy(out, h[:])
	return out
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HexToHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func BytesToBytes8(b []byte) Bytes8 {
	var out Bytes8
	if len(b) > len(out) {
		b = b[len(b)-len(out):]
	}
	copy(out[len(out)-len(b):], b)
	return out
}

func (b Bytes8) IsZero() bool {
	return b == Bytes8{}
}

func (b Bytes8) String() string {
	return "0x" + hex.EncodeToString(b[:])
}

func (b Bytes8) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Bytes8) UnmarshalText(text []byte) error {
	raw, err := decodeHex(string(text))
	if err != nil {
		return err
	}
	if len(raw) > 8 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidHashLength, len(raw))
	}
	*b = BytesToBytes8(raw)
	return nil
}
