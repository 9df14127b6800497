package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexBytes is a []byte which encodes as a 0x-prefixed hexadecimal string in
// json and yaml, as opposed to the base64 default.
type HexBytes []byte

// Hex returns the hexadecimal string representation of the HexBytes.
func (b HexBytes) Hex() string {
	return hex.EncodeToString(b)
}

// String returns the hexadecimal string representation of the HexBytes,
// prefixed with "0x".
func (b HexBytes) String() string {
	return "0x" + b.Hex()
}

// LeftPad returns a new HexBytes padded with leading zeros to the specified
// length n. If the length of b is already n or greater, it returns a copy.
func (b HexBytes) LeftPad(n int) HexBytes {
	if len(b) >= n {
		out := make(HexBytes, len(b))
		copy(out, b)
		return out
	}
	out := make(HexBytes, n)
	copy(out[n-len(b):], b)
	return out
}

// Equal reports whether b and other hold the same bytes.
func (b HexBytes) Equal(other HexBytes) bool {
	if len(b) != len(other) {
		return false
	}
	for i := range b {
		if b[i] != other[i] {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler, so HexBytes round-trips
// through json and yaml as "0x...".
func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The "0x" prefix is
// optional.
func (b *HexBytes) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "0x")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex string %q: %w", string(text), err)
	}
	*b = decoded
	return nil
}

// HexStringToHexBytes converts a hex string (with or without 0x prefix) to
// HexBytes. It returns an error if the string is not valid hexadecimal.
func HexStringToHexBytes(s string) (HexBytes, error) {
	b := new(HexBytes)
	if err := b.UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	return *b, nil
}

// HexStringToHexBytesMustUnmarshal converts a hex string to HexBytes and
// panics on malformed input. Use only for hardcoded constants.
func HexStringToHexBytesMustUnmarshal(s string) HexBytes {
	b, err := HexStringToHexBytes(s)
	if err != nil {
		panic(err)
	}
	return b
}
