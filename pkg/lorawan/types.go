package lorawan

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// ParseEUI64 parses a 16 character hex string.
func ParseEUI64(s string) (EUI64, error) {
	var eui EUI64
	if len(s) != 16 {
		return eui, fmt.Errorf("invalid EUI64 length: %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return eui, fmt.Errorf("invalid EUI64: %w", err)
	}
	copy(eui[:], b)
	return eui, nil
}

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// Upper returns the uppercase hex form used by the frame store.
func (e EUI64) Upper() string {
	return strings.ToUpper(e.String())
}
