package domain

import (
	"encoding/hex"
	"errors"
	"strings"
)

// Address identifies a bidder or the owner.
type Address string

// NoHolder is the holder of a ledger that has not accepted any bid yet.
const NoHolder Address = "0x0000000000000000000000000000000000000000"

var ErrInvalidAddress = errors.New("invalid address")

// ParseAddress accepts a 0x-prefixed, 20 byte hex address in any case and
// returns it lower-cased.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return "", ErrInvalidAddress
	}
	raw := strings.ToLower(s[2:])
	if _, err := hex.DecodeString(raw); err != nil {
		return "", ErrInvalidAddress
	}
	return Address("0x" + raw), nil
}

func (a Address) String() string {
	return string(a)
}

func (a Address) IsZero() bool {
	return a == "" || a == NoHolder
}
