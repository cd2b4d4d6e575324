package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var ErrInvalidAddress = errors.New("invalid address")

// ParseAddress parses a 0x-prefixed hex address. All-lowercase and
// all-uppercase input is accepted as is; mixed case must carry a valid
// EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) || !strings.HasPrefix(s, "0x") {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		raw, _ := hex.DecodeString(strings.ToLower(body))
		if EIP55(raw) != s {
			return common.Address{}, fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, s)
		}
	}
	return common.HexToAddress(s), nil
}

// EIP55 computes the checksummed hex string of a 20-byte address.
func EIP55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		// each hex char maps to one nibble of the hash
		nibble := hash[i>>1] & 0x0f
		if i%2 == 0 {
			nibble = hash[i>>1] >> 4
		}
		if c >= 'a' && nibble >= 8 {
			c -= 'a' - 'A'
		}
		out[2+i] = c
	}
	return string(out)
}
