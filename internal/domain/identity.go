package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the signer identity of a user, bot authority, or protocol
// authority. Requests prove control of an identity with a secp256k1
// signature, so identities are plain EVM addresses.
type Identity = common.Address

// ParseIdentity decodes a 0x-prefixed hex address. The zero address is
// rejected.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	id := common.HexToAddress(s)
	if id == (Identity{}) {
		return Identity{}, fmt.Errorf("%w: zero address", ErrInvalidIdentity)
	}
	return id, nil
}

// IsZeroIdentity reports whether id is the unset address.
func IsZeroIdentity(id Identity) bool {
	return id == (Identity{})
}
