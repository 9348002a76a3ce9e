package crypto

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// DeriveListingID returns keccak256(seller || ticker || salt) as a 32-byte
// listing key. Listing IDs are caller-chosen opaque keys; clients that want
// a collision-free default can derive one here instead of inventing their own.
func DeriveListingID(seller common.Address, ticker string, salt *big.Int) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(seller.Bytes())
	h.Write([]byte(ticker))
	if salt != nil {
		h.Write(salt.Bytes())
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}
