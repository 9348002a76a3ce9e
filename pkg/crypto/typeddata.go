package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator for typed order digests.
// It binds every signature to one engine name/version/deployment, so a
// signature produced for this engine cannot be replayed elsewhere.
type Domain struct {
	Name              string         // Engine name (e.g. "Listex")
	Version           string         // Engine version (e.g. "1")
	ChainID           *big.Int       // Deployment chain identifier
	VerifyingContract common.Address // Execution-context identifier (zero for off-chain)
}

// DefaultDomain returns the Listex signing domain used by the dev deployment.
func DefaultDomain() Domain {
	return Domain{
		Name:              "Listex",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// SellOrder is the signable body of a listing: every field is bound into
// the typed digest, so mutating any of them invalidates the signature.
type SellOrder struct {
	Seller         common.Address `json:"seller"`         // Account entitled to the payout
	ListingID      common.Hash    `json:"listingId"`      // Opaque 32-byte key, unique per seller
	Ticker         string         `json:"ticker"`         // Asset ticker (hashed into the digest, keeps it fixed-width)
	Amount         *big.Int       `json:"amount"`         // Integral quantity of the asset
	Price          *big.Int       `json:"price"`          // Unit price, fixed-point scaled
	ListingTime    uint64         `json:"listingTime"`    // Validity window start (unix seconds)
	ExpirationTime uint64         `json:"expirationTime"` // Validity window end (unix seconds)
	FeeRateBps     uint64         `json:"feeRateBps"`     // Fee-rate snapshot at signing time; informational only,
	//                                                       settlement always applies the engine's current rate
	Salt *big.Int `json:"salt"` // Random salt for uniqueness
}

// OrderHasher computes domain-separated EIP-712 digests for sell orders.
type OrderHasher struct {
	domain Domain
}

// NewOrderHasher creates an order hasher bound to the given domain.
func NewOrderHasher(domain Domain) *OrderHasher {
	return &OrderHasher{domain: domain}
}

var sellOrderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SellOrder": []apitypes.Type{
		{Name: "seller", Type: "address"},
		{Name: "listingId", Type: "bytes32"},
		{Name: "ticker", Type: "string"},
		{Name: "amount", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "listingTime", Type: "uint256"},
		{Name: "expirationTime", Type: "uint256"},
		{Name: "feeRateBps", Type: "uint256"},
		{Name: "salt", Type: "uint256"},
	},
}

// HashOrder returns the 32-byte digest a seller signs:
// keccak256("\x19\x01" || domainSeparator || hashStruct(order)).
// Pure function of the order and domain; no state involved.
func (h *OrderHasher) HashOrder(order *SellOrder) ([]byte, error) {
	if order.Amount == nil || order.Price == nil || order.Salt == nil {
		return nil, fmt.Errorf("order has nil numeric field")
	}

	typedData := apitypes.TypedData{
		Types:       sellOrderTypes,
		PrimaryType: "SellOrder",
		Domain: apitypes.TypedDataDomain{
			Name:              h.domain.Name,
			Version:           h.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(h.domain.ChainID),
			VerifyingContract: h.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"seller":         order.Seller.Hex(),
			"listingId":      order.ListingID.Hex(),
			"ticker":         order.Ticker,
			"amount":         order.Amount.String(),
			"price":          order.Price.String(),
			"listingTime":    new(big.Int).SetUint64(order.ListingTime).String(),
			"expirationTime": new(big.Int).SetUint64(order.ExpirationTime).String(),
			"feeRateBps":     new(big.Int).SetUint64(order.FeeRateBps).String(),
			"salt":           order.Salt.String(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash order: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

// SignOrder signs an order's digest with the given key.
func (h *OrderHasher) SignOrder(signer *Signer, order *SellOrder) ([]byte, error) {
	digest, err := h.HashOrder(order)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest)
}

// RecoverSigner recovers the account that signed the order.
func (h *OrderHasher) RecoverSigner(order *SellOrder, signature []byte) (common.Address, error) {
	digest, err := h.HashOrder(order)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest, signature)
}
