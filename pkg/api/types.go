package api

// Request/response types for REST endpoints and WebSocket messages.
//
// Caller identity (buyer, caller) is taken from the request body: this
// service is expected to sit behind an authenticating proxy that has
// already established who is invoking it. Order authenticity itself never
// depends on transport identity; it is enforced by signature recovery.

import (
	"math/big"

	"github.com/jmlee-dev/listex/pkg/engine"
)

// MatchRequest settles a single signed order.
type MatchRequest struct {
	Buyer         string        `json:"buyer"`
	AttachedValue *big.Int      `json:"attachedValue"`
	Order         *engine.Order `json:"order"`
}

// BatchMatchRequest settles several orders from one aggregate funding.
type BatchMatchRequest struct {
	Buyer              string          `json:"buyer"`
	TotalAttachedValue *big.Int        `json:"totalAttachedValue"`
	Orders             []*engine.Order `json:"orders"`
}

// TerminateRequest cancels or refunds a single listing.
type TerminateRequest struct {
	Caller string        `json:"caller"`
	Order  *engine.Order `json:"order"`
}

// BatchTerminateRequest cancels or refunds several listings.
type BatchTerminateRequest struct {
	Caller string          `json:"caller"`
	Orders []*engine.Order `json:"orders"`
}

// ListingStatus reports a listing's terminal flag.
type ListingStatus struct {
	Seller    string `json:"seller"`
	ListingID string `json:"listingId"`
	Consumed  bool   `json:"consumed"`
}

// FeeInfo reports the current fee configuration.
type FeeInfo struct {
	RateBps    uint64 `json:"rateBps"`
	CeilingBps uint64 `json:"ceilingBps"`
	Recipient  string `json:"recipient"`
}

// AccountInfo reports a ledger balance.
type AccountInfo struct {
	Address string   `json:"address"`
	Balance *big.Int `json:"balance"`
}

// FeeRateRequest updates the protocol fee rate.
type FeeRateRequest struct {
	Caller string `json:"caller"`
	Bps    uint64 `json:"bps"`
}

// AddressRequest updates a configured account (fee recipient, trusted verifier).
type AddressRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

// FeaturesRequest toggles feature switches in bulk.
type FeaturesRequest struct {
	Caller   string   `json:"caller"`
	Features []string `json:"features"`
	Enabled  bool     `json:"enabled"`
}

// WSSubscribeRequest is the client -> server subscription message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type okResponse struct {
	Status string `json:"status"`
}
