package engine

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrFeatureDisabled means the entry point's feature switch is off.
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrInvalidOrder is the coarse order-rejection kind. Every *OrderError
	// unwraps to it, so integrations that don't care about the specific
	// cause can errors.Is against this one value.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrValueMismatch means the attached value does not exactly equal the
	// order's computed cost. No overpayment tolerance on the single-order path.
	ErrValueMismatch = errors.New("attached value does not match order cost")

	// ErrNoOrdersMatched means a batch call settled zero orders.
	ErrNoOrdersMatched = errors.New("no orders matched")

	// ErrBatchTooLarge means the batch exceeds the configured order cap.
	ErrBatchTooLarge = errors.New("batch exceeds order limit")

	// ErrInsufficientBatchValue means the batch's remaining funding cannot
	// cover an order's cost. Hard stop: the whole batch is rejected.
	ErrInsufficientBatchValue = errors.New("insufficient batch value")

	// ErrUnauthorized means the caller lacks the administrator capability.
	ErrUnauthorized = errors.New("caller is not the administrator")

	// ErrFeeRateTooHigh means a fee-rate update exceeds the ceiling.
	ErrFeeRateTooHigh = errors.New("fee rate exceeds ceiling")

	// ErrReentrantCall means a value-moving entry point was invoked while
	// another call held the engine's call slot.
	ErrReentrantCall = errors.New("reentrant call")
)

// RejectCause says why an order failed authentication or validity checks.
// The source system collapsed all of these into one error kind; they are
// kept distinct here for diagnosability.
type RejectCause int

const (
	CauseMalformedSignature RejectCause = iota + 1
	CauseWrongSigner
	CauseAlreadyConsumed
	CauseNotStarted
	CauseExpired
)

func (c RejectCause) String() string {
	switch c {
	case CauseMalformedSignature:
		return "malformed signature"
	case CauseWrongSigner:
		return "wrong signer"
	case CauseAlreadyConsumed:
		return "listing already consumed"
	case CauseNotStarted:
		return "listing not yet started"
	case CauseExpired:
		return "listing expired"
	default:
		return "unknown"
	}
}

// OrderError reports a rejected order along with the listing it targeted.
type OrderError struct {
	Cause     RejectCause
	Seller    common.Address
	ListingID common.Hash
	detail    error
}

func rejectOrder(cause RejectCause, o *Order, detail error) *OrderError {
	return &OrderError{Cause: cause, Seller: o.Seller, ListingID: o.ListingID, detail: detail}
}

func (e *OrderError) Error() string {
	msg := fmt.Sprintf("%s: %s (seller %s, listing %s)",
		ErrInvalidOrder, e.Cause, e.Seller.Hex(), e.ListingID.Hex())
	if e.detail != nil {
		msg += ": " + e.detail.Error()
	}
	return msg
}

func (e *OrderError) Unwrap() error { return ErrInvalidOrder }
