package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// EventType names the settlement events exposed to external consumers.
type EventType string

const (
	// EventPurchaseCompleted: a listing settled; funds moved to seller and fee recipient.
	EventPurchaseCompleted EventType = "purchase_completed"
	// EventListingCanceled: a listing was terminated by cancel or refund.
	EventListingCanceled EventType = "listing_canceled"
	// EventTransferNotification: this listing's lifecycle ended. Emitted on
	// purchase (seller -> buyer) and on cancel/refund (seller -> seller,
	// signaling that no transfer occurred).
	EventTransferNotification EventType = "transfer_notification"
	// EventFeeRateChanged: the protocol fee rate was updated.
	EventFeeRateChanged EventType = "fee_rate_changed"
)

// Event is the envelope delivered to sinks. Identity fields sit at the top
// level so external indexers can filter without decoding payloads. Events
// are emitted only for calls that commit; an aborted call emits nothing.
type Event struct {
	Type      EventType      `json:"type"`
	Seller    common.Address `json:"seller,omitempty"`
	Buyer     common.Address `json:"buyer,omitempty"`
	From      common.Address `json:"from,omitempty"`
	To        common.Address `json:"to,omitempty"`
	ListingID common.Hash    `json:"listingId,omitempty"`
	Amount    *big.Int       `json:"amount,omitempty"`
	Price     *big.Int       `json:"price,omitempty"`
	OldBps    uint64         `json:"oldBps,omitempty"`
	NewBps    uint64         `json:"newBps,omitempty"`
}

// Sink receives committed settlement events. Implementations must be safe
// for concurrent use and must not call back into the engine.
type Sink interface {
	Emit(ev Event)
}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s *LogSink) Emit(ev Event) {
	s.Log.Infow(string(ev.Type),
		"seller", ev.Seller.Hex(),
		"buyer", ev.Buyer.Hex(),
		"listing_id", ev.ListingID.Hex(),
		"amount", ev.Amount,
		"price", ev.Price,
		"old_bps", ev.OldBps,
		"new_bps", ev.NewBps,
	)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}
