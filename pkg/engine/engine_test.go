package engine_test

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmlee-dev/listex/pkg/crypto"
	"github.com/jmlee-dev/listex/pkg/engine"
	"github.com/jmlee-dev/listex/pkg/ledger"
	"github.com/jmlee-dev/listex/pkg/util"
)

const testFeeBps = 250 // 2.5%

var baseTime = time.Unix(1_700_000_000, 0)

// recordSink captures emitted events; onEmit lets a test reenter the engine
// from inside a sink callback.
type recordSink struct {
	mu     sync.Mutex
	events []engine.Event
	onEmit func(engine.Event)
}

func (s *recordSink) Emit(ev engine.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	hook := s.onEmit
	s.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (s *recordSink) byType(t engine.EventType) []engine.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type env struct {
	t            *testing.T
	eng          *engine.Engine
	bank         *ledger.Bank
	store        *engine.MemConsumed
	clock        *util.ManualClock
	sink         *recordSink
	admin        common.Address
	feeRecipient common.Address
	escrow       common.Address
	buyer        common.Address
	verifier     *crypto.Signer
}

func newEnv(t *testing.T) *env {
	t.Helper()

	verifier, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate verifier key: %v", err)
	}

	e := &env{
		t:            t,
		bank:         ledger.NewBank(),
		store:        engine.NewMemConsumed(),
		clock:        util.NewManualClock(baseTime),
		sink:         &recordSink{},
		admin:        common.HexToAddress("0xad000000000000000000000000000000000000ad"),
		feeRecipient: common.HexToAddress("0xfe000000000000000000000000000000000000fe"),
		escrow:       common.HexToAddress("0xe5000000000000000000000000000000000000e5"),
		buyer:        common.HexToAddress("0xb0000000000000000000000000000000000000b0"),
		verifier:     verifier,
	}

	e.eng, err = engine.New(engine.Config{
		Domain:          crypto.DefaultDomain(),
		FeeRateBps:      testFeeBps,
		FeeRecipient:    e.feeRecipient,
		TrustedVerifier: verifier.Address(),
		Escrow:          e.escrow,
		PriceScale:      big.NewInt(1), // unit scale keeps test arithmetic readable
		BatchLimit:      5,
		BuyEnabled:      true,
		CancelEnabled:   true,
	}, e.bank, e.store, e.clock, engine.SingleAdmin(e.admin), e.sink, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

func (e *env) newSeller() *crypto.Signer {
	e.t.Helper()
	s, err := crypto.GenerateKey()
	if err != nil {
		e.t.Fatalf("generate seller key: %v", err)
	}
	return s
}

// makeOrder builds and signs an order valid at baseTime.
func (e *env) makeOrder(seller *crypto.Signer, listing byte, amount, price int64) *engine.Order {
	e.t.Helper()
	order := &engine.Order{
		SellOrder: crypto.SellOrder{
			Seller:         seller.Address(),
			ListingID:      common.BytesToHash([]byte{listing}),
			Ticker:         "LTX",
			Amount:         big.NewInt(amount),
			Price:          big.NewInt(price),
			ListingTime:    uint64(baseTime.Unix()) - 60,
			ExpirationTime: uint64(baseTime.Unix()) + 3600,
			FeeRateBps:     testFeeBps,
			Salt:           big.NewInt(int64(listing) + 1000),
		},
	}
	e.sign(order, seller)
	return order
}

// sign replaces the order's signature with one from the given key.
func (e *env) sign(order *engine.Order, key *crypto.Signer) {
	e.t.Helper()
	sig, err := e.eng.Hasher().SignOrder(key, order.Body())
	if err != nil {
		e.t.Fatalf("sign order: %v", err)
	}
	order.Signature = sig
}

func (e *env) fund(addr common.Address, n int64) {
	e.t.Helper()
	if err := e.bank.Deposit(addr, big.NewInt(n)); err != nil {
		e.t.Fatalf("fund %s: %v", addr.Hex(), err)
	}
}

func (e *env) balance(addr common.Address) int64 {
	return e.bank.Balance(addr).Int64()
}

func (e *env) consumed(order *engine.Order) bool {
	used, err := e.eng.IsConsumed(order.Seller, order.ListingID)
	if err != nil {
		e.t.Fatalf("IsConsumed: %v", err)
	}
	return used
}

func wantCause(t *testing.T, err error, cause engine.RejectCause) {
	t.Helper()
	if !errors.Is(err, engine.ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder kind", err)
	}
	var oe *engine.OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("err = %v, want *OrderError", err)
	}
	if oe.Cause != cause {
		t.Fatalf("cause = %v, want %v", oe.Cause, cause)
	}
}

// ---- Single-order execution ----

func TestExecuteOrderSettles(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 100, 50) // cost 5000, fee 125
	e.fund(e.buyer, 5000)

	if err := e.eng.ExecuteOrder(e.buyer, order, big.NewInt(5000)); err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}

	if got := e.balance(e.buyer); got != 0 {
		t.Errorf("buyer balance = %d, want 0", got)
	}
	if got := e.balance(seller.Address()); got != 4875 {
		t.Errorf("seller balance = %d, want 4875", got)
	}
	if got := e.balance(e.feeRecipient); got != 125 {
		t.Errorf("fee recipient balance = %d, want 125", got)
	}
	if got := e.balance(e.escrow); got != 0 {
		t.Errorf("escrow balance = %d, want 0", got)
	}
	if !e.consumed(order) {
		t.Error("listing not marked consumed")
	}

	purchases := e.sink.byType(engine.EventPurchaseCompleted)
	if len(purchases) != 1 {
		t.Fatalf("purchase events = %d, want 1", len(purchases))
	}
	ev := purchases[0]
	if ev.Seller != seller.Address() || ev.Buyer != e.buyer || ev.ListingID != order.ListingID {
		t.Error("purchase event identity fields wrong")
	}
	notes := e.sink.byType(engine.EventTransferNotification)
	if len(notes) != 1 || notes[0].From != seller.Address() || notes[0].To != e.buyer {
		t.Error("transfer notification wrong")
	}
}

func TestExecuteOrderExactValueRequired(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 100, 50)
	e.fund(e.buyer, 10000)

	for _, v := range []*big.Int{big.NewInt(4999), big.NewInt(5001), big.NewInt(0), nil} {
		err := e.eng.ExecuteOrder(e.buyer, order, v)
		if !errors.Is(err, engine.ErrValueMismatch) {
			t.Errorf("value %v: err = %v, want ErrValueMismatch", v, err)
		}
	}
	if e.consumed(order) {
		t.Error("listing consumed despite value mismatch")
	}
	if got := e.balance(e.buyer); got != 10000 {
		t.Errorf("buyer balance changed: %d", got)
	}
}

func TestIdempotentConsumption(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 10, 10) // cost 100
	e.fund(e.buyer, 1000)

	if err := e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	// every subsequent flow fails with the consumption cause
	wantCause(t, e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)), engine.CauseAlreadyConsumed)
	wantCause(t, e.eng.CancelOrder(seller.Address(), order), engine.CauseAlreadyConsumed)

	refundOrder := *order
	e.sign(&refundOrder, e.verifier)
	wantCause(t, e.eng.Refund(e.verifier.Address(), &refundOrder), engine.CauseAlreadyConsumed)

	// a canceled listing behaves the same way
	order2 := e.makeOrder(seller, 2, 10, 10)
	if err := e.eng.CancelOrder(seller.Address(), order2); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	wantCause(t, e.eng.ExecuteOrder(e.buyer, order2, big.NewInt(100)), engine.CauseAlreadyConsumed)
}

func TestTemporalWindow(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 10, 10)
	e.fund(e.buyer, 1000)

	e.clock.Set(time.Unix(int64(order.ListingTime)-1, 0))
	wantCause(t, e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)), engine.CauseNotStarted)

	e.clock.Set(time.Unix(int64(order.ExpirationTime)+1, 0))
	wantCause(t, e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)), engine.CauseExpired)

	// boundaries are inclusive
	e.clock.Set(time.Unix(int64(order.ListingTime), 0))
	if err := e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)); err != nil {
		t.Errorf("execute at listing time: %v", err)
	}
}

func TestWrongSigner(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	imposter := e.newSeller()
	order := e.makeOrder(seller, 1, 10, 10)
	e.sign(order, imposter)
	e.fund(e.buyer, 1000)

	wantCause(t, e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)), engine.CauseWrongSigner)
	if e.consumed(order) {
		t.Error("listing consumed despite wrong signer")
	}
}

func TestMalformedSignature(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 10, 10)
	order.Signature = []byte{0x01, 0x02}
	e.fund(e.buyer, 1000)

	wantCause(t, e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)), engine.CauseMalformedSignature)
}

func TestZeroFeeSkipsFeeTransfer(t *testing.T) {
	e := newEnv(t)
	if err := e.eng.SetFeeRate(e.admin, 0); err != nil {
		t.Fatalf("SetFeeRate: %v", err)
	}
	// a rejecting fee recipient would fail the call if the zero-fee
	// transfer were attempted
	e.bank.SetRejecting(e.feeRecipient, true)

	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 10, 10)
	e.fund(e.buyer, 100)

	if err := e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)); err != nil {
		t.Fatalf("ExecuteOrder with zero fee: %v", err)
	}
	if got := e.balance(seller.Address()); got != 100 {
		t.Errorf("seller balance = %d, want full 100", got)
	}
}

func TestCurrentFeeRateAppliedNotSnapshot(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 100, 50) // cost 5000
	order.FeeRateBps = 0                     // seller "caps" the fee in the signed payload
	e.sign(order, seller)
	e.fund(e.buyer, 5000)

	if err := e.eng.ExecuteOrder(e.buyer, order, big.NewInt(5000)); err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}
	// the engine's configured rate applies regardless of the snapshot
	if got := e.balance(e.feeRecipient); got != 125 {
		t.Errorf("fee recipient balance = %d, want 125", got)
	}
}

func TestTransferRejectionAbortsAtomically(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 100, 50)
	e.fund(e.buyer, 5000)
	e.bank.SetRejecting(seller.Address(), true)

	err := e.eng.ExecuteOrder(e.buyer, order, big.NewInt(5000))
	if !errors.Is(err, ledger.ErrTransferRejected) {
		t.Fatalf("err = %v, want ErrTransferRejected", err)
	}

	// no partial state: fee reversed, attach reversed, nothing consumed
	if got := e.balance(e.buyer); got != 5000 {
		t.Errorf("buyer balance = %d, want 5000", got)
	}
	if got := e.balance(e.feeRecipient); got != 0 {
		t.Errorf("fee recipient balance = %d, want 0", got)
	}
	if got := e.balance(e.escrow); got != 0 {
		t.Errorf("escrow balance = %d, want 0", got)
	}
	if e.consumed(order) {
		t.Error("listing consumed despite aborted settlement")
	}
	if len(e.sink.byType(engine.EventPurchaseCompleted)) != 0 {
		t.Error("events emitted for an aborted call")
	}
}

// ---- Batch matching ----

func TestBatchMatchSettlesAndRefundsLeftover(t *testing.T) {
	e := newEnv(t)
	s1, s2 := e.newSeller(), e.newSeller()
	o1 := e.makeOrder(s1, 1, 10, 10) // cost 100, fee 2
	o2 := e.makeOrder(s2, 2, 20, 10) // cost 200, fee 5
	e.fund(e.buyer, 1000)

	// fund = cost1 + cost2 + extra(700)
	if err := e.eng.BatchMatchOrders(e.buyer, []*engine.Order{o1, o2}, big.NewInt(1000)); err != nil {
		t.Fatalf("BatchMatchOrders: %v", err)
	}

	if got := e.balance(e.buyer); got != 700 {
		t.Errorf("buyer balance = %d, want exactly the 700 leftover", got)
	}
	if got := e.balance(s1.Address()); got != 98 {
		t.Errorf("seller1 balance = %d, want 98", got)
	}
	if got := e.balance(s2.Address()); got != 195 {
		t.Errorf("seller2 balance = %d, want 195", got)
	}
	if got := e.balance(e.feeRecipient); got != 7 {
		t.Errorf("fee recipient balance = %d, want 7", got)
	}
	if !e.consumed(o1) || !e.consumed(o2) {
		t.Error("batch listings not consumed")
	}
	if n := len(e.sink.byType(engine.EventPurchaseCompleted)); n != 2 {
		t.Errorf("purchase events = %d, want 2", n)
	}
}

func TestBatchAbortsWhollyOnOneInvalidOrder(t *testing.T) {
	e := newEnv(t)
	s1, s2 := e.newSeller(), e.newSeller()
	o1 := e.makeOrder(s1, 1, 10, 10)
	o2 := e.makeOrder(s2, 2, 10, 10)
	o2.ExpirationTime = uint64(baseTime.Unix()) - 1 // expired
	e.sign(o2, s2)
	e.fund(e.buyer, 1000)

	err := e.eng.BatchMatchOrders(e.buyer, []*engine.Order{o1, o2}, big.NewInt(200))
	wantCause(t, err, engine.CauseExpired)

	if e.consumed(o1) {
		t.Error("earlier order in aborted batch was settled")
	}
	if got := e.balance(e.buyer); got != 1000 {
		t.Errorf("buyer balance = %d, want 1000 untouched", got)
	}
	if got := e.balance(s1.Address()); got != 0 {
		t.Errorf("seller1 balance = %d, want 0", got)
	}
}

func TestBatchInsufficientValueIsHardStop(t *testing.T) {
	e := newEnv(t)
	s1, s2 := e.newSeller(), e.newSeller()
	o1 := e.makeOrder(s1, 1, 10, 10) // cost 100
	o2 := e.makeOrder(s2, 2, 10, 10) // cost 100
	e.fund(e.buyer, 1000)

	err := e.eng.BatchMatchOrders(e.buyer, []*engine.Order{o1, o2}, big.NewInt(150))
	if !errors.Is(err, engine.ErrInsufficientBatchValue) {
		t.Fatalf("err = %v, want ErrInsufficientBatchValue", err)
	}
	// hard stop, not a skip: nothing settled, including the affordable first order
	if e.consumed(o1) || e.consumed(o2) {
		t.Error("orders consumed despite batch hard stop")
	}
	if got := e.balance(e.buyer); got != 1000 {
		t.Errorf("buyer balance = %d, want 1000", got)
	}
}

func TestBatchRejectsDuplicateListing(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 10, 10)
	e.fund(e.buyer, 1000)

	err := e.eng.BatchMatchOrders(e.buyer, []*engine.Order{order, order}, big.NewInt(200))
	wantCause(t, err, engine.CauseAlreadyConsumed)
	if e.consumed(order) {
		t.Error("listing consumed by rejected batch")
	}
}

func TestBatchCapAndEmptyBatch(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()

	orders := make([]*engine.Order, 6) // limit configured as 5
	for i := range orders {
		orders[i] = e.makeOrder(seller, byte(i+1), 1, 1)
	}
	e.fund(e.buyer, 1000)

	err := e.eng.BatchMatchOrders(e.buyer, orders, big.NewInt(6))
	if !errors.Is(err, engine.ErrBatchTooLarge) {
		t.Errorf("err = %v, want ErrBatchTooLarge", err)
	}

	err = e.eng.BatchMatchOrders(e.buyer, nil, big.NewInt(0))
	if !errors.Is(err, engine.ErrNoOrdersMatched) {
		t.Errorf("err = %v, want ErrNoOrdersMatched", err)
	}
}

// ---- Cancel and refund ----

func TestCancelRequiresSelfSignature(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	other := e.newSeller()

	// caller is not the signer
	order := e.makeOrder(seller, 1, 10, 10)
	wantCause(t, e.eng.CancelOrder(other.Address(), order), engine.CauseWrongSigner)

	// signature is not the seller's
	order2 := e.makeOrder(seller, 2, 10, 10)
	e.sign(order2, other)
	wantCause(t, e.eng.CancelOrder(seller.Address(), order2), engine.CauseWrongSigner)

	// both match: succeeds and emits seller->seller notification
	order3 := e.makeOrder(seller, 3, 10, 10)
	if err := e.eng.CancelOrder(seller.Address(), order3); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if !e.consumed(order3) {
		t.Error("canceled listing not consumed")
	}
	notes := e.sink.byType(engine.EventTransferNotification)
	if len(notes) != 1 || notes[0].From != seller.Address() || notes[0].To != seller.Address() {
		t.Error("cancel must emit a seller->seller transfer notification")
	}
	if len(e.sink.byType(engine.EventListingCanceled)) != 1 {
		t.Error("missing listing-canceled event")
	}
}

func TestRefundRequiresTrustedVerifier(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()

	// seller's own signature is not enough for a refund
	order := e.makeOrder(seller, 1, 10, 10)
	wantCause(t, e.eng.Refund(seller.Address(), order), engine.CauseWrongSigner)

	// verifier-signed order succeeds without the seller's cooperation
	refundOrder := *order
	e.sign(&refundOrder, e.verifier)
	if err := e.eng.Refund(e.verifier.Address(), &refundOrder); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if !e.consumed(order) {
		t.Error("refunded listing not consumed")
	}

	// after rotation the old verifier's signature stops working immediately
	newVerifier := e.newSeller()
	if err := e.eng.SetTrustedVerifier(e.admin, newVerifier.Address()); err != nil {
		t.Fatalf("SetTrustedVerifier: %v", err)
	}
	order2 := e.makeOrder(seller, 2, 10, 10)
	stale := *order2
	e.sign(&stale, e.verifier)
	wantCause(t, e.eng.Refund(e.verifier.Address(), &stale), engine.CauseWrongSigner)

	fresh := *order2
	e.sign(&fresh, newVerifier)
	if err := e.eng.Refund(newVerifier.Address(), &fresh); err != nil {
		t.Fatalf("Refund by rotated verifier: %v", err)
	}
}

func TestBatchCancelAllOrNothing(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	o1 := e.makeOrder(seller, 1, 10, 10)
	o2 := e.makeOrder(seller, 2, 10, 10)

	// consume o2 first so the batch cancel hits a terminal listing
	if err := e.eng.CancelOrder(seller.Address(), o2); err != nil {
		t.Fatalf("cancel o2: %v", err)
	}

	err := e.eng.BatchCancelOrders(seller.Address(), []*engine.Order{o1, o2})
	wantCause(t, err, engine.CauseAlreadyConsumed)
	if e.consumed(o1) {
		t.Error("batch cancel partially applied")
	}

	// clean batch succeeds
	o3 := e.makeOrder(seller, 3, 10, 10)
	if err := e.eng.BatchCancelOrders(seller.Address(), []*engine.Order{o1, o3}); err != nil {
		t.Fatalf("batch cancel: %v", err)
	}
	if !e.consumed(o1) || !e.consumed(o3) {
		t.Error("batch cancel did not consume all listings")
	}
}

func TestBatchRefund(t *testing.T) {
	e := newEnv(t)
	s1, s2 := e.newSeller(), e.newSeller()
	o1 := e.makeOrder(s1, 1, 10, 10)
	o2 := e.makeOrder(s2, 2, 10, 10)
	e.sign(o1, e.verifier)
	e.sign(o2, e.verifier)

	if err := e.eng.BatchRefund(e.verifier.Address(), []*engine.Order{o1, o2}); err != nil {
		t.Fatalf("BatchRefund: %v", err)
	}
	if !e.consumed(o1) || !e.consumed(o2) {
		t.Error("batch refund did not consume all listings")
	}
}

// ---- Feature gating ----

func TestFeatureGating(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	e.fund(e.buyer, 1000)

	if err := e.eng.SetFeature(e.admin, engine.FeatureBuy, false); err != nil {
		t.Fatalf("SetFeature: %v", err)
	}

	order := e.makeOrder(seller, 1, 10, 10)
	if err := e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)); !errors.Is(err, engine.ErrFeatureDisabled) {
		t.Errorf("execute with buy off: %v, want ErrFeatureDisabled", err)
	}
	if err := e.eng.BatchMatchOrders(e.buyer, []*engine.Order{order}, big.NewInt(100)); !errors.Is(err, engine.ErrFeatureDisabled) {
		t.Errorf("batch with buy off: %v, want ErrFeatureDisabled", err)
	}
	// cancel unaffected
	if err := e.eng.CancelOrder(seller.Address(), order); err != nil {
		t.Errorf("cancel with buy off: %v", err)
	}

	// and the other way around
	if err := e.eng.SetFeatures(e.admin, []engine.Feature{engine.FeatureBuy, engine.FeatureCancel}, true); err != nil {
		t.Fatalf("SetFeatures: %v", err)
	}
	if err := e.eng.SetFeature(e.admin, engine.FeatureCancel, false); err != nil {
		t.Fatalf("SetFeature: %v", err)
	}

	order2 := e.makeOrder(seller, 2, 10, 10)
	if err := e.eng.CancelOrder(seller.Address(), order2); !errors.Is(err, engine.ErrFeatureDisabled) {
		t.Errorf("cancel with cancel off: %v, want ErrFeatureDisabled", err)
	}
	refundOrder := *order2
	e.sign(&refundOrder, e.verifier)
	if err := e.eng.Refund(e.verifier.Address(), &refundOrder); !errors.Is(err, engine.ErrFeatureDisabled) {
		t.Errorf("refund with cancel off: %v, want ErrFeatureDisabled", err)
	}
	if err := e.eng.ExecuteOrder(e.buyer, order2, big.NewInt(100)); err != nil {
		t.Errorf("execute with cancel off: %v", err)
	}
}

// ---- Administration ----

func TestFeeRateAdministration(t *testing.T) {
	e := newEnv(t)
	stranger := common.HexToAddress("0x5717000000000000000000000000000000005717")

	if err := e.eng.SetFeeRate(stranger, 100); !errors.Is(err, engine.ErrUnauthorized) {
		t.Errorf("non-admin update: %v, want ErrUnauthorized", err)
	}

	if err := e.eng.SetFeeRate(e.admin, engine.MaxFeeRateBps+1); !errors.Is(err, engine.ErrFeeRateTooHigh) {
		t.Errorf("over-ceiling update: %v, want ErrFeeRateTooHigh", err)
	}
	if got := e.eng.FeeRate(); got != testFeeBps {
		t.Errorf("rate changed by rejected update: %d", got)
	}

	if err := e.eng.SetFeeRate(e.admin, 500); err != nil {
		t.Fatalf("SetFeeRate: %v", err)
	}
	if got := e.eng.FeeRate(); got != 500 {
		t.Errorf("rate = %d, want 500", got)
	}
	changes := e.sink.byType(engine.EventFeeRateChanged)
	if len(changes) != 1 || changes[0].OldBps != testFeeBps || changes[0].NewBps != 500 {
		t.Errorf("fee change event wrong: %+v", changes)
	}
}

func TestAdminGuardsOnAllSetters(t *testing.T) {
	e := newEnv(t)
	stranger := common.HexToAddress("0x5717000000000000000000000000000000005717")

	if err := e.eng.SetFeeRecipient(stranger, stranger); !errors.Is(err, engine.ErrUnauthorized) {
		t.Error("SetFeeRecipient not admin-guarded")
	}
	if err := e.eng.SetTrustedVerifier(stranger, stranger); !errors.Is(err, engine.ErrUnauthorized) {
		t.Error("SetTrustedVerifier not admin-guarded")
	}
	if err := e.eng.SetFeature(stranger, engine.FeatureBuy, false); !errors.Is(err, engine.ErrUnauthorized) {
		t.Error("SetFeature not admin-guarded")
	}
	if err := e.eng.SetFeature(e.admin, engine.Feature(42), false); err == nil {
		t.Error("unknown feature accepted")
	}
}

// ---- Reentrancy ----

func TestReentrantCallRejected(t *testing.T) {
	e := newEnv(t)
	seller := e.newSeller()
	order := e.makeOrder(seller, 1, 10, 10)
	victim := e.makeOrder(seller, 2, 10, 10)
	e.fund(e.buyer, 1000)

	var reentrantErr error
	e.sink.onEmit = func(engine.Event) {
		if reentrantErr == nil {
			reentrantErr = e.eng.CancelOrder(seller.Address(), victim)
		}
	}

	if err := e.eng.ExecuteOrder(e.buyer, order, big.NewInt(100)); err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}
	if !errors.Is(reentrantErr, engine.ErrReentrantCall) {
		t.Errorf("nested call err = %v, want ErrReentrantCall", reentrantErr)
	}
	if e.consumed(victim) {
		t.Error("reentrant call mutated state")
	}
}

// ---- Scale factor ----

func TestDefaultPriceScale(t *testing.T) {
	order := &engine.Order{
		SellOrder: crypto.SellOrder{
			Amount: big.NewInt(3),
			Price:  big.NewInt(7),
		},
	}
	want := new(big.Int).Mul(big.NewInt(21), engine.DefaultPriceScale)
	if got := order.Cost(engine.DefaultPriceScale); got.Cmp(want) != 0 {
		t.Errorf("cost = %s, want %s", got, want)
	}
}

func TestConstructorRejectsOverCeilingRate(t *testing.T) {
	e := newEnv(t)
	_, err := engine.New(engine.Config{
		Domain:     crypto.DefaultDomain(),
		FeeRateBps: engine.MaxFeeRateBps + 1,
	}, e.bank, e.store, e.clock, engine.SingleAdmin(e.admin), nil, nil)
	if !errors.Is(err, engine.ErrFeeRateTooHigh) {
		t.Errorf("err = %v, want ErrFeeRateTooHigh", err)
	}
}
