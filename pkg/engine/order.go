package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/jmlee-dev/listex/pkg/crypto"
)

// Order is a caller-supplied signed sell order: the signable body plus the
// detached signature over its typed digest. Orders are ephemeral inputs;
// the engine persists only the derived consumed flag, never the payload.
type Order struct {
	crypto.SellOrder
	Signature hexutil.Bytes `json:"signature"`
}

// Body returns the signable fields of the order.
func (o *Order) Body() *crypto.SellOrder {
	return &o.SellOrder
}

// Cost returns the exact attached value required to settle this order:
// price * amount * scale, where scale reconciles the price's fixed-point
// scale with the value ledger's native unit granularity.
func (o *Order) Cost(scale *big.Int) *big.Int {
	cost := new(big.Int).Mul(o.Price, o.Amount)
	return cost.Mul(cost, scale)
}
