package engine

import "math/big"

// MaxFeeRateBps is the administrative ceiling on the protocol fee: 30%.
const MaxFeeRateBps = 3000

// bps denominator: 10000 bps = 100%.
var bpsDenominator = big.NewInt(10000)

// ComputeFee returns floor(amount * rateBps / 10000). With rateBps bounded
// by MaxFeeRateBps the fee never exceeds the amount.
func ComputeFee(amount *big.Int, rateBps uint64) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(rateBps))
	return fee.Quo(fee, bpsDenominator)
}
