package store

import (
	"math/big"
)

// ThresholdMultiplier scales a deviation ratio before it is compared to a
// flagging threshold, i.e. a threshold of 1000 allows a 1% change.
const ThresholdMultiplier = 100000

var (
	thresholdMultiplier = big.NewInt(ThresholdMultiplier)
	maxUint128Bits      = 128
)

// IsValid reports whether answer is within flaggingThreshold of previous.
// A zero previous answer is always valid. A deviation too large to be scaled
// within 128 bits is never valid.
func IsValid(flaggingThreshold uint32, previous, answer *big.Int) bool {
	if previous == nil || previous.Sign() == 0 {
		return true
	}
	if answer == nil {
		answer = new(big.Int)
	}
	change := new(big.Int).Sub(previous, answer)
	change.Abs(change)
	numerator := change.Mul(change, thresholdMultiplier)
	if numerator.BitLen() > maxUint128Bits {
		return false
	}
	ratio := numerator.Quo(numerator, new(big.Int).Abs(previous))
	return ratio.Cmp(new(big.Int).SetUint64(uint64(flaggingThreshold))) <= 0
}
