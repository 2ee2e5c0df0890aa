package store

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_IsValid(t *testing.T) {
	huge, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10)
	cases := []struct {
		name      string
		threshold uint32
		previous  *big.Int
		answer    *big.Int
		valid     bool
	}{
		{"zero previous is always valid", 0, big.NewInt(0), big.NewInt(1 << 40), true},
		{"unchanged answer", 0, big.NewInt(100), big.NewInt(100), true},
		{"exactly at threshold", 1000, big.NewInt(10000), big.NewInt(10100), true},
		{"just over threshold", 1000, big.NewInt(10000), big.NewInt(10101), false},
		{"decrease within threshold", 1000, big.NewInt(10000), big.NewInt(9900), true},
		{"negative previous", 1000, big.NewInt(-10000), big.NewInt(-10100), true},
		{"sign flip", 100000, big.NewInt(-10), big.NewInt(10), false},
		{"overflowing deviation", ^uint32(0), big.NewInt(1), new(big.Int).Neg(huge), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, IsValid(tc.threshold, tc.previous, tc.answer))
		})
	}
}
