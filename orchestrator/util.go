package orchestrator

import "github.com/holiman/uint256"

func newU256(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}
