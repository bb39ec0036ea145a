package policy

import (
	"StableGuard/internal/fpmath"
	"StableGuard/internal/protocol"
)

// Premium returns the fixed premium on an insured notional:
// floor(insured_amount * PREMIUM_RATE_BPS / 10000).
func Premium(insuredAmount uint64) (uint64, error) {
	return fpmath.MulDivFloor(insuredAmount, protocol.PremiumRateBps, protocol.BpsDenominator)
}

// Payout returns the fixed binary payout on depeg:
// floor(insured_amount * BINARY_PAYOUT_BPS / 10000).
func Payout(insuredAmount uint64) (uint64, error) {
	return fpmath.MulDivFloor(insuredAmount, protocol.BinaryPayoutBps, protocol.BpsDenominator)
}
