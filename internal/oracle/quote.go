package oracle

import (
	"fmt"
	"time"

	"StableGuard/internal/fpmath"
	"StableGuard/internal/protocol"
)

// Quote is one ephemeral price observation from an external feed. It is
// never persisted; every monetary decision re-fetches and re-validates.
type Quote struct {
	FeedID      string
	Mantissa    int64 // price = Mantissa * 10^Exponent
	Exponent    int32
	Confidence  uint64 // interval width, same units as the normalized price
	PublishTime time.Time
}

// Normalize rescales a quote to the protocol's fixed-point scale of
// 10^-TargetDecimals (1e8). Positive exponents never occur on the feeds we
// consume and are rejected outright. Downscaling truncates toward zero.
func Normalize(q Quote) (int64, error) {
	if q.Exponent > 0 {
		return 0, fmt.Errorf("%w: exponent %d", protocol.ErrOracleExponentUnexpected, q.Exponent)
	}

	scaleDiff := q.Exponent - (-protocol.TargetDecimals)

	switch {
	case scaleDiff > 0:
		multiplier, err := fpmath.Pow10(scaleDiff)
		if err != nil {
			return 0, err
		}
		return fpmath.CheckedMulInt64(q.Mantissa, multiplier)

	case scaleDiff < 0:
		divisor, err := fpmath.Pow10(-scaleDiff)
		if err != nil {
			return 0, err
		}
		if divisor == 0 {
			return 0, fmt.Errorf("%w: zero divisor", protocol.ErrCalculation)
		}
		return q.Mantissa / divisor, nil

	default:
		return q.Mantissa, nil
	}
}

// CheckConfidence applies the confidence gate: an interval at or above
// MAX_CONFIDENCE_VALUE means the feed itself is unsure whether the price is
// on either side of the depeg threshold, so the quote is unusable.
func CheckConfidence(q Quote) error {
	if q.Confidence >= protocol.MaxConfidenceValue {
		return fmt.Errorf("%w: confidence=%d max=%d",
			protocol.ErrOracleConfidenceTooWide, q.Confidence, uint64(protocol.MaxConfidenceValue))
	}
	return nil
}
