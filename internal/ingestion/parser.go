package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"StableGuard/internal/oracle"
)

// priceUpdateJSON is the wire format published by the price network bridge.
// Field names use snake_case to match upstream producers.
type priceUpdateJSON struct {
	FeedID        string `json:"feed_id"`
	Mantissa      int64  `json:"mantissa"`
	Exponent      int32  `json:"exponent"`
	Confidence    uint64 `json:"confidence"`
	PublishTimeUs int64  `json:"publish_time_us"`
}

// ParsePriceUpdate converts raw NATS payload bytes into an oracle quote.
func ParsePriceUpdate(data []byte) (oracle.Quote, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return oracle.Quote{}, fmt.Errorf("parse price update: %w", err)
	}

	if j.FeedID == "" {
		return oracle.Quote{}, fmt.Errorf("parse price update: empty feed_id")
	}
	if j.PublishTimeUs <= 0 {
		return oracle.Quote{}, fmt.Errorf("parse price update: missing publish_time_us")
	}

	return oracle.Quote{
		FeedID:      j.FeedID,
		Mantissa:    j.Mantissa,
		Exponent:    j.Exponent,
		Confidence:  j.Confidence,
		PublishTime: time.UnixMicro(j.PublishTimeUs),
	}, nil
}
