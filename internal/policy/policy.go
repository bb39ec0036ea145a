package policy

import (
	"time"

	"github.com/google/uuid"

	"StableGuard/internal/addr"
	"StableGuard/internal/protocol"
)

// Status is the policy state machine: Active transitions exactly once to
// one of the two terminal states, driven by settlement. No transition runs
// before expiry and nothing ever leaves a terminal state.
type Status int32

const (
	StatusActive Status = iota
	StatusExpiredPaid
	StatusExpiredNotPaid
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusExpiredPaid:
		return "ExpiredPaid"
	case StatusExpiredNotPaid:
		return "ExpiredNotPaid"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusExpiredPaid || s == StatusExpiredNotPaid
}

// ParseStatus maps the stored string form back to a Status.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "Active":
		return StatusActive, true
	case "ExpiredPaid":
		return StatusExpiredPaid, true
	case "ExpiredNotPaid":
		return StatusExpiredNotPaid, true
	}
	return StatusActive, false
}

// Policy is one time-bounded depeg insurance contract, unique per
// (buyer, policy_id) via its derived record address. Created by
// CreatePolicy, mutated only by settlement, never destroyed.
type Policy struct {
	Address         addr.Address
	Buyer           uuid.UUID
	PolicyID        uint64
	InsuredAsset    protocol.Asset
	InsuredAmount   uint64
	PremiumPaid     uint64
	PayoutAmount    uint64
	PremiumCurrency protocol.Asset
	StartTimestamp  time.Time
	ExpiryTimestamp time.Time
	Status          Status
	Bump            uint8
}

// Expired reports whether the policy term has elapsed at the given time.
func (p *Policy) Expired(now time.Time) bool {
	return !now.Before(p.ExpiryTimestamp)
}
