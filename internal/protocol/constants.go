package protocol

// Derivation seeds. Every pool, policy and authority record lives at an
// address derived from one of these seeds. Duplicate creation fails because
// the address already exists, which is the only uniqueness mechanism used.
const (
	PolicySeed    = "policy"
	PoolSeed      = "collateral_pool"
	AuthoritySeed = "pool_authority"
	ShareMintSeed = "share_mint"
)

// Policy parameters.
const (
	// PolicyTermSeconds is the fixed term of every policy: 7 days.
	PolicyTermSeconds = 7 * 24 * 60 * 60

	// PremiumRateBps is the premium charged on the insured notional: 0.5%.
	PremiumRateBps = 50

	// BinaryPayoutBps is the fixed payout on depeg: 10% of the insured
	// notional. Binary rather than loss-proportional; no severity oracle.
	BinaryPayoutBps = 1000

	// BpsDenominator for all basis-point math.
	BpsDenominator = 10_000
)

// Oracle parameters. Prices are fixed-point integers at 1e8 scale.
const (
	// TargetDecimals is the fixed-point scale all oracle prices are
	// normalized to before any monetary decision.
	TargetDecimals = 8

	// PriceScale is 10^TargetDecimals.
	PriceScale = 100_000_000

	// DepegThresholdPrice is $0.985 at 1e8 scale. A normalized price
	// strictly below this triggers the payout branch.
	DepegThresholdPrice = 98_500_000

	// MaxOracleAgeSeconds is the freshness bound applied at settlement.
	MaxOracleAgeSeconds = 30

	// MaxConfidenceValue is the widest acceptable confidence interval,
	// expressed in the same 1e8 fixed-point units as the price.
	MaxConfidenceValue = 1_000_000
)
