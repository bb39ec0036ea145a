package protocol

import "errors"

// Every failure surfaces one of these sentinels (wrapped with context via
// fmt.Errorf and %w). Callers match with errors.Is. All failures are
// fail-closed: an operation that returns an error has made no state change.

// Validation errors.
var (
	ErrDepositAmountMustBePositive = errors.New("deposit amount must be positive")
	ErrWithdrawalAmountZero        = errors.New("withdrawal amount must be greater than zero")
	ErrInsuredAmountMustBePositive = errors.New("insured amount must be positive")
	ErrUnsupportedStablecoin       = errors.New("insured asset is not on the stablecoin allow-list")
	ErrPremiumCurrencyMismatch     = errors.New("premium currency does not match pool collateral asset")
	ErrAmountTooLarge              = errors.New("amount exceeds the recordable range")
)

// State errors.
var (
	ErrAlreadyInitialized    = errors.New("pool already initialized for this collateral asset")
	ErrPoolNotFound          = errors.New("no pool for this collateral asset")
	ErrPolicyNotFound        = errors.New("policy not found")
	ErrDuplicatePolicyID     = errors.New("policy already exists for this buyer and policy id")
	ErrPolicyAlreadyProcessed = errors.New("policy has already been processed")
	ErrPolicyNotExpired      = errors.New("policy has not expired")
)

// Arithmetic errors.
var (
	ErrCalculation = errors.New("arithmetic error during calculation")
)

// Oracle errors.
var (
	ErrStalePrice               = errors.New("oracle price is too old")
	ErrFeedUnavailable          = errors.New("oracle price feed unavailable")
	ErrOracleConfidenceTooWide  = errors.New("oracle confidence interval too wide")
	ErrOracleExponentUnexpected = errors.New("oracle exponent has unexpected sign")
	ErrInvalidStablecoinMint    = errors.New("no oracle feed mapped for insured asset")
)

// Resource errors.
var (
	ErrInsufficientFunds                 = errors.New("insufficient transferable balance")
	ErrInsufficientSharesToBurn          = errors.New("share balance lower than shares to burn")
	ErrInsufficientPoolCollateral        = errors.New("pool collateral insufficient for payout")
	ErrDepositTooSmallToMintShares       = errors.New("deposit too small to mint shares")
	ErrWithdrawalResultsInZeroCollateral = errors.New("withdrawal would return zero collateral")
	ErrUnauthorized                      = errors.New("signer is not authorized for this account")
)

// Code returns the stable machine-readable identifier for a protocol error,
// used in API responses and metrics labels. Unknown errors map to "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrDepositAmountMustBePositive):
		return "deposit_amount_must_be_positive"
	case errors.Is(err, ErrWithdrawalAmountZero):
		return "withdrawal_amount_zero"
	case errors.Is(err, ErrInsuredAmountMustBePositive):
		return "insured_amount_must_be_positive"
	case errors.Is(err, ErrUnsupportedStablecoin):
		return "unsupported_stablecoin"
	case errors.Is(err, ErrPremiumCurrencyMismatch):
		return "premium_currency_mismatch"
	case errors.Is(err, ErrAmountTooLarge):
		return "amount_too_large"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrPoolNotFound):
		return "pool_not_found"
	case errors.Is(err, ErrPolicyNotFound):
		return "policy_not_found"
	case errors.Is(err, ErrDuplicatePolicyID):
		return "duplicate_policy_id"
	case errors.Is(err, ErrPolicyAlreadyProcessed):
		return "policy_already_processed"
	case errors.Is(err, ErrPolicyNotExpired):
		return "policy_not_expired"
	case errors.Is(err, ErrCalculation):
		return "calculation_error"
	case errors.Is(err, ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrFeedUnavailable):
		return "feed_unavailable"
	case errors.Is(err, ErrOracleConfidenceTooWide):
		return "oracle_confidence_too_wide"
	case errors.Is(err, ErrOracleExponentUnexpected):
		return "oracle_exponent_unexpected"
	case errors.Is(err, ErrInvalidStablecoinMint):
		return "invalid_stablecoin_mint"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientSharesToBurn):
		return "insufficient_shares_to_burn"
	case errors.Is(err, ErrInsufficientPoolCollateral):
		return "insufficient_pool_collateral_for_payout"
	case errors.Is(err, ErrDepositTooSmallToMintShares):
		return "deposit_too_small_to_mint_shares"
	case errors.Is(err, ErrWithdrawalResultsInZeroCollateral):
		return "withdrawal_results_in_zero_collateral"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}
