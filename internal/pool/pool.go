package pool

import (
	"StableGuard/internal/addr"
	"StableGuard/internal/protocol"
)

// Pool is the collateral pool backing policies priced in one collateral
// asset. At most one Pool exists per asset: its record address is derived
// from the pool seed plus the asset, so duplicate creation fails instead of
// overwriting. Created once by Initialize, never destroyed; VaultBalance is
// mutated only by Deposit, Withdraw, and the payout branch of settlement.
type Pool struct {
	Address         addr.Address
	CollateralAsset protocol.Asset
	ShareMint       addr.Address

	// VaultBalance mirrors the vault's bank balance; premiums flow in,
	// payouts flow out.
	VaultBalance uint64

	// TotalInsuredValue is the sum of insured notional across active
	// policies written against this pool.
	TotalInsuredValue uint64

	AuthorityBump uint8
	Bump          uint8
	ShareMintBump uint8
}
