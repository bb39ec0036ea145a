package token

import (
	"fmt"

	"StableGuard/internal/addr"
	"StableGuard/internal/fpmath"
	"StableGuard/internal/protocol"
)

// Bank is the in-process asset-transfer collaborator: it keeps asset
// balances per holder address, plus share-class mints with tracked supply.
// The settlement core trusts the bank's balance and authorization
// invariants and treats its failures as fail-closed aborts.
//
// The bank has no internal locking. Operations naming the same records are
// linearized by the hosting layer, which runs them on a single goroutine.

type balanceKey struct {
	holder addr.Address
	asset  protocol.Asset
}

type shareKey struct {
	mint   addr.Address
	holder addr.Address
}

type mintInfo struct {
	authority addr.Address
	supply    uint64
}

type Bank struct {
	balances map[balanceKey]uint64
	owners   map[balanceKey]addr.Address
	shares   map[shareKey]uint64
	mints    map[addr.Address]*mintInfo
}

func NewBank() *Bank {
	return &Bank{
		balances: make(map[balanceKey]uint64),
		owners:   make(map[balanceKey]addr.Address),
		shares:   make(map[shareKey]uint64),
		mints:    make(map[addr.Address]*mintInfo),
	}
}

// OpenAccount registers an asset account with an explicit owner authority.
// Creating an account that already exists fails. Duplicate prevention falls
// out of the addressing scheme, the bank only enforces it.
func (b *Bank) OpenAccount(holder addr.Address, asset protocol.Asset, owner addr.Address) error {
	key := balanceKey{holder: holder, asset: asset}
	if _, ok := b.owners[key]; ok {
		return fmt.Errorf("%w: account %s/%s exists", protocol.ErrAlreadyInitialized, holder, asset)
	}
	b.owners[key] = owner
	b.balances[key] = 0
	return nil
}

// CreateMint registers a share class whose supply starts at zero and whose
// mint authority is fixed at creation.
func (b *Bank) CreateMint(mint addr.Address, authority addr.Address) error {
	if _, ok := b.mints[mint]; ok {
		return fmt.Errorf("%w: mint %s exists", protocol.ErrAlreadyInitialized, mint)
	}
	b.mints[mint] = &mintInfo{authority: authority}
	return nil
}

// Balance returns the holder's balance of an asset. Unknown accounts read 0.
func (b *Bank) Balance(holder addr.Address, asset protocol.Asset) uint64 {
	return b.balances[balanceKey{holder: holder, asset: asset}]
}

// ShareBalance returns the holder's balance of a share class.
func (b *Bank) ShareBalance(mint, holder addr.Address) uint64 {
	return b.shares[shareKey{mint: mint, holder: holder}]
}

// Supply returns the outstanding supply of a share class.
func (b *Bank) Supply(mint addr.Address) uint64 {
	if info, ok := b.mints[mint]; ok {
		return info.supply
	}
	return 0
}

// Deposit credits an asset balance from outside the protocol boundary.
// Used by the host to fund participants; not part of the operation surface.
func (b *Bank) Deposit(holder addr.Address, asset protocol.Asset, amount uint64) error {
	key := balanceKey{holder: holder, asset: asset}
	next, err := fpmath.CheckedAdd(b.balances[key], amount)
	if err != nil {
		return err
	}
	b.balances[key] = next
	return nil
}

// Transfer moves amount between asset accounts. The signer must be the owner
// authority of the source account; participant accounts are owned by their
// own derived address, vaults by the pool authority.
func (b *Bank) Transfer(from, to addr.Address, asset protocol.Asset, amount uint64, signer addr.SigningContext) error {
	fromKey := balanceKey{holder: from, asset: asset}

	owner, ok := b.owners[fromKey]
	if !ok {
		// Accounts that were only ever credited are owned by their holder.
		owner = from
	}
	if signer.Address != owner {
		return fmt.Errorf("%w: transfer from %s/%s", protocol.ErrUnauthorized, from, asset)
	}

	if b.balances[fromKey] < amount {
		return fmt.Errorf("%w: have %d, need %d", protocol.ErrInsufficientFunds, b.balances[fromKey], amount)
	}

	toKey := balanceKey{holder: to, asset: asset}
	next, err := fpmath.CheckedAdd(b.balances[toKey], amount)
	if err != nil {
		return err
	}

	b.balances[fromKey] -= amount
	b.balances[toKey] = next
	return nil
}

// MintTo issues share-class units to a holder. The signer must be the mint
// authority fixed at CreateMint.
func (b *Bank) MintTo(mint, to addr.Address, amount uint64, signer addr.SigningContext) error {
	info, ok := b.mints[mint]
	if !ok {
		return fmt.Errorf("%w: unknown mint %s", protocol.ErrPoolNotFound, mint)
	}
	if signer.Address != info.authority {
		return fmt.Errorf("%w: mint %s", protocol.ErrUnauthorized, mint)
	}

	nextSupply, err := fpmath.CheckedAdd(info.supply, amount)
	if err != nil {
		return err
	}
	key := shareKey{mint: mint, holder: to}
	nextBal, err := fpmath.CheckedAdd(b.shares[key], amount)
	if err != nil {
		return err
	}

	info.supply = nextSupply
	b.shares[key] = nextBal
	return nil
}

// Burn destroys share-class units held by a holder, reducing supply.
func (b *Bank) Burn(mint, from addr.Address, amount uint64, signer addr.SigningContext) error {
	info, ok := b.mints[mint]
	if !ok {
		return fmt.Errorf("%w: unknown mint %s", protocol.ErrPoolNotFound, mint)
	}
	if signer.Address != from {
		return fmt.Errorf("%w: burn from %s", protocol.ErrUnauthorized, from)
	}

	key := shareKey{mint: mint, holder: from}
	if b.shares[key] < amount {
		return fmt.Errorf("%w: have %d, burn %d", protocol.ErrInsufficientSharesToBurn, b.shares[key], amount)
	}

	b.shares[key] -= amount
	info.supply -= amount
	return nil
}
