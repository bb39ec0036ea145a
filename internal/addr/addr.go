package addr

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"

	"StableGuard/internal/protocol"
)

// Address is a 32-byte derived record address. Pools, policies, share mints
// and the pool authority are all addressed by pure derivation from fixed
// seeds: an arena-by-derivation layout, not an object graph. Addresses are
// recomputed and validated on every call rather than stored as pointers.
type Address [32]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAddress decodes a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(b) != len(a) {
		return a, hex.ErrLength
	}
	copy(a[:], b)
	return a, nil
}

// DefaultBump is the canonical bump byte mixed into every derivation. Records
// persist the bump they were created with so the address can be re-derived
// and checked against stored state on each access.
const DefaultBump uint8 = 255

// Derive computes SHA-256 over length-prefixed seed parts plus a bump byte.
func Derive(bump uint8, parts ...[]byte) Address {
	h := sha256.New()
	for _, p := range parts {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	h.Write([]byte{bump})

	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// ForPool derives the pool record address for a collateral asset.
func ForPool(asset protocol.Asset) (Address, uint8) {
	return Derive(DefaultBump, []byte(protocol.PoolSeed), []byte(asset)), DefaultBump
}

// ForShareMint derives the proportional-share mint address for a pool.
func ForShareMint(asset protocol.Asset) (Address, uint8) {
	return Derive(DefaultBump, []byte(protocol.ShareMintSeed), []byte(asset)), DefaultBump
}

// ForPolicy derives the policy record address for a (buyer, policy_id) pair.
// The pair is unique per buyer because creation at an existing address fails.
func ForPolicy(buyer uuid.UUID, policyID uint64) (Address, uint8) {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], policyID)
	return Derive(DefaultBump, []byte(protocol.PolicySeed), buyer[:], idBuf[:]), DefaultBump
}

// ForParticipant derives the balance-holding address for a protocol
// participant (buyer or underwriter).
func ForParticipant(id uuid.UUID) Address {
	return Derive(DefaultBump, []byte("participant"), id[:])
}

// SigningContext is a capability to move funds out of accounts owned by
// Address. It is derived per call from the seed and bump, never held as
// shared mutable state.
type SigningContext struct {
	Address Address
	Bump    uint8
}

// DeriveAuthority derives the single pool authority capability from the
// fixed authority seed. Every vault transfer out of a pool is signed with
// this context.
func DeriveAuthority(bump uint8) SigningContext {
	return SigningContext{
		Address: Derive(bump, []byte(protocol.AuthoritySeed)),
		Bump:    bump,
	}
}

// ParticipantSigner builds the signing context for a participant acting on
// their own accounts.
func ParticipantSigner(id uuid.UUID) SigningContext {
	return SigningContext{Address: ForParticipant(id), Bump: DefaultBump}
}
