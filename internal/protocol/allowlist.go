package protocol

// Asset identifies a collateral or insured asset by its symbol.
type Asset string

const (
	AssetUSDC Asset = "USDC"
	AssetUSDT Asset = "USDT"
)

// Insurable stablecoins and their oracle price-feed identifiers, fixed at
// build time. There is no runtime registration path.
var insurableFeeds = map[Asset]string{
	AssetUSDC: "eaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a",
	AssetUSDT: "2b89b9dc8fdf9f34709a5b106b472f0f39bb6ca9ce04b0fd7f2e971688e2e53b",
}

// IsInsurable reports whether insurance can be written on the asset.
func IsInsurable(asset Asset) bool {
	_, ok := insurableFeeds[asset]
	return ok
}

// FeedID resolves the oracle feed for an insurable asset.
func FeedID(asset Asset) (string, bool) {
	id, ok := insurableFeeds[asset]
	return id, ok
}

// InsurableAssets returns the allow-list in a stable order.
func InsurableAssets() []Asset {
	return []Asset{AssetUSDC, AssetUSDT}
}
