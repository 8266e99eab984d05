package fetcher

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain is a normalised blockchain name.
type Chain string

const (
	ChainEthereum  Chain = "ethereum"
	ChainBSC       Chain = "bsc"
	ChainPolygon   Chain = "polygon"
	ChainArbitrum  Chain = "arbitrum"
	ChainBase      Chain = "base"
	ChainAvalanche Chain = "avalanche"
)

var chainAliases = map[string]Chain{
	"ethereum":            ChainEthereum,
	"eth":                 ChainEthereum,
	"mainnet":             ChainEthereum,
	"bsc":                 ChainBSC,
	"binance-smart-chain": ChainBSC,
	"bnb":                 ChainBSC,
	"polygon":             ChainPolygon,
	"polygon-pos":         ChainPolygon,
	"matic":               ChainPolygon,
	"arbitrum":            ChainArbitrum,
	"arbitrum-one":        ChainArbitrum,
	"base":                ChainBase,
	"avalanche":           ChainAvalanche,
	"avax":                ChainAvalanche,
}

// NormalizeChain maps provider and user spellings onto a Chain. Empty input
// means Ethereum.
func NormalizeChain(name string) (Chain, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ChainEthereum, true
	}
	c, ok := chainAliases[name]
	return c, ok
}

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}
