// Package fetcher holds the upstream market-data clients and the on-chain
// contract inspector. Every failure is reported as *Error with a Kind.
package fetcher

import (
	"context"
	"time"

	"crypto-risk-scorer/internal/risk"
)

// TokenSource retrieves the primary market snapshot of a token.
type TokenSource interface {
	FetchToken(ctx context.Context, tokenID string) (risk.TokenData, error)
	ResolveTokenID(ctx context.Context, query string) (string, error)
}

// HolderSource retrieves the top holders of a token contract.
type HolderSource interface {
	FetchHolders(ctx context.Context, chain, address string) (HolderSnapshot, error)
}

// TokenInfoSource retrieves explorer metadata of a token contract.
type TokenInfoSource interface {
	FetchTokenInfo(ctx context.Context, chain, address string) (TokenInfo, error)
}

// QuoteSource reports market fields used for cross-validation.
type QuoteSource interface {
	Source() risk.DataSource
	FetchQuote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// ContractInspector inspects deployed bytecode and ownership.
type ContractInspector interface {
	InspectContract(ctx context.Context, chain, address string) (ContractInfo, error)
}

// MarketSource serves market-wide data.
type MarketSource interface {
	FetchGlobal(ctx context.Context) (GlobalMarket, error)
	FetchTrending(ctx context.Context) ([]TrendingCoin, error)
	FetchTopCoins(ctx context.Context, limit int) ([]risk.TokenData, error)
}

// QuoteRequest identifies a token for a quote lookup.
type QuoteRequest struct {
	TokenID string
	Symbol  string
	Name    string
	Address string
	Chain   string
}

// Quote is one provider's view of the overlapping market fields.
type Quote struct {
	Source            risk.DataSource `json:"source"`
	Price             *float64        `json:"price,omitempty"`
	MarketCap         *float64        `json:"market_cap,omitempty"`
	TotalVolume       *float64        `json:"total_volume,omitempty"`
	CirculatingSupply *float64        `json:"circulating_supply,omitempty"`
	TotalSupply       *float64        `json:"total_supply,omitempty"`
	LiquidityUSD      *float64        `json:"liquidity_usd,omitempty"`
}

// HolderSnapshot lists holder shares as percentages of total supply.
type HolderSnapshot struct {
	Percentages  []float64 `json:"percentages"`
	TotalHolders int       `json:"total_holders"`
}

// TokenInfo is explorer metadata for a contract.
type TokenInfo struct {
	HolderCount int      `json:"holder_count"`
	Verified    *bool    `json:"verified,omitempty"`
	TotalSupply *float64 `json:"total_supply,omitempty"`
	Price       *float64 `json:"price,omitempty"`
}

// ContractInfo is what the inspector learned from chain state.
type ContractInfo struct {
	HasCode            bool   `json:"has_code"`
	HasMintFunction    bool   `json:"has_mint_function"`
	HasPauseFunction   bool   `json:"has_pause_function"`
	HasProxy           bool   `json:"has_proxy"`
	Implementation     string `json:"implementation,omitempty"`
	Owner              string `json:"owner,omitempty"`
	OwnershipRenounced bool   `json:"ownership_renounced"`
}

// GlobalMarket summarises the whole market.
type GlobalMarket struct {
	ActiveCryptocurrencies int                `json:"active_cryptocurrencies"`
	Markets                int                `json:"markets"`
	TotalMarketCapUSD      float64            `json:"total_market_cap_usd"`
	TotalVolumeUSD         float64            `json:"total_volume_usd"`
	MarketCapPercentage    map[string]float64 `json:"market_cap_percentage"`
	MarketCapChange24hPct  float64            `json:"market_cap_change_percentage_24h_usd"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// TrendingCoin is one entry of the trending list.
type TrendingCoin struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	MarketCapRank int    `json:"market_cap_rank"`
	Score         int    `json:"score"`
}

func floatPtr(v float64) *float64 { return &v }
