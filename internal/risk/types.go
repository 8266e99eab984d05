package risk

import "time"

// Level buckets a 0-100 risk score.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// DataSource tags where an input came from. SourceFallback marks a stand-in.
type DataSource string

const (
	SourceCoinGecko DataSource = "coingecko"
	SourceMoralis   DataSource = "moralis"
	SourceMobula    DataSource = "mobula"
	SourceTokenview DataSource = "tokenview"
	SourceOnchain   DataSource = "onchain"
	SourceDerived   DataSource = "derived"
	SourceFallback  DataSource = "fallback"
)

// Category names of the seven weighted risk factors.
const (
	CategoryMarketMetrics       = "market_metrics"
	CategoryWalletConcentration = "wallet_concentration"
	CategoryTokenomics          = "tokenomics"
	CategoryContractSecurity    = "contract_security"
	CategoryTradingBehavior     = "trading_behavior"
	CategoryNameSymbol          = "name_symbol_heuristics"
	CategoryCommunityDev        = "community_and_dev"
)

// Weights of each category; they sum to 1.
var Weights = map[string]float64{
	CategoryMarketMetrics:       0.20,
	CategoryWalletConcentration: 0.20,
	CategoryTokenomics:          0.10,
	CategoryContractSecurity:    0.15,
	CategoryTradingBehavior:     0.10,
	CategoryNameSymbol:          0.10,
	CategoryCommunityDev:        0.15,
}

// Categories lists the factor categories in report order.
var Categories = []string{
	CategoryMarketMetrics,
	CategoryWalletConcentration,
	CategoryTokenomics,
	CategoryContractSecurity,
	CategoryTradingBehavior,
	CategoryNameSymbol,
	CategoryCommunityDev,
}

// TokenData is a market snapshot of a token.
type TokenData struct {
	ID                       string            `json:"id"`
	Symbol                   string            `json:"symbol"`
	Name                     string            `json:"name"`
	MarketCapRank            int               `json:"market_cap_rank"`
	CurrentPrice             float64           `json:"current_price"`
	PriceChangePercentage24h float64           `json:"price_change_percentage_24h"`
	PriceChangePercentage7d  float64           `json:"price_change_percentage_7d"`
	MarketCap                float64           `json:"market_cap"`
	FullyDilutedValuation    float64           `json:"fully_diluted_valuation"`
	TotalVolume              float64           `json:"total_volume"`
	High24h                  float64           `json:"high_24h"`
	Low24h                   float64           `json:"low_24h"`
	TotalSupply              float64           `json:"total_supply"`
	CirculatingSupply        float64           `json:"circulating_supply"`
	MaxSupply                *float64          `json:"max_supply"`
	ATH                      float64           `json:"ath"`
	ATHChangePercentage      float64           `json:"ath_change_percentage"`
	ATL                      float64           `json:"atl"`
	ATLChangePercentage      float64           `json:"atl_change_percentage"`
	Platforms                map[string]string `json:"platforms,omitempty"`
	CommunityData            *CommunityData    `json:"community_data"`
	DeveloperData            *DeveloperData    `json:"developer_data"`
	LastUpdated              time.Time         `json:"last_updated"`
	DataSource               DataSource        `json:"data_source"`
}

// CommunityData holds social reach counters.
type CommunityData struct {
	RedditSubscribers        int `json:"reddit_subscribers"`
	TelegramChannelUserCount int `json:"telegram_channel_user_count"`
	TwitterFollowers         int `json:"twitter_followers"`
}

// DeveloperData holds repository activity counters.
type DeveloperData struct {
	Forks                   int `json:"forks"`
	Stars                   int `json:"stars"`
	Subscribers             int `json:"subscribers"`
	TotalIssues             int `json:"total_issues"`
	ClosedIssues            int `json:"closed_issues"`
	PullRequestsMerged      int `json:"pull_requests_merged"`
	PullRequestContributors int `json:"pull_request_contributors"`
	CommitCount4Weeks       int `json:"commit_count_4_weeks"`
}

// WalletConcentration describes holder distribution.
type WalletConcentration struct {
	Top10HoldersPercentage  float64    `json:"top_10_holders_percentage"`
	Top100HoldersPercentage float64    `json:"top_100_holders_percentage"`
	WhaleConcentrationRisk  Level      `json:"whale_concentration_risk"`
	TotalHolders            int        `json:"total_holders"`
	DataSource              DataSource `json:"data_source"`
}

// ContractSecurity describes contract privileges.
type ContractSecurity struct {
	IsVerified         bool       `json:"is_verified"`
	HasProxy           bool       `json:"has_proxy"`
	HasMintFunction    bool       `json:"has_mint_function"`
	HasPauseFunction   bool       `json:"has_pause_function"`
	OwnershipRenounced bool       `json:"ownership_renounced"`
	SecurityScore      float64    `json:"security_score"`
	DataSource         DataSource `json:"data_source"`
}

// TradingBehavior summarises liquidity and volatility.
type TradingBehavior struct {
	Volume24h           float64    `json:"volume_24h"`
	VolumeChange24h     float64    `json:"volume_change_24h"`
	LiquidityScore      float64    `json:"liquidity_score"`
	PriceVolatility     float64    `json:"price_volatility"`
	TradingActivityRisk Level      `json:"trading_activity_risk"`
	DataSource          DataSource `json:"data_source"`
}

// Factor is one weighted category of the overall score.
type Factor struct {
	Category            string   `json:"category"`
	Score               float64  `json:"score"`
	Weight              float64  `json:"weight"`
	RiskLevel           Level    `json:"risk_level"`
	Explanation         string   `json:"explanation"`
	ContributingFactors []string `json:"contributing_factors"`
}

// Analysis is the weighted result of the seven factors.
type Analysis struct {
	TokenID         string       `json:"token_id"`
	OverallScore    float64      `json:"overall_score"`
	RiskLevel       Level        `json:"risk_level"`
	RiskFactors     []Factor     `json:"risk_factors"`
	Recommendations []string     `json:"recommendations"`
	LastUpdated     time.Time    `json:"last_updated"`
	DataSources     []DataSource `json:"data_sources"`
}

// Factor returns the factor for category, if present.
func (a Analysis) Factor(category string) (Factor, bool) {
	for _, f := range a.RiskFactors {
		if f.Category == category {
			return f, true
		}
	}
	return Factor{}, false
}
