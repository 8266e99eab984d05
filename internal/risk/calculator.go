package risk

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

var suspiciousKeywords = []string{
	"moon", "safe", "elon", "doge", "shib", "inu", "baby", "pepe",
	"floki", "rocket", "pump", "lambo", "100x", "1000x", "gem",
}

// CalculateOverallRisk scores a token from its market, holder, contract and
// trading data. It performs no I/O and never mutates its inputs.
func CalculateOverallRisk(token TokenData, wallet WalletConcentration, contract ContractSecurity, trading TradingBehavior) Analysis {
	factors := []Factor{
		marketMetricsFactor(token),
		walletConcentrationFactor(wallet),
		tokenomicsFactor(token),
		contractSecurityFactor(contract),
		tradingBehaviorFactor(trading),
		nameSymbolFactor(token),
		communityDevFactor(token),
	}

	var weighted float64
	for _, f := range factors {
		weighted += f.Score * f.Weight
	}
	overall := Clamp(math.Round(weighted))

	analysis := Analysis{
		TokenID:      token.ID,
		OverallScore: overall,
		RiskLevel:    LevelFromScore(overall),
		RiskFactors:  factors,
		LastUpdated:  time.Now().UTC(),
		DataSources:  collectSources(token.DataSource, wallet.DataSource, contract.DataSource, trading.DataSource),
	}
	analysis.Recommendations = Recommendations(analysis, wallet, contract)
	return analysis
}

func newFactor(category string, score float64, explanation string, contributing []string) Factor {
	score = Clamp(score)
	if contributing == nil {
		contributing = []string{}
	}
	return Factor{
		Category:            category,
		Score:               score,
		Weight:              Weights[category],
		RiskLevel:           LevelFromScore(score),
		Explanation:         explanation,
		ContributingFactors: contributing,
	}
}

func marketMetricsFactor(token TokenData) Factor {
	score := 50.0
	var reasons []string

	switch rank := token.MarketCapRank; {
	case rank <= 0 || rank > 1000:
		score += 30
		reasons = append(reasons, "unranked or market cap rank beyond 1000")
	case rank > 500:
		score += 20
		reasons = append(reasons, fmt.Sprintf("low market cap rank (#%d)", rank))
	case rank > 100:
		score += 10
		reasons = append(reasons, fmt.Sprintf("mid-tier market cap rank (#%d)", rank))
	default:
		score -= 10
		reasons = append(reasons, fmt.Sprintf("top 100 market cap rank (#%d)", rank))
	}

	switch change := math.Abs(token.PriceChangePercentage24h); {
	case change > 50:
		score += 25
		reasons = append(reasons, fmt.Sprintf("extreme 24h price move (%.1f%%)", token.PriceChangePercentage24h))
	case change > 20:
		score += 15
		reasons = append(reasons, fmt.Sprintf("high 24h price move (%.1f%%)", token.PriceChangePercentage24h))
	case change > 10:
		score += 5
		reasons = append(reasons, fmt.Sprintf("elevated 24h price move (%.1f%%)", token.PriceChangePercentage24h))
	}

	switch ath := token.ATHChangePercentage; {
	case ath < -90:
		score += 20
		reasons = append(reasons, fmt.Sprintf("trading %.1f%% below all-time high", -ath))
	case ath < -70:
		score += 10
		reasons = append(reasons, fmt.Sprintf("trading %.1f%% below all-time high", -ath))
	}

	return newFactor(CategoryMarketMetrics, score, "Market position, short-term volatility and drawdown from the all-time high", reasons)
}

func walletConcentrationFactor(wallet WalletConcentration) Factor {
	score := 20.0
	var reasons []string

	switch top10 := wallet.Top10HoldersPercentage; {
	case top10 > 80:
		score += 40
		reasons = append(reasons, fmt.Sprintf("top 10 holders own %.1f%% of supply", top10))
	case top10 > 60:
		score += 30
		reasons = append(reasons, fmt.Sprintf("top 10 holders own %.1f%% of supply", top10))
	case top10 > 40:
		score += 20
		reasons = append(reasons, fmt.Sprintf("top 10 holders own %.1f%% of supply", top10))
	}
	if wallet.Top100HoldersPercentage > 95 {
		score += 20
		reasons = append(reasons, fmt.Sprintf("top 100 holders own %.1f%% of supply", wallet.Top100HoldersPercentage))
	}
	if wallet.DataSource == SourceFallback {
		reasons = append(reasons, "holder distribution unavailable; default estimate used")
	}

	return newFactor(CategoryWalletConcentration, score, "Share of supply held by the largest wallets", reasons)
}

func tokenomicsFactor(token TokenData) Factor {
	score := 30.0
	var reasons []string

	hasMax := token.MaxSupply != nil && *token.MaxSupply > 0
	if !hasMax {
		score += 25
		reasons = append(reasons, "no maximum supply cap")
	} else if token.CirculatingSupply/(*token.MaxSupply) < 0.5 {
		score += 15
		reasons = append(reasons, fmt.Sprintf("only %.1f%% of max supply circulating", token.CirculatingSupply/(*token.MaxSupply)*100))
	}

	if token.MarketCap > 0 {
		fdv := fullyDilutedValuation(token)
		switch ratio := fdv / token.MarketCap; {
		case ratio > 5:
			score += 20
			reasons = append(reasons, fmt.Sprintf("fully diluted valuation is %.1fx market cap", ratio))
		case ratio > 2:
			score += 10
			reasons = append(reasons, fmt.Sprintf("fully diluted valuation is %.1fx market cap", ratio))
		}
	}

	return newFactor(CategoryTokenomics, score, "Supply cap, circulating share and dilution overhang", reasons)
}

func fullyDilutedValuation(token TokenData) float64 {
	if token.FullyDilutedValuation > 0 {
		return token.FullyDilutedValuation
	}
	supply := token.TotalSupply
	if token.MaxSupply != nil && *token.MaxSupply > 0 {
		supply = *token.MaxSupply
	}
	return token.CurrentPrice * supply
}

func contractSecurityFactor(contract ContractSecurity) Factor {
	score := 10.0
	var reasons []string

	if !contract.IsVerified {
		score += 30
		reasons = append(reasons, "contract source is not verified")
	}
	if contract.HasMintFunction {
		score += 20
		reasons = append(reasons, "contract exposes a mint function")
	}
	if contract.HasPauseFunction {
		score += 15
		reasons = append(reasons, "contract can pause transfers")
	}
	if !contract.OwnershipRenounced {
		score += 15
		reasons = append(reasons, "ownership has not been renounced")
	}
	if contract.HasProxy {
		score += 10
		reasons = append(reasons, "upgradeable proxy pattern")
	}
	if contract.DataSource == SourceFallback {
		reasons = append(reasons, "contract could not be inspected; conservative defaults used")
	}

	return newFactor(CategoryContractSecurity, score, "Verification status and privileged contract functions", reasons)
}

func tradingBehaviorFactor(trading TradingBehavior) Factor {
	score := TradingScore(trading)
	var reasons []string

	switch {
	case trading.LiquidityScore < 30:
		reasons = append(reasons, fmt.Sprintf("very low liquidity score (%.0f)", trading.LiquidityScore))
	case trading.LiquidityScore < 50:
		reasons = append(reasons, fmt.Sprintf("low liquidity score (%.0f)", trading.LiquidityScore))
	}
	switch {
	case trading.PriceVolatility > 80:
		reasons = append(reasons, fmt.Sprintf("extreme price volatility (%.0f)", trading.PriceVolatility))
	case trading.PriceVolatility > 50:
		reasons = append(reasons, fmt.Sprintf("high price volatility (%.0f)", trading.PriceVolatility))
	}

	return newFactor(CategoryTradingBehavior, score, "Liquidity depth and price volatility", reasons)
}

// TradingScore is the trading-behaviour factor score before clamping.
func TradingScore(trading TradingBehavior) float64 {
	score := 25.0
	switch {
	case trading.LiquidityScore < 30:
		score += 25
	case trading.LiquidityScore < 50:
		score += 15
	}
	switch {
	case trading.PriceVolatility > 80:
		score += 20
	case trading.PriceVolatility > 50:
		score += 10
	}
	return score
}

func nameSymbolFactor(token TokenData) Factor {
	score := 10.0
	var reasons []string

	name := strings.ToLower(token.Name)
	symbol := strings.ToLower(token.Symbol)
	for _, kw := range suspiciousKeywords {
		if strings.Contains(name, kw) || strings.Contains(symbol, kw) {
			score += 15
			reasons = append(reasons, fmt.Sprintf("matches meme keyword %q", kw))
		}
	}

	if suspiciousSymbol(token.Symbol) {
		score += 10
		reasons = append(reasons, "symbol contains excessive digits or special characters")
	}

	return newFactor(CategoryNameSymbol, score, "Name and symbol patterns common to meme and scam tokens", reasons)
}

func suspiciousSymbol(symbol string) bool {
	digits := 0
	for _, r := range symbol {
		switch {
		case unicode.IsDigit(r):
			digits++
		case !unicode.IsLetter(r):
			return true
		}
	}
	return digits > 2
}

func communityDevFactor(token TokenData) Factor {
	score := 40.0
	var reasons []string

	if c := token.CommunityData; c == nil {
		score += 10
		reasons = append(reasons, "community data unavailable")
	} else {
		members := c.RedditSubscribers + c.TelegramChannelUserCount
		switch {
		case members < 1_000:
			score += 25
			reasons = append(reasons, fmt.Sprintf("tiny community (%d members)", members))
		case members < 10_000:
			score += 15
			reasons = append(reasons, fmt.Sprintf("small community (%d members)", members))
		case members < 100_000:
			score += 5
			reasons = append(reasons, fmt.Sprintf("moderate community (%d members)", members))
		default:
			score -= 10
			reasons = append(reasons, fmt.Sprintf("large community (%d members)", members))
		}
	}

	if d := token.DeveloperData; d == nil {
		score += 25
		reasons = append(reasons, "developer data unavailable")
	} else {
		switch {
		case d.CommitCount4Weeks == 0:
			score += 20
			reasons = append(reasons, "no commits in the last 4 weeks")
		case d.CommitCount4Weeks < 10:
			score += 10
			reasons = append(reasons, fmt.Sprintf("few commits in the last 4 weeks (%d)", d.CommitCount4Weeks))
		case d.CommitCount4Weeks >= 50:
			score -= 10
			reasons = append(reasons, fmt.Sprintf("active development (%d commits in 4 weeks)", d.CommitCount4Weeks))
		}

		switch {
		case d.PullRequestContributors < 3:
			score += 10
			reasons = append(reasons, fmt.Sprintf("few contributors (%d)", d.PullRequestContributors))
		case d.PullRequestContributors >= 20:
			score -= 5
		}

		if d.TotalIssues > 0 {
			ratio := float64(d.ClosedIssues) / float64(d.TotalIssues)
			switch {
			case ratio < 0.5:
				score += 10
				reasons = append(reasons, fmt.Sprintf("only %.0f%% of issues closed", ratio*100))
			case ratio >= 0.8:
				score -= 5
			}
		}
	}

	return newFactor(CategoryCommunityDev, score, "Community reach and development activity", reasons)
}

func collectSources(sources ...DataSource) []DataSource {
	seen := make(map[DataSource]bool, len(sources))
	out := make([]DataSource, 0, len(sources))
	for _, s := range sources {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
