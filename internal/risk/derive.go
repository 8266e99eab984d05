package risk

import (
	"math"
	"sort"
)

// DeriveTradingBehavior builds trading metrics from a market snapshot.
// liquidityUSD is optional; without it the 24h turnover stands in for depth.
func DeriveTradingBehavior(token TokenData, liquidityUSD *float64) TradingBehavior {
	tb := TradingBehavior{
		Volume24h:  token.TotalVolume,
		DataSource: SourceDerived,
	}

	switch {
	case token.MarketCap <= 0:
		tb.LiquidityScore = 0
	case liquidityUSD != nil && *liquidityUSD > 0:
		// 10% of market cap in pooled liquidity scores 100.
		tb.LiquidityScore = Clamp(*liquidityUSD / token.MarketCap * 1000)
	default:
		// 20% daily turnover scores 100.
		tb.LiquidityScore = Clamp(token.TotalVolume / token.MarketCap * 500)
	}

	if token.CurrentPrice > 0 && token.High24h > 0 && token.Low24h > 0 && token.High24h >= token.Low24h {
		tb.PriceVolatility = Clamp((token.High24h - token.Low24h) / token.CurrentPrice * 100)
	} else {
		tb.PriceVolatility = Clamp(math.Abs(token.PriceChangePercentage24h))
	}

	tb.TradingActivityRisk = LevelFromScore(Clamp(TradingScore(tb)))
	return tb
}

// ConcentrationFromHolders computes top-holder shares from per-holder
// percentages of total supply.
func ConcentrationFromHolders(percentages []float64, totalHolders int, source DataSource) WalletConcentration {
	sorted := append([]float64(nil), percentages...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var top10, top100 float64
	for i, p := range sorted {
		if i >= 100 {
			break
		}
		if i < 10 {
			top10 += p
		}
		top100 += p
	}

	if totalHolders < len(percentages) {
		totalHolders = len(percentages)
	}

	top10 = math.Min(top10, 100)
	top100 = math.Min(top100, 100)
	return WalletConcentration{
		Top10HoldersPercentage:  top10,
		Top100HoldersPercentage: top100,
		WhaleConcentrationRisk:  WhaleRisk(top10),
		TotalHolders:            totalHolders,
		DataSource:              source,
	}
}

// WhaleRisk grades top-10 concentration.
func WhaleRisk(top10 float64) Level {
	switch {
	case top10 > 80:
		return LevelCritical
	case top10 > 60:
		return LevelHigh
	case top10 > 40:
		return LevelMedium
	default:
		return LevelLow
	}
}

// SecurityScore is 100 minus the contract penalties.
func SecurityScore(c ContractSecurity) float64 {
	score := 100.0
	if !c.IsVerified {
		score -= 30
	}
	if c.HasMintFunction {
		score -= 20
	}
	if c.HasPauseFunction {
		score -= 15
	}
	if !c.OwnershipRenounced {
		score -= 15
	}
	if c.HasProxy {
		score -= 10
	}
	return Clamp(score)
}

// DefaultWalletConcentration is the stand-in used when holders cannot be fetched.
func DefaultWalletConcentration() WalletConcentration {
	return WalletConcentration{
		Top10HoldersPercentage:  45,
		Top100HoldersPercentage: 75,
		WhaleConcentrationRisk:  LevelMedium,
		TotalHolders:            0,
		DataSource:              SourceFallback,
	}
}

// DefaultContractSecurity assumes an unverified, owned contract.
func DefaultContractSecurity() ContractSecurity {
	c := ContractSecurity{DataSource: SourceFallback}
	c.SecurityScore = SecurityScore(c)
	return c
}

// DefaultTradingBehavior is a mid-range stand-in.
func DefaultTradingBehavior() TradingBehavior {
	tb := TradingBehavior{
		LiquidityScore:  50,
		PriceVolatility: 30,
		DataSource:      SourceFallback,
	}
	tb.TradingActivityRisk = LevelFromScore(TradingScore(tb))
	return tb
}
