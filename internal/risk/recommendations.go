package risk

// Recommendations produces advice from the per-category levels.
func Recommendations(analysis Analysis, wallet WalletConcentration, contract ContractSecurity) []string {
	var recs []string

	switch analysis.RiskLevel {
	case LevelCritical:
		recs = append(recs, "Extreme caution advised: consider avoiding this token entirely")
	case LevelHigh:
		recs = append(recs, "High risk: only allocate capital you can afford to lose")
	}

	levelOf := func(category string) Level {
		f, ok := analysis.Factor(category)
		if !ok {
			return LevelLow
		}
		return f.RiskLevel
	}

	if levelOf(CategoryWalletConcentration).AtLeast(LevelHigh) || wallet.WhaleConcentrationRisk.AtLeast(LevelHigh) {
		recs = append(recs, "Monitor large wallet movements: top holders control a significant share of supply")
	}
	if levelOf(CategoryContractSecurity).AtLeast(LevelHigh) {
		recs = append(recs, "Review the contract code and admin privileges before interacting")
	}
	if contract.HasMintFunction && !contract.OwnershipRenounced {
		recs = append(recs, "The owner can mint new tokens: watch for supply inflation")
	}
	if levelOf(CategoryMarketMetrics).AtLeast(LevelHigh) {
		recs = append(recs, "Use small position sizes: price action is highly volatile")
	}
	if levelOf(CategoryTradingBehavior).AtLeast(LevelHigh) {
		recs = append(recs, "Beware of low liquidity: large orders may cause significant slippage")
	}
	if levelOf(CategoryTokenomics).AtLeast(LevelHigh) {
		recs = append(recs, "Review the token supply schedule for dilution risk")
	}
	if levelOf(CategoryNameSymbol).AtLeast(LevelMedium) {
		recs = append(recs, "Token name matches common meme or scam patterns: verify project legitimacy")
	}
	if levelOf(CategoryCommunityDev).AtLeast(LevelHigh) {
		recs = append(recs, "Limited community or developer activity: verify the team and roadmap")
	}

	if len(recs) == 0 {
		recs = append(recs, "No major red flags detected: continue standard due diligence")
	}
	return recs
}
