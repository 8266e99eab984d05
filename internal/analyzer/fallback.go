package analyzer

import (
	"time"

	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/risk"
)

const fallbackScore = 65

// FallbackAnalysis is returned when the token itself cannot be fetched. Its
// score is a fixed placeholder marked Fallback, not a computed result.
func FallbackAnalysis(tokenID string, cause error, now time.Time) EnhancedRiskAnalysis {
	now = now.UTC()
	factors := make([]risk.Factor, 0, len(risk.Categories))
	for _, category := range risk.Categories {
		factors = append(factors, risk.Factor{
			Category:            category,
			Score:               fallbackScore,
			Weight:              risk.Weights[category],
			RiskLevel:           risk.LevelMedium,
			Explanation:         "Market data unavailable; placeholder score",
			ContributingFactors: []string{"primary data source failed"},
		})
	}

	reason, kind := "token data unavailable", fetcher.KindUnavailable
	if cause != nil {
		reason, kind = cause.Error(), fetcher.KindOf(cause)
	}

	zero := 0.0
	return EnhancedRiskAnalysis{
		Analysis: risk.Analysis{
			TokenID:      tokenID,
			OverallScore: fallbackScore,
			RiskLevel:    risk.LevelMedium,
			RiskFactors:  factors,
			Recommendations: []string{
				"Analysis unavailable: primary market data could not be fetched, retry later",
				"Treat this token as unverified until a full analysis succeeds",
			},
			LastUpdated: now,
			DataSources: []risk.DataSource{risk.SourceFallback},
		},
		BaseScore:           fallbackScore,
		Token:               risk.TokenData{ID: tokenID, DataSource: risk.SourceFallback},
		WalletConcentration: risk.DefaultWalletConcentration(),
		ContractSecurity:    risk.DefaultContractSecurity(),
		TradingBehavior:     risk.DefaultTradingBehavior(),
		Confidence:          ConfidenceMetrics{DataCompleteness: &zero},
		HistoricalTrend:     HistoricalTrend{Status: StatusUnavailable},
		PeerComparison:      PeerComparison{Status: StatusUnavailable},
		Alerts: []string{
			"Fallback analysis: " + string(kind) + " error from primary source",
		},
		FallbackSources: []string{"token", ComponentWallet, ComponentContract, ComponentTrading},
		Fallback:        true,
		FallbackReason:  reason,
		AnalyzedAt:      now,
	}
}
