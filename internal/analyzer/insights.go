package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"crypto-risk-scorer/internal/risk"
	"crypto-risk-scorer/internal/validation"
)

const (
	trendBand      = 5.0
	minTrendPoints = 2
	minPeers       = 3
	lowConfidence  = 0.5
)

// historicalTrend compares current with the oldest stored point; points
// arrive newest first.
func historicalTrend(current float64, points []ScorePoint, haveStore bool) HistoricalTrend {
	if !haveStore || len(points) < minTrendPoints {
		return HistoricalTrend{Status: StatusUnavailable}
	}

	ordered := append([]ScorePoint(nil), points...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	change := current - ordered[0].Score
	direction := TrendStable
	switch {
	case change > trendBand:
		direction = TrendWorsening
	case change < -trendBand:
		direction = TrendImproving
	}
	return HistoricalTrend{
		Status:    StatusAvailable,
		Direction: direction,
		Change:    change,
		Points:    ordered,
	}
}

func peerComparison(score float64, peers []float64) PeerComparison {
	if len(peers) < minPeers {
		return PeerComparison{Status: StatusUnavailable, PeerCount: len(peers)}
	}

	var sum float64
	below := 0
	for _, p := range peers {
		sum += p
		if p < score {
			below++
		}
	}
	avg := sum / float64(len(peers))

	relative := "similar"
	switch {
	case score > avg+trendBand:
		relative = "higher"
	case score < avg-trendBand:
		relative = "lower"
	}
	return PeerComparison{
		Status:     StatusAvailable,
		PeerCount:  len(peers),
		PeerAvg:    avg,
		Percentile: float64(below) / float64(len(peers)) * 100,
		Relative:   relative,
	}
}

func generateAlerts(a EnhancedRiskAnalysis) []string {
	alerts := []string{}

	switch a.RiskLevel {
	case risk.LevelCritical:
		alerts = append(alerts, fmt.Sprintf("CRITICAL risk level: overall score %.0f", a.OverallScore))
	case risk.LevelHigh:
		alerts = append(alerts, fmt.Sprintf("HIGH risk level: overall score %.0f", a.OverallScore))
	}

	if c := a.Confidence.OverallConfidence; c < lowConfidence {
		alerts = append(alerts, fmt.Sprintf("Low analysis confidence (%.2f): treat the score as provisional", c))
	}

	if a.WalletConcentration.DataSource != risk.SourceFallback && a.WalletConcentration.WhaleConcentrationRisk.AtLeast(risk.LevelHigh) {
		alerts = append(alerts, fmt.Sprintf("Whale concentration: top 10 holders control %.1f%% of supply", a.WalletConcentration.Top10HoldersPercentage))
	}

	if a.ContractSecurity.DataSource != risk.SourceFallback && a.ContractSecurity.HasMintFunction && !a.ContractSecurity.OwnershipRenounced {
		alerts = append(alerts, "Mint authority: an active owner can create new supply")
	}

	if r := a.CrossValidation; r != nil {
		var fields []string
		for _, name := range sortedFieldNames(r.Results) {
			res := r.Results[name]
			if res.ValidationStatus == validation.StatusError && len(res.SourceValues) >= 2 {
				fields = append(fields, name)
			}
		}
		if len(fields) > 0 {
			alerts = append(alerts, "Sources disagree on: "+strings.Join(fields, ", "))
		}
		for _, anomaly := range r.Anomalies {
			alerts = append(alerts, "Data anomaly: "+anomaly)
		}
	}

	if len(a.FallbackSources) > 0 {
		alerts = append(alerts, "Fallback data used for: "+strings.Join(a.FallbackSources, ", "))
	}
	return alerts
}

func sortedFieldNames[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
