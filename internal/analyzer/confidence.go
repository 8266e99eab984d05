package analyzer

import (
	"math"

	"crypto-risk-scorer/internal/risk"
	"crypto-risk-scorer/internal/validation"
)

const (
	weightCompleteness = 0.30
	weightReliability  = 0.25
	weightTemporal     = 0.25
	weightCrossCheck   = 0.20

	// score stddev at which temporal consistency reaches zero
	temporalStddevCeiling = 25.0
)

// completenessChecklist counts the populated inputs out of twelve.
func completenessChecklist(token risk.TokenData, wallet risk.WalletConcentration, contract risk.ContractSecurity, liquidityKnown bool) float64 {
	checks := []bool{
		token.CurrentPrice > 0,
		token.MarketCap > 0,
		token.TotalVolume > 0,
		token.MarketCapRank > 0,
		token.CirculatingSupply > 0,
		token.TotalSupply > 0,
		token.MaxSupply != nil,
		token.High24h > 0 && token.Low24h > 0,
		token.CommunityData != nil,
		token.DeveloperData != nil,
		wallet.DataSource != risk.SourceFallback,
		contract.DataSource != risk.SourceFallback || liquidityKnown,
	}
	n := 0
	for _, ok := range checks {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(checks))
}

func confidenceMetrics(
	token risk.TokenData,
	wallet risk.WalletConcentration,
	contract risk.ContractSecurity,
	liquidityKnown bool,
	sources []risk.DataSource,
	history []ScorePoint,
	report *validation.Report,
) ConfidenceMetrics {
	completeness := completenessChecklist(token, wallet, contract, liquidityKnown)
	m := ConfidenceMetrics{DataCompleteness: &completeness}

	var relSum float64
	var relN int
	for _, s := range sources {
		switch s {
		case risk.SourceFallback, risk.SourceDerived:
			continue
		}
		relSum += validation.Reliability(s)
		relN++
	}
	if relN > 0 {
		rel := relSum / float64(relN)
		m.SourceReliability = &rel
	}

	if len(history) >= minTrendPoints {
		tc := 1 - math.Min(stddev(history)/temporalStddevCeiling, 1)
		m.TemporalConsistency = &tc
	}

	if report != nil && crossChecked(*report) {
		cv := report.OverallConfidence
		m.CrossValidationScore = &cv
	}

	m.OverallConfidence = blend(m)
	return m
}

// blend is the weighted mean of the measured components.
func blend(m ConfidenceMetrics) float64 {
	var sum, weights float64
	add := func(v *float64, w float64) {
		if v == nil {
			return
		}
		sum += *v * w
		weights += w
	}
	add(m.DataCompleteness, weightCompleteness)
	add(m.SourceReliability, weightReliability)
	add(m.TemporalConsistency, weightTemporal)
	add(m.CrossValidationScore, weightCrossCheck)
	if weights == 0 {
		return 0
	}
	return math.Max(0, math.Min(1, sum/weights))
}

// crossChecked reports whether any field had two or more sources.
func crossChecked(r validation.Report) bool {
	for _, res := range r.Results {
		if len(res.SourceValues) >= 2 {
			return true
		}
	}
	return false
}

func stddev(points []ScorePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var mean float64
	for _, p := range points {
		mean += p.Score
	}
	mean /= float64(len(points))

	var sq float64
	for _, p := range points {
		d := p.Score - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(points)))
}
