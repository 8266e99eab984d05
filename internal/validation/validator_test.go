package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-scorer/internal/risk"
)

func ptr(v float64) *float64 { return &v }

func TestSingleSourceIsError(t *testing.T) {
	report := New().ValidateTokenData("bitcoin", map[risk.DataSource]Fields{
		risk.SourceCoinGecko: {Price: ptr(100)},
	})

	res := report.Results[FieldPrice]
	assert.Equal(t, StatusError, res.ValidationStatus)
	assert.Equal(t, "insufficient_data", res.ResolutionMethod)
	assert.Equal(t, 100.0, res.ConsensusValue)
	assert.Zero(t, res.ConfidenceScore)
	assert.False(t, report.HasErrors())
}

func TestThreeConsistentSourcesAreValid(t *testing.T) {
	report := New().ValidateTokenData("bitcoin", map[risk.DataSource]Fields{
		risk.SourceCoinGecko: {Price: ptr(100.0)},
		risk.SourceMobula:    {Price: ptr(100.5)},
		risk.SourceMoralis:   {Price: ptr(99.8)},
	})

	res := report.Results[FieldPrice]
	assert.Equal(t, StatusValid, res.ValidationStatus)
	assert.Empty(t, res.Discrepancies)
	assert.InDelta(t, 100.1, res.ConsensusValue, 0.2)
	assert.Greater(t, res.ConfidenceScore, 0.9)
	assert.LessOrEqual(t, res.ConfidenceScore, 1.0)
}

func TestConsensusIsReliabilityWeighted(t *testing.T) {
	report := New().ValidateTokenData("x", map[risk.DataSource]Fields{
		risk.SourceCoinGecko: {MarketCap: ptr(1000)},
		"unknown":            {MarketCap: ptr(2000)},
	})

	res := report.Results[FieldMarketCap]
	want := (1000*0.95 + 2000*0.5) / (0.95 + 0.5)
	assert.InDelta(t, want, res.ConsensusValue, 1e-9)
}

func TestDisagreementEscalatesStatus(t *testing.T) {
	report := New().ValidateTokenData("x", map[risk.DataSource]Fields{
		risk.SourceCoinGecko: {TotalSupply: ptr(1000), TotalVolume: ptr(1000)},
		risk.SourceMobula:    {TotalSupply: ptr(1500), TotalVolume: ptr(1100)},
	})

	supply := report.Results[FieldTotalSupply]
	assert.Equal(t, StatusError, supply.ValidationStatus)
	require.Len(t, supply.Discrepancies, 2)
	assert.True(t, report.HasErrors())

	volume := report.Results[FieldTotalVolume]
	assert.Equal(t, StatusValid, volume.ValidationStatus)
}

func TestWarningBand(t *testing.T) {
	// ~7% spread on price: above 5%, below 10%.
	report := New().ValidateTokenData("x", map[risk.DataSource]Fields{
		risk.SourceCoinGecko: {Price: ptr(100)},
		risk.SourceMoralis:   {Price: ptr(115)},
	})
	res := report.Results[FieldPrice]
	assert.Equal(t, StatusWarning, res.ValidationStatus)
	assert.Greater(t, res.Variance, 0.05)
	assert.LessOrEqual(t, res.Variance, 0.10)
}

func TestOverallConfidenceBounded(t *testing.T) {
	full := Fields{Price: ptr(1), MarketCap: ptr(100), TotalVolume: ptr(10), CirculatingSupply: ptr(100), TotalSupply: ptr(200)}
	report := New().ValidateTokenData("x", map[risk.DataSource]Fields{
		risk.SourceCoinGecko: full,
		risk.SourceMobula:    full,
		risk.SourceTokenview: full,
	})

	assert.InDelta(t, 1.0, report.OverallConfidence, 0.1)
	assert.LessOrEqual(t, report.OverallConfidence, 1.0)
	assert.Len(t, report.SourcesUsed, 3)
	assert.Empty(t, report.Anomalies)
}

func TestDetectAnomalies(t *testing.T) {
	anomalies := DetectAnomalies(map[risk.DataSource]Fields{
		risk.SourceMobula: {
			Price:             ptr(-1),
			MarketCap:         ptr(1000),
			CirculatingSupply: ptr(500),
			TotalSupply:       ptr(100),
		},
	})

	require.Len(t, anomalies, 3)
	assert.Contains(t, anomalies[0], "negative price")
	assert.Contains(t, anomalies[1], "market cap deviates")
	assert.Contains(t, anomalies[2], "exceeds total supply")
}
