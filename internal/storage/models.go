package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"crypto-risk-scorer/internal/analyzer"
)

// RiskSnapshot is one persisted analysis result.
type RiskSnapshot struct {
	ID           int64
	TokenID      string
	Symbol       string
	Blockchain   string
	TokenAddress string
	OverallScore decimal.Decimal
	BaseScore    decimal.Decimal
	RiskLevel    string
	Confidence   decimal.Decimal
	PriceUSD     decimal.Decimal
	MarketCapUSD decimal.Decimal
	Fallback     bool
	DataSources  []string
	Analysis     json.RawMessage
	AnalyzedAt   time.Time
	CreatedAt    time.Time
}

// MonitorAlert captures an emitted monitoring alert for auditing.
type MonitorAlert struct {
	ID            int64
	TokenID       string
	Kind          string
	RiskScore     decimal.Decimal
	RiskLevel     string
	PriceUSD      decimal.Decimal
	PreviousPrice decimal.Decimal
	DeviationPct  decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	Channels      []string
	ObservedAt    time.Time
	CreatedAt     time.Time
}

// SnapshotFromAnalysis converts an analysis into a storable snapshot.
func SnapshotFromAnalysis(a analyzer.EnhancedRiskAnalysis, blockchain, tokenAddress string) (RiskSnapshot, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return RiskSnapshot{}, fmt.Errorf("marshal analysis: %w", err)
	}

	sources := make([]string, 0, len(a.DataSources))
	for _, src := range a.DataSources {
		sources = append(sources, string(src))
	}

	analyzedAt := a.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = a.LastUpdated
	}

	return RiskSnapshot{
		TokenID:      a.TokenID,
		Symbol:       a.Token.Symbol,
		Blockchain:   blockchain,
		TokenAddress: tokenAddress,
		OverallScore: decimal.NewFromFloat(a.OverallScore).Round(2),
		BaseScore:    decimal.NewFromFloat(a.BaseScore).Round(2),
		RiskLevel:    string(a.RiskLevel),
		Confidence:   decimal.NewFromFloat(a.Confidence.OverallConfidence).Round(4),
		PriceUSD:     decimal.NewFromFloat(a.Token.CurrentPrice),
		MarketCapUSD: decimal.NewFromFloat(a.Token.MarketCap).Round(2),
		Fallback:     a.Fallback,
		DataSources:  sources,
		Analysis:     payload,
		AnalyzedAt:   analyzedAt.UTC(),
	}, nil
}
