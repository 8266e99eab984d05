package analyzer

import (
	"time"

	"crypto-risk-scorer/internal/risk"
	"crypto-risk-scorer/internal/validation"
)

// Status of an optional insight.
const (
	StatusAvailable   = "available"
	StatusUnavailable = "unavailable"
)

// Trend directions. A rising score means rising risk.
const (
	TrendImproving = "improving"
	TrendWorsening = "worsening"
	TrendStable    = "stable"
)

// Request identifies the token to analyze.
type Request struct {
	TokenID           string `json:"tokenId"`
	TokenAddress      string `json:"tokenAddress,omitempty"`
	Blockchain        string `json:"blockchain,omitempty"`
	IncludeHistorical bool   `json:"includeHistorical,omitempty"`
	CrossValidate     bool   `json:"crossValidate,omitempty"`
}

// ScorePoint is one stored analysis score.
type ScorePoint struct {
	At    time.Time  `json:"at"`
	Score float64    `json:"score"`
	Level risk.Level `json:"level"`
	Price float64    `json:"price"`
}

// ConfidenceMetrics grade how far the analysis can be trusted. A nil
// component could not be measured and is left out of the blend.
type ConfidenceMetrics struct {
	DataCompleteness     *float64 `json:"data_completeness"`
	SourceReliability    *float64 `json:"source_reliability"`
	TemporalConsistency  *float64 `json:"temporal_consistency"`
	CrossValidationScore *float64 `json:"cross_validation_score"`
	OverallConfidence    float64  `json:"overall_confidence"`
}

// HistoricalTrend compares the current score with stored history.
type HistoricalTrend struct {
	Status    string       `json:"status"`
	Direction string       `json:"direction,omitempty"`
	Change    float64      `json:"change"`
	Points    []ScorePoint `json:"points,omitempty"`
}

// PeerComparison ranks the token against the latest scores of other tokens.
type PeerComparison struct {
	Status     string  `json:"status"`
	PeerCount  int     `json:"peer_count"`
	PeerAvg    float64 `json:"peer_average,omitempty"`
	Percentile float64 `json:"percentile,omitempty"`
	Relative   string  `json:"relative,omitempty"`
}

// EnhancedRiskAnalysis is the calculator output plus confidence and
// insights.
type EnhancedRiskAnalysis struct {
	risk.Analysis
	BaseScore           float64                  `json:"base_score"`
	Token               risk.TokenData           `json:"token"`
	WalletConcentration risk.WalletConcentration `json:"wallet_concentration"`
	ContractSecurity    risk.ContractSecurity    `json:"contract_security"`
	TradingBehavior     risk.TradingBehavior     `json:"trading_behavior"`
	Confidence          ConfidenceMetrics        `json:"confidence_metrics"`
	CrossValidation     *validation.Report       `json:"cross_validation,omitempty"`
	HistoricalTrend     HistoricalTrend          `json:"historical_trend"`
	PeerComparison      PeerComparison           `json:"peer_comparison"`
	Alerts              []string                 `json:"alerts"`
	FallbackSources     []string                 `json:"fallback_sources"`
	Fallback            bool                     `json:"fallback"`
	FallbackReason      string                   `json:"fallback_reason,omitempty"`
	AnalyzedAt          time.Time                `json:"analyzed_at"`
}
