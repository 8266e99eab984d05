package service

import (
	"time"

	"crypto-risk-scorer/internal/analyzer"
	"crypto-risk-scorer/internal/cache"
	"crypto-risk-scorer/internal/risk"
)

// Analysis types reported in ComprehensiveTokenData.
const (
	AnalysisEnhanced      = "enhanced"
	AnalysisComprehensive = "comprehensive"
	AnalysisFallback      = "fallback"
)

// ReportType selects the GenerateRiskReport output.
type ReportType string

const (
	ReportTypeSummary  ReportType = "summary"
	ReportTypeDetailed ReportType = "detailed"
)

// AnalyzeRequest identifies a token and how long a cached result stays valid.
type AnalyzeRequest struct {
	TokenID      string `json:"tokenId"`
	TokenAddress string `json:"tokenAddress,omitempty"`
	Blockchain   string `json:"blockchain,omitempty"`
	// CacheDuration 以分钟为单位，0 表示使用默认值。
	CacheDuration     int  `json:"cacheDuration,omitempty"`
	IncludeHistorical bool `json:"includeHistorical,omitempty"`
}

// AnalysisMetadata describes how a result was produced.
type AnalysisMetadata struct {
	Cached           bool     `json:"cached"`
	CacheAgeSeconds  float64  `json:"cache_age_seconds,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Confidence       float64  `json:"confidence"`
	Fallback         bool     `json:"fallback"`
	FallbackSources  []string `json:"fallback_sources,omitempty"`
	Blockchain       string   `json:"blockchain"`
	TokenAddress     string   `json:"token_address,omitempty"`
	Version          string   `json:"version"`
}

// ComprehensiveTokenData is the response of one token analysis.
type ComprehensiveTokenData struct {
	Token            risk.TokenData                `json:"token"`
	RiskAnalysis     analyzer.EnhancedRiskAnalysis `json:"risk_analysis"`
	AnalysisType     string                        `json:"analysis_type"`
	DataSources      []risk.DataSource             `json:"data_sources"`
	AnalysisMetadata AnalysisMetadata              `json:"analysis_metadata"`
	Timestamp        time.Time                     `json:"timestamp"`
}

// BatchResult is the outcome for one token of a batch.
type BatchResult struct {
	TokenID   string                  `json:"token_id"`
	Data      *ComprehensiveTokenData `json:"data,omitempty"`
	Error     string                  `json:"error,omitempty"`
	ErrorKind string                  `json:"error_kind,omitempty"`
}

// OK reports whether the token was analyzed.
func (r BatchResult) OK() bool {
	return r.Data != nil
}

// TopRisk is a summary line for one of the riskiest tokens.
type TopRisk struct {
	TokenID   string     `json:"token_id"`
	Symbol    string     `json:"symbol"`
	Score     float64    `json:"score"`
	RiskLevel risk.Level `json:"risk_level"`
}

// ReportSummary aggregates a batch.
type ReportSummary struct {
	TotalTokens       int                `json:"total_tokens"`
	Analyzed          int                `json:"analyzed"`
	Failed            int                `json:"failed"`
	AverageScore      float64            `json:"average_score"`
	AverageConfidence float64            `json:"average_confidence"`
	LevelDistribution map[risk.Level]int `json:"risk_distribution"`
	TopRisks          []TopRisk          `json:"top_risks"`
}

// RiskReport is the GenerateRiskReport output.
type RiskReport struct {
	ReportType       ReportType                        `json:"report_type"`
	Summary          ReportSummary                     `json:"summary"`
	DetailedAnalysis map[string]ComprehensiveTokenData `json:"detailed_analysis,omitempty"`
	Errors           map[string]string                 `json:"errors,omitempty"`
	GeneratedAt      time.Time                         `json:"generated_at"`
}

// TokenMetric is the cached view of one token in the monitoring metrics.
type TokenMetric struct {
	TokenID   string     `json:"token_id"`
	Cached    bool       `json:"cached"`
	Score     float64    `json:"score,omitempty"`
	RiskLevel risk.Level `json:"risk_level,omitempty"`
	Price     float64    `json:"price,omitempty"`
	CachedAt  *time.Time `json:"cached_at,omitempty"`
}

// MonitoringMetrics is the GET /api/monitoring/metrics payload.
type MonitoringMetrics struct {
	Cache        cache.Stats   `json:"cache"`
	CacheHitRate float64       `json:"cache_hit_rate"`
	Monitor      MonitorStatus `json:"monitoring"`
	Tokens       []TokenMetric `json:"tokens"`
	Timestamp    time.Time     `json:"timestamp"`
}
