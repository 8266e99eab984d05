// Package validation compares overlapping market fields reported by several
// providers and derives a reliability-weighted consensus for each.
package validation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"crypto-risk-scorer/internal/risk"
)

// Status of a validated field.
type Status string

const (
	StatusValid   Status = "valid"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Tracked field names.
const (
	FieldPrice             = "price"
	FieldMarketCap         = "market_cap"
	FieldTotalVolume       = "total_volume"
	FieldCirculatingSupply = "circulating_supply"
	FieldTotalSupply       = "total_supply"
)

const (
	resolutionInsufficient = "insufficient_data"
	resolutionWeighted     = "reliability_weighted_average"
)

// TrackedFields lists the compared fields in report order.
var TrackedFields = []string{FieldPrice, FieldMarketCap, FieldTotalVolume, FieldCirculatingSupply, FieldTotalSupply}

// VarianceThresholds are the tolerated normalized variances per field.
var VarianceThresholds = map[string]float64{
	FieldPrice:             0.05,
	FieldMarketCap:         0.10,
	FieldTotalVolume:       0.15,
	FieldCirculatingSupply: 0.02,
	FieldTotalSupply:       0.02,
}

// FieldWeights blend field confidences into the overall confidence.
var FieldWeights = map[string]float64{
	FieldPrice:             0.30,
	FieldMarketCap:         0.25,
	FieldTotalVolume:       0.20,
	FieldCirculatingSupply: 0.15,
	FieldTotalSupply:       0.10,
}

// SourceReliability holds the static trust score of each provider.
var SourceReliability = map[risk.DataSource]float64{
	risk.SourceCoinGecko: 0.95,
	risk.SourceMoralis:   0.90,
	risk.SourceMobula:    0.88,
	risk.SourceTokenview: 0.85,
	risk.SourceOnchain:   0.98,
}

const unknownReliability = 0.5

// Reliability returns the trust score of a source.
func Reliability(source risk.DataSource) float64 {
	if r, ok := SourceReliability[source]; ok {
		return r
	}
	return unknownReliability
}

// Fields are the values one source reported; nil means not reported.
type Fields struct {
	Price             *float64 `json:"price,omitempty"`
	MarketCap         *float64 `json:"market_cap,omitempty"`
	TotalVolume       *float64 `json:"total_volume,omitempty"`
	CirculatingSupply *float64 `json:"circulating_supply,omitempty"`
	TotalSupply       *float64 `json:"total_supply,omitempty"`
}

func (f Fields) value(name string) *float64 {
	switch name {
	case FieldPrice:
		return f.Price
	case FieldMarketCap:
		return f.MarketCap
	case FieldTotalVolume:
		return f.TotalVolume
	case FieldCirculatingSupply:
		return f.CirculatingSupply
	case FieldTotalSupply:
		return f.TotalSupply
	}
	return nil
}

// Discrepancy is a source whose value strays beyond the field threshold.
type Discrepancy struct {
	Source       risk.DataSource `json:"source"`
	Value        float64         `json:"value"`
	DeviationPct float64         `json:"deviation_pct"`
}

// Result is the validation outcome for one field.
type Result struct {
	Field            string                      `json:"field"`
	SourceValues     map[risk.DataSource]float64 `json:"source_values"`
	ConsensusValue   float64                     `json:"consensus_value"`
	Variance         float64                     `json:"variance"`
	ConfidenceScore  float64                     `json:"confidence_score"`
	Discrepancies    []Discrepancy               `json:"discrepancies"`
	ValidationStatus Status                      `json:"validation_status"`
	ResolutionMethod string                      `json:"resolution_method"`
}

// Report is the cross-validation outcome for one token.
type Report struct {
	TokenID           string            `json:"token_id"`
	Results           map[string]Result `json:"results"`
	OverallConfidence float64           `json:"overall_confidence"`
	Anomalies         []string          `json:"anomalies"`
	SourcesUsed       []risk.DataSource `json:"sources_used"`
	ValidatedAt       time.Time         `json:"validated_at"`
}

// HasErrors reports whether any field resolved with a real disagreement.
func (r Report) HasErrors() bool {
	for _, res := range r.Results {
		if res.ValidationStatus == StatusError && res.ResolutionMethod != resolutionInsufficient {
			return true
		}
	}
	return false
}

// Validator runs cross-source validation. Its zero value is usable.
type Validator struct {
	// MinSources is the number of sources a field needs; defaults to 2.
	MinSources int
	now        func() time.Time
}

// New returns a Validator requiring two sources per field.
func New() *Validator {
	return &Validator{MinSources: 2}
}

// ValidateTokenData validates every tracked field across the given sources.
func (v *Validator) ValidateTokenData(tokenID string, sources map[risk.DataSource]Fields) Report {
	now := time.Now
	if v.now != nil {
		now = v.now
	}

	report := Report{
		TokenID:     tokenID,
		Results:     make(map[string]Result, len(TrackedFields)),
		Anomalies:   []string{},
		SourcesUsed: sortedSources(sources),
		ValidatedAt: now().UTC(),
	}

	var weighted, total float64
	for _, field := range TrackedFields {
		res := v.validateField(field, sources)
		report.Results[field] = res
		weighted += res.ConfidenceScore * FieldWeights[field]
		total += FieldWeights[field]
	}
	if total > 0 {
		report.OverallConfidence = clampUnit(weighted / total)
	}

	report.Anomalies = DetectAnomalies(sources)
	return report
}

func (v *Validator) validateField(field string, sources map[risk.DataSource]Fields) Result {
	minSources := v.MinSources
	if minSources < 2 {
		minSources = 2
	}

	values := make(map[risk.DataSource]float64)
	for _, src := range sortedSources(sources) {
		if val := sources[src].value(field); val != nil && !math.IsNaN(*val) {
			values[src] = *val
		}
	}

	res := Result{
		Field:         field,
		SourceValues:  values,
		Discrepancies: []Discrepancy{},
	}

	if len(values) < minSources {
		res.ValidationStatus = StatusError
		res.ResolutionMethod = resolutionInsufficient
		for _, val := range values {
			res.ConsensusValue = val
		}
		return res
	}

	consensus, avgReliability := weightedConsensus(values)
	variance := normalizedVariance(values, consensus)
	threshold := VarianceThresholds[field]

	for _, src := range sortedKeys(values) {
		dev := relativeDeviation(values[src], consensus)
		if dev > threshold {
			res.Discrepancies = append(res.Discrepancies, Discrepancy{
				Source:       src,
				Value:        values[src],
				DeviationPct: dev * 100,
			})
		}
	}

	switch {
	case variance <= threshold:
		res.ValidationStatus = StatusValid
	case variance <= 2*threshold:
		res.ValidationStatus = StatusWarning
	default:
		res.ValidationStatus = StatusError
	}

	sourceFactor := math.Min(float64(len(values))/3, 1)
	variancePenalty := math.Min(variance/(2*threshold), 1)
	res.ConsensusValue = consensus
	res.Variance = variance
	res.ConfidenceScore = clampUnit(0.4*sourceFactor + 0.4*(1-variancePenalty) + 0.2*avgReliability)
	res.ResolutionMethod = resolutionWeighted
	return res
}

func weightedConsensus(values map[risk.DataSource]float64) (consensus, avgReliability float64) {
	var sum, weights float64
	for src, val := range values {
		w := Reliability(src)
		sum += val * w
		weights += w
	}
	if weights == 0 {
		return 0, 0
	}
	return sum / weights, weights / float64(len(values))
}

// normalizedVariance is the RMS of relative deviations from consensus.
func normalizedVariance(values map[risk.DataSource]float64, consensus float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sq float64
	for _, val := range values {
		d := relativeDeviation(val, consensus)
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func relativeDeviation(value, consensus float64) float64 {
	if consensus == 0 {
		if value == 0 {
			return 0
		}
		return 1
	}
	return math.Abs(value-consensus) / math.Abs(consensus)
}

// DetectAnomalies flags per-source values that cannot be right.
func DetectAnomalies(sources map[risk.DataSource]Fields) []string {
	anomalies := []string{}
	for _, src := range sortedSources(sources) {
		f := sources[src]
		if f.Price != nil && *f.Price < 0 {
			anomalies = append(anomalies, fmt.Sprintf("%s: negative price %g", src, *f.Price))
		}
		if f.Price != nil && f.MarketCap != nil && f.CirculatingSupply != nil && *f.MarketCap > 0 {
			implied := *f.Price * *f.CirculatingSupply
			if mismatch := math.Abs(*f.MarketCap-implied) / *f.MarketCap; mismatch > 0.10 {
				anomalies = append(anomalies, fmt.Sprintf("%s: market cap deviates %.1f%% from price x circulating supply", src, mismatch*100))
			}
		}
		if f.CirculatingSupply != nil && f.TotalSupply != nil && *f.TotalSupply > 0 && *f.CirculatingSupply > *f.TotalSupply {
			anomalies = append(anomalies, fmt.Sprintf("%s: circulating supply %g exceeds total supply %g", src, *f.CirculatingSupply, *f.TotalSupply))
		}
	}
	return anomalies
}

func sortedSources(sources map[risk.DataSource]Fields) []risk.DataSource {
	out := make([]risk.DataSource, 0, len(sources))
	for src := range sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys(values map[risk.DataSource]float64) []risk.DataSource {
	out := make([]risk.DataSource, 0, len(values))
	for src := range values {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
