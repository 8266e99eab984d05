package service

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/risk"
)

const topRiskCount = 5

// BatchRiskAssessment analyzes the tokens in batches, waiting between
// batches. A failing token is reported in its result and never aborts the
// others. Results keep the request order.
func (s *Service) BatchRiskAssessment(ctx context.Context, reqs []AnalyzeRequest) ([]BatchResult, error) {
	if len(reqs) > s.opts.MaxBatchTokens {
		return nil, invalidRequest(fmt.Sprintf("at most %d tokens per batch", s.opts.MaxBatchTokens))
	}

	results := make([]BatchResult, len(reqs))
	for start := 0; start < len(reqs); start += s.opts.BatchSize {
		if start > 0 && s.opts.BatchDelay > 0 {
			if err := s.opts.Sleep(ctx, s.opts.BatchDelay); err != nil {
				return results[:start], err
			}
		}

		end := start + s.opts.BatchSize
		if end > len(reqs) {
			end = len(reqs)
		}

		var eg errgroup.Group
		for i := start; i < end; i++ {
			eg.Go(func() error {
				results[i] = s.assessOne(ctx, reqs[i])
				return nil
			})
		}
		_ = eg.Wait()

		s.logger.Debug().Int("from", start).Int("to", end).Msg("batch processed")
	}
	return results, nil
}

func (s *Service) assessOne(ctx context.Context, req AnalyzeRequest) BatchResult {
	res := BatchResult{TokenID: req.TokenID}
	data, err := s.AnalyzeToken(ctx, req)
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = string(fetcher.KindOf(err))
		return res
	}
	res.TokenID = data.RiskAnalysis.TokenID
	res.Data = &data
	return res
}

// GenerateRiskReport runs a batch and summarises it. Detailed reports also
// carry every analysis keyed by token id.
func (s *Service) GenerateRiskReport(ctx context.Context, reqs []AnalyzeRequest, reportType ReportType) (RiskReport, error) {
	if reportType == "" {
		reportType = ReportTypeSummary
	}
	if reportType != ReportTypeSummary && reportType != ReportTypeDetailed {
		return RiskReport{}, invalidRequest(fmt.Sprintf("unknown report type %q", reportType))
	}

	results, err := s.BatchRiskAssessment(ctx, reqs)
	if err != nil {
		return RiskReport{}, err
	}

	report := RiskReport{
		ReportType:  reportType,
		Summary:     Summarize(results),
		GeneratedAt: s.opts.Now().UTC(),
	}
	if reportType == ReportTypeDetailed {
		report.DetailedAnalysis = make(map[string]ComprehensiveTokenData, len(results))
	}
	for _, r := range results {
		if !r.OK() {
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[r.TokenID] = r.Error
			continue
		}
		if reportType == ReportTypeDetailed {
			report.DetailedAnalysis[r.TokenID] = *r.Data
		}
	}
	return report, nil
}

// Summarize aggregates batch results.
func Summarize(results []BatchResult) ReportSummary {
	summary := ReportSummary{
		TotalTokens: len(results),
		LevelDistribution: map[risk.Level]int{
			risk.LevelLow:      0,
			risk.LevelMedium:   0,
			risk.LevelHigh:     0,
			risk.LevelCritical: 0,
		},
		TopRisks: []TopRisk{},
	}

	var scoreSum, confidenceSum float64
	for _, r := range results {
		if !r.OK() {
			summary.Failed++
			continue
		}
		a := r.Data.RiskAnalysis
		summary.Analyzed++
		scoreSum += a.OverallScore
		confidenceSum += a.Confidence.OverallConfidence
		summary.LevelDistribution[a.RiskLevel]++
		summary.TopRisks = append(summary.TopRisks, TopRisk{
			TokenID:   a.TokenID,
			Symbol:    a.Token.Symbol,
			Score:     a.OverallScore,
			RiskLevel: a.RiskLevel,
		})
	}

	if summary.Analyzed > 0 {
		summary.AverageScore = scoreSum / float64(summary.Analyzed)
		summary.AverageConfidence = confidenceSum / float64(summary.Analyzed)
	}

	sort.SliceStable(summary.TopRisks, func(i, j int) bool {
		return summary.TopRisks[i].Score > summary.TopRisks[j].Score
	})
	if len(summary.TopRisks) > topRiskCount {
		summary.TopRisks = summary.TopRisks[:topRiskCount]
	}
	return summary
}
