package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"crypto-risk-scorer/internal/risk"
	"crypto-risk-scorer/internal/service"
)

// Analyze runs one token analysis and prints it.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	data, err := rt.service.AnalyzeToken(ctx, service.AnalyzeRequest{
		TokenID:           opts.TokenID,
		TokenAddress:      opts.TokenAddress,
		Blockchain:        opts.Blockchain,
		IncludeHistorical: opts.Historical,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		return writeJSON(os.Stdout, data)
	}
	return renderAnalysis(os.Stdout, data)
}

// Batch analyzes several tokens and prints the report.
func (a *App) Batch(ctx context.Context, opts BatchOptions) error {
	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	reqs := make([]service.AnalyzeRequest, 0, len(opts.TokenIDs))
	for _, id := range opts.TokenIDs {
		reqs = append(reqs, service.AnalyzeRequest{TokenID: id})
	}

	reportType := service.ReportTypeSummary
	if opts.Detailed {
		reportType = service.ReportTypeDetailed
	}
	report, err := rt.service.GenerateRiskReport(ctx, reqs, reportType)
	if err != nil {
		return err
	}

	if opts.Detailed {
		return writeJSON(os.Stdout, report)
	}
	return renderReport(os.Stdout, report)
}

// Monitor runs real-time monitoring in the foreground until SIGINT/SIGTERM.
func (a *App) Monitor(ctx context.Context, opts MonitorOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	tokens := make([]service.AnalyzeRequest, 0, len(opts.TokenIDs))
	for _, id := range opts.TokenIDs {
		tokens = append(tokens, service.AnalyzeRequest{TokenID: id})
	}

	monitor, err := rt.service.StartRealTimeMonitoring(ctx, tokens, opts.Interval)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		monitor.Stop()
	case <-monitor.Done():
	}

	a.Logger.Info().Str("monitor", monitor.ID()).Int64("ticks", monitor.Ticks()).Msg("monitoring stopped")
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderAnalysis(w io.Writer, data service.ComprehensiveTokenData) error {
	ra := data.RiskAnalysis
	fmt.Fprintf(w, "Token:       %s (%s)\n", ra.TokenID, strings.ToUpper(data.Token.Symbol))
	fmt.Fprintf(w, "Risk score:  %.1f (%s)\n", ra.OverallScore, ra.RiskLevel)
	fmt.Fprintf(w, "Confidence:  %.0f%%\n", ra.Confidence.OverallConfidence*100)
	fmt.Fprintf(w, "Analysis:    %s\n", data.AnalysisType)
	if data.AnalysisMetadata.Cached {
		fmt.Fprintf(w, "Cached:      %.0fs ago\n", data.AnalysisMetadata.CacheAgeSeconds)
	}
	if ra.Fallback {
		fmt.Fprintf(w, "Fallback:    %s\n", sanitizeInline(ra.FallbackReason))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Category\tScore\tWeight\tLevel\tExplanation")
	for _, f := range ra.RiskFactors {
		fmt.Fprintf(tw, "%s\t%.1f\t%.2f\t%s\t%s\n", f.Category, f.Score, f.Weight, f.RiskLevel, sanitizeInline(f.Explanation))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(ra.Alerts) > 0 {
		fmt.Fprintln(w, "\nAlerts:")
		for _, alert := range ra.Alerts {
			fmt.Fprintf(w, "  - %s\n", alert)
		}
	}
	if len(ra.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, rec := range ra.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
	return nil
}

func renderReport(w io.Writer, report service.RiskReport) error {
	s := report.Summary
	fmt.Fprintf(w, "Generated:   %s\n", report.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Tokens:      %d analyzed, %d failed\n", s.Analyzed, s.Failed)
	fmt.Fprintf(w, "Avg score:   %.1f\n", s.AverageScore)
	fmt.Fprintf(w, "Avg conf.:   %.0f%%\n", s.AverageConfidence*100)
	fmt.Fprintf(w, "Levels:      LOW=%d MEDIUM=%d HIGH=%d CRITICAL=%d\n\n",
		s.LevelDistribution[risk.LevelLow],
		s.LevelDistribution[risk.LevelMedium],
		s.LevelDistribution[risk.LevelHigh],
		s.LevelDistribution[risk.LevelCritical],
	)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Token\tSymbol\tScore\tLevel")
	for _, top := range s.TopRisks {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\n", top.TokenID, strings.ToUpper(top.Symbol), top.Score, top.RiskLevel)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	failed := make([]string, 0, len(report.Errors))
	for id := range report.Errors {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(w, "error: %s: %s\n", id, sanitizeInline(report.Errors[id]))
	}
	if s.Analyzed == 0 && s.TotalTokens > 0 {
		return errors.New("no token could be analyzed")
	}
	return nil
}
