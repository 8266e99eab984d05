package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"crypto-risk-scorer/internal/storage"
)

// Export renders a token's score history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	from, to, err := exportWindow(time.Now().UTC(), opts, a.Config.Monitoring.Interval)
	if err != nil {
		return err
	}

	snapshots, err := store.ListSnapshotsBetween(ctx, opts.TokenID, from, to)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Str("token", opts.TokenID).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, opts.TokenID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// exportWindow 默认向前回溯 maxPoints 个监控周期。
func exportWindow(now time.Time, opts ExportOptions, interval time.Duration) (time.Time, time.Time, error) {
	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}

	if interval <= 0 {
		interval = time.Minute
	}
	from := to.Add(-time.Duration(opts.MaxPoints) * interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsampleSnapshots(snapshots []storage.RiskSnapshot, limit int) []storage.RiskSnapshot {
	if limit <= 0 || len(snapshots) <= limit {
		return snapshots
	}
	if limit == 1 {
		return snapshots[len(snapshots)-1:]
	}

	result := make([]storage.RiskSnapshot, 0, limit)
	step := float64(len(snapshots)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.RiskSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"analyzed_at", "overall_score", "base_score", "risk_level", "confidence", "price_usd", "market_cap_usd", "fallback", "data_sources"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		record := []string{
			snap.AnalyzedAt.UTC().Format(time.RFC3339),
			snap.OverallScore.String(),
			snap.BaseScore.String(),
			snap.RiskLevel,
			snap.Confidence.String(),
			snap.PriceUSD.String(),
			snap.MarketCapUSD.String(),
			strconv.FormatBool(snap.Fallback),
			strings.Join(snap.DataSources, ";"),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSnapshotsPNG(path, tokenID string, snapshots []storage.RiskSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snapshots))
	scores := make([]float64, len(snapshots))
	prices := make([]float64, len(snapshots))

	for i, snap := range snapshots {
		x[i] = snap.AnalyzedAt
		scores[i] = snap.OverallScore.InexactFloat64()
		prices[i] = snap.PriceUSD.InexactFloat64()
	}

	graph := chart.Chart{
		Title:  tokenID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Risk score",
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Price (USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Risk score",
				XValues: x,
				YValues: scores,
			},
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: prices,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
