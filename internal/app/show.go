package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"crypto-risk-scorer/internal/storage"
)

// Show prints a token's recent risk snapshots and monitoring alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapshots, err := store.ListRecentSnapshots(ctx, opts.TokenID, opts.Limit)
	if err != nil {
		return err
	}
	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}

	return renderHistory(os.Stdout, opts.TokenID, snapshots, alerts)
}

func renderHistory(w io.Writer, tokenID string, snapshots []storage.RiskSnapshot, alerts []storage.MonitorAlert) error {
	if len(snapshots) == 0 {
		fmt.Fprintf(w, "no snapshots found for %s\n", tokenID)
	} else {
		writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tScore\tLevel\tConfidence\tPrice\tSources")
		for _, snap := range snapshots {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\n",
				snap.AnalyzedAt.UTC().Format(time.RFC3339),
				formatDecimal(snap.OverallScore, 2),
				snap.RiskLevel,
				formatDecimal(snap.Confidence, 2),
				formatDecimal(snap.PriceUSD, 6),
				strings.Join(snap.DataSources, ","),
			)
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}

	var matched []storage.MonitorAlert
	for _, alert := range alerts {
		if alert.TokenID == tokenID {
			matched = append(matched, alert)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	fmt.Fprintln(w, "\nAlerts:")
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tScore\tLevel\tDeviation%\tDirection\tChannels")
	for _, alert := range matched {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.ObservedAt.UTC().Format(time.RFC3339),
			alert.Kind,
			formatDecimal(alert.RiskScore, 2),
			alert.RiskLevel,
			formatDecimal(alert.DeviationPct, 2),
			alert.Direction,
			strings.Join(alert.Channels, ","),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
