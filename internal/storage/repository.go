package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crypto-risk-scorer/internal/analyzer"
	"crypto-risk-scorer/internal/risk"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertSnapshotSQL = `INSERT INTO risk_snapshots (
        token_id,
        symbol,
        blockchain,
        token_address,
        overall_score,
        base_score,
        risk_level,
        confidence,
        price_usd,
        market_cap_usd,
        fallback,
        data_sources,
        analysis,
        analyzed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    RETURNING id, created_at;`

	snapshotColumns = `id,
        token_id,
        symbol,
        blockchain,
        token_address,
        overall_score::text,
        base_score::text,
        risk_level,
        confidence::text,
        price_usd::text,
        market_cap_usd::text,
        fallback,
        data_sources,
        analysis,
        analyzed_at,
        created_at`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM risk_snapshots
    WHERE token_id = $1
    ORDER BY analyzed_at DESC
    LIMIT $2;`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM risk_snapshots
    WHERE token_id = $1
      AND analyzed_at >= $2
      AND analyzed_at < $3
    ORDER BY analyzed_at;`

	// 仅取非 fallback 结果，避免占位分数污染历史。
	recentScoresSQL = `SELECT analyzed_at, overall_score::float8, risk_level, price_usd::float8
    FROM risk_snapshots
    WHERE token_id = $1
      AND NOT fallback
    ORDER BY analyzed_at DESC
    LIMIT $2;`

	peerScoresSQL = `SELECT score FROM (
        SELECT DISTINCT ON (token_id) token_id, overall_score::float8 AS score
        FROM risk_snapshots
        WHERE token_id <> $1
          AND NOT fallback
        ORDER BY token_id, analyzed_at DESC
    ) latest
    LIMIT $2;`

	insertMonitorAlertSQL = `INSERT INTO monitor_alerts (
        token_id,
        kind,
        risk_score,
        risk_level,
        price_usd,
        previous_price_usd,
        deviation_pct,
        threshold_pct,
        direction,
        channels,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        token_id,
        kind,
        risk_score::text,
        risk_level,
        price_usd::text,
        previous_price_usd::text,
        deviation_pct::text,
        threshold_pct::text,
        direction,
        channels,
        observed_at,
        created_at
    FROM monitor_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for analysis history.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap RiskSnapshot) (RiskSnapshot, error)
	ListRecentSnapshots(ctx context.Context, tokenID string, limit int) ([]RiskSnapshot, error)
	ListSnapshotsBetween(ctx context.Context, tokenID string, from, to time.Time) ([]RiskSnapshot, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertMonitorAlert(ctx context.Context, alert MonitorAlert) (MonitorAlert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]MonitorAlert, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// 解锁失败时连接释放后会话锁随之失效
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSnapshot persists an analysis snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, snap RiskSnapshot) (RiskSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return RiskSnapshot{}, err
	}

	sources := snap.DataSources
	if sources == nil {
		sources = []string{}
	}

	var analysis any
	if len(snap.Analysis) > 0 {
		analysis = []byte(snap.Analysis)
	}

	row := pool.QueryRow(ctx, insertSnapshotSQL,
		snap.TokenID,
		snap.Symbol,
		snap.Blockchain,
		snap.TokenAddress,
		snap.OverallScore.String(),
		snap.BaseScore.String(),
		snap.RiskLevel,
		snap.Confidence.String(),
		snap.PriceUSD.String(),
		snap.MarketCapUSD.String(),
		snap.Fallback,
		sources,
		analysis,
		snap.AnalyzedAt,
	)
	if scanErr := row.Scan(&snap.ID, &snap.CreatedAt); scanErr != nil {
		return RiskSnapshot{}, fmt.Errorf("insert snapshot: %w", scanErr)
	}
	return snap, nil
}

// ListRecentSnapshots lists the newest snapshots of a token, newest first.
func (s *Store) ListRecentSnapshots(ctx context.Context, tokenID string, limit int) ([]RiskSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, tokenID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, limit)
}

// ListSnapshotsBetween lists snapshots of a token within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, tokenID string, from, to time.Time) ([]RiskSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, tokenID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, 0)
}

// RecentScores returns the stored score history of a token, newest first.
func (s *Store) RecentScores(ctx context.Context, tokenID string, limit int) ([]analyzer.ScorePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, recentScoresSQL, tokenID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent scores: %w", queryErr)
	}
	defer rows.Close()

	points := make([]analyzer.ScorePoint, 0, limit)
	for rows.Next() {
		var p analyzer.ScorePoint
		var level string
		if err := rows.Scan(&p.At, &p.Score, &level, &p.Price); err != nil {
			return nil, err
		}
		p.Level = risk.Level(level)
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// PeerScores returns the latest score of every other token.
func (s *Store) PeerScores(ctx context.Context, excludeTokenID string, limit int) ([]float64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, peerScoresSQL, excludeTokenID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list peer scores: %w", queryErr)
	}
	defer rows.Close()

	scores := make([]float64, 0, limit)
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return scores, nil
}

// InsertMonitorAlert persists an alert emission.
func (s *Store) InsertMonitorAlert(ctx context.Context, alert MonitorAlert) (MonitorAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return MonitorAlert{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertMonitorAlertSQL,
		alert.TokenID,
		alert.Kind,
		alert.RiskScore.String(),
		alert.RiskLevel,
		alert.PriceUSD.String(),
		alert.PreviousPrice.String(),
		alert.DeviationPct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		channels,
		alert.ObservedAt,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return MonitorAlert{}, fmt.Errorf("insert monitor alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]MonitorAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]MonitorAlert, 0, limit)
	for rows.Next() {
		var rec MonitorAlert
		var score, price, previous, deviation, threshold string
		if err := rows.Scan(
			&rec.ID,
			&rec.TokenID,
			&rec.Kind,
			&score,
			&rec.RiskLevel,
			&price,
			&previous,
			&deviation,
			&threshold,
			&rec.Direction,
			&rec.Channels,
			&rec.ObservedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		decimals, convErr := parseDecimals(score, price, previous, deviation, threshold)
		if convErr != nil {
			return nil, convErr
		}
		rec.RiskScore, rec.PriceUSD, rec.PreviousPrice = decimals[0], decimals[1], decimals[2]
		rec.DeviationPct, rec.ThresholdPct = decimals[3], decimals[4]
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func collectSnapshots(rows pgx.Rows, capacity int) ([]RiskSnapshot, error) {
	snaps := make([]RiskSnapshot, 0, capacity)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

func scanSnapshot(row pgx.Row) (RiskSnapshot, error) {
	var (
		snap                                   RiskSnapshot
		overall, base, confidence, price, mcap string
		analysis                               []byte
	)
	if err := row.Scan(
		&snap.ID,
		&snap.TokenID,
		&snap.Symbol,
		&snap.Blockchain,
		&snap.TokenAddress,
		&overall,
		&base,
		&snap.RiskLevel,
		&confidence,
		&price,
		&mcap,
		&snap.Fallback,
		&snap.DataSources,
		&analysis,
		&snap.AnalyzedAt,
		&snap.CreatedAt,
	); err != nil {
		return RiskSnapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}

	decimals, err := parseDecimals(overall, base, confidence, price, mcap)
	if err != nil {
		return RiskSnapshot{}, err
	}
	snap.OverallScore, snap.BaseScore, snap.Confidence = decimals[0], decimals[1], decimals[2]
	snap.PriceUSD, snap.MarketCapUSD = decimals[3], decimals[4]
	if len(analysis) > 0 {
		snap.Analysis = json.RawMessage(analysis)
	}
	return snap, nil
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", v, err)
		}
		out[i] = d
	}
	return out, nil
}

var (
	_ SnapshotStore    = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
	_ analyzer.History = (*Store)(nil)
)
