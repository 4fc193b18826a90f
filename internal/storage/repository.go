package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"cardsignal/internal/acquisition"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	ensureSchemaSQL = `CREATE TABLE IF NOT EXISTS price_cache (
        set_id     TEXT        NOT NULL,
        number     TEXT        NOT NULL,
        kind       TEXT        NOT NULL,
        payload    JSONB       NOT NULL,
        fetched_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (set_id, number, kind)
    );
    CREATE TABLE IF NOT EXISTS throttle_state (
        set_id        TEXT        NOT NULL,
        number        TEXT        NOT NULL,
        kind          TEXT        NOT NULL,
        last_attempt  TIMESTAMPTZ NOT NULL,
        next_earliest TIMESTAMPTZ NOT NULL,
        last_status   TEXT        NOT NULL,
        attempts      INTEGER     NOT NULL,
        PRIMARY KEY (set_id, number, kind)
    );
    CREATE TABLE IF NOT EXISTS quota_usage (
        day  TEXT    NOT NULL PRIMARY KEY,
        used INTEGER NOT NULL
    );
    CREATE TABLE IF NOT EXISTS card_signals (
        set_id            TEXT        NOT NULL,
        number            TEXT        NOT NULL,
        name              TEXT        NOT NULL,
        image             TEXT        NOT NULL,
        raw_price         TEXT,
        graded_price      TEXT,
        graded_estimated  BOOLEAN     NOT NULL,
        suspicious        BOOLEAN     NOT NULL,
        median_5d         TEXT        NOT NULL,
        median_30d        TEXT        NOT NULL,
        median_90d        TEXT        NOT NULL,
        pct_5d            TEXT        NOT NULL,
        pct_30d           TEXT        NOT NULL,
        sales_5d          INTEGER     NOT NULL,
        sales_30d         INTEGER     NOT NULL,
        sales_90d         INTEGER     NOT NULL,
        volatility        TEXT        NOT NULL,
        momentum          TEXT        NOT NULL,
        p10               DOUBLE PRECISION NOT NULL,
        gem_method        TEXT        NOT NULL,
        gem_confidence    DOUBLE PRECISION NOT NULL,
        spread_after_fees TEXT        NOT NULL,
        net_ev            TEXT        NOT NULL,
        upside_pct        TEXT        NOT NULL,
        valuation_known   BOOLEAN     NOT NULL,
        confidence_level  TEXT        NOT NULL,
        chip              TEXT        NOT NULL,
        badge_momentum    BOOLEAN     NOT NULL,
        badge_grading     BOOLEAN     NOT NULL,
        badge_high_volume BOOLEAN     NOT NULL,
        computed_at       TIMESTAMPTZ NOT NULL,
        created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (set_id, number, computed_at)
    );`

	readCacheEntrySQL = `SELECT payload, fetched_at
    FROM price_cache
    WHERE set_id = $1 AND number = $2 AND kind = $3;`

	writeCacheEntrySQL = `INSERT INTO price_cache (
        set_id, number, kind, payload, fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (set_id, number, kind) DO UPDATE
    SET payload    = EXCLUDED.payload,
        fetched_at = EXCLUDED.fetched_at;`

	readThrottleStateSQL = `SELECT last_attempt, next_earliest, last_status, attempts
    FROM throttle_state
    WHERE set_id = $1 AND number = $2 AND kind = $3;`

	writeThrottleStateSQL = `INSERT INTO throttle_state (
        set_id, number, kind, last_attempt, next_earliest, last_status, attempts
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (set_id, number, kind) DO UPDATE
    SET last_attempt  = EXCLUDED.last_attempt,
        next_earliest = EXCLUDED.next_earliest,
        last_status   = EXCLUDED.last_status,
        attempts      = EXCLUDED.attempts;`

	incrementDaySQL = `INSERT INTO quota_usage (day, used)
    VALUES ($1, 1)
    ON CONFLICT (day) DO UPDATE
    SET used = quota_usage.used + 1
    RETURNING used;`

	readDaySQL = `SELECT used FROM quota_usage WHERE day = $1;`

	upsertSignalSQL = `INSERT INTO card_signals (
        set_id, number, name, image,
        raw_price, graded_price, graded_estimated, suspicious,
        median_5d, median_30d, median_90d, pct_5d, pct_30d,
        sales_5d, sales_30d, sales_90d, volatility, momentum,
        p10, gem_method, gem_confidence,
        spread_after_fees, net_ev, upside_pct, valuation_known,
        confidence_level, chip,
        badge_momentum, badge_grading, badge_high_volume,
        computed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
        $17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31
    )
    ON CONFLICT (set_id, number, computed_at) DO UPDATE
    SET name              = EXCLUDED.name,
        image             = EXCLUDED.image,
        raw_price         = EXCLUDED.raw_price,
        graded_price      = EXCLUDED.graded_price,
        graded_estimated  = EXCLUDED.graded_estimated,
        suspicious        = EXCLUDED.suspicious,
        median_5d         = EXCLUDED.median_5d,
        median_30d        = EXCLUDED.median_30d,
        median_90d        = EXCLUDED.median_90d,
        pct_5d            = EXCLUDED.pct_5d,
        pct_30d           = EXCLUDED.pct_30d,
        sales_5d          = EXCLUDED.sales_5d,
        sales_30d         = EXCLUDED.sales_30d,
        sales_90d         = EXCLUDED.sales_90d,
        volatility        = EXCLUDED.volatility,
        momentum          = EXCLUDED.momentum,
        p10               = EXCLUDED.p10,
        gem_method        = EXCLUDED.gem_method,
        gem_confidence    = EXCLUDED.gem_confidence,
        spread_after_fees = EXCLUDED.spread_after_fees,
        net_ev            = EXCLUDED.net_ev,
        upside_pct        = EXCLUDED.upside_pct,
        valuation_known   = EXCLUDED.valuation_known,
        confidence_level  = EXCLUDED.confidence_level,
        chip              = EXCLUDED.chip,
        badge_momentum    = EXCLUDED.badge_momentum,
        badge_grading     = EXCLUDED.badge_grading,
        badge_high_volume = EXCLUDED.badge_high_volume;`

	signalColumnsSQL = `set_id, number, name, image,
        raw_price, graded_price, graded_estimated, suspicious,
        median_5d, median_30d, median_90d, pct_5d, pct_30d,
        sales_5d, sales_30d, sales_90d, volatility, momentum,
        p10, gem_method, gem_confidence,
        spread_after_fees, net_ev, upside_pct, valuation_known,
        confidence_level, chip,
        badge_momentum, badge_grading, badge_high_volume,
        computed_at, created_at`

	listRecentSignalsSQL = `SELECT DISTINCT ON (set_id, number) ` + signalColumnsSQL + `
    FROM card_signals
    ORDER BY set_id, number, computed_at DESC
    LIMIT $1;`

	listSignalHistorySQL = `SELECT ` + signalColumnsSQL + `
    FROM card_signals
    WHERE set_id = $1
      AND number = $2
      AND computed_at >= $3
      AND computed_at < $4
    ORDER BY computed_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SignalStore defines operations for computed signal persistence.
type SignalStore interface {
	UpsertSignal(ctx context.Context, rec SignalRecord) error
	ListRecentSignals(ctx context.Context, limit int) ([]SignalRecord, error)
	ListSignalHistory(ctx context.Context, setID, number string, from, to time.Time) ([]SignalRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers so only one scanner runs a
// cycle at a time.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates the cache, throttle, quota and signal tables behind a
// single pgx pool.
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

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, ensureSchemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
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

// ReadCacheEntry returns the cached payload for a card, nil when absent.
func (s *Store) ReadCacheEntry(ctx context.Context, key acquisition.CacheKey) (*acquisition.CacheEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		payload   json.RawMessage
		fetchedAt time.Time
	)
	scanErr := pool.QueryRow(ctx, readCacheEntrySQL, key.SetID, key.Number, key.Kind).
		Scan(&payload, &fetchedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read cache entry: %w", scanErr)
	}

	return &acquisition.CacheEntry{Key: key, Payload: payload, FetchedAt: fetchedAt}, nil
}

// WriteCacheEntry persists or refreshes a cached payload.
func (s *Store) WriteCacheEntry(ctx context.Context, entry acquisition.CacheEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, writeCacheEntrySQL,
		entry.Key.SetID,
		entry.Key.Number,
		entry.Key.Kind,
		[]byte(entry.Payload),
		entry.FetchedAt,
	)
	if execErr != nil {
		return fmt.Errorf("write cache entry: %w", execErr)
	}
	return nil
}

// ReadThrottleState returns the throttle record for a card, nil when absent.
func (s *Store) ReadThrottleState(ctx context.Context, key acquisition.ThrottleKey) (*acquisition.ThrottleState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	state := acquisition.ThrottleState{Key: key}
	var status string
	scanErr := pool.QueryRow(ctx, readThrottleStateSQL, key.SetID, key.Number, key.Kind).
		Scan(&state.LastAttempt, &state.NextEarliest, &status, &state.Attempts)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read throttle state: %w", scanErr)
	}

	state.LastStatus = acquisition.Status(status)
	return &state, nil
}

// WriteThrottleState persists or updates a throttle record.
func (s *Store) WriteThrottleState(ctx context.Context, state acquisition.ThrottleState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, writeThrottleStateSQL,
		state.Key.SetID,
		state.Key.Number,
		state.Key.Kind,
		state.LastAttempt,
		state.NextEarliest,
		string(state.LastStatus),
		state.Attempts,
	)
	if execErr != nil {
		return fmt.Errorf("write throttle state: %w", execErr)
	}
	return nil
}

// IncrementDay adds one request to the day's quota counter and returns the
// new total. The upsert keeps the count correct across concurrent workers.
func (s *Store) IncrementDay(ctx context.Context, day string) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var used int
	if scanErr := pool.QueryRow(ctx, incrementDaySQL, day).Scan(&used); scanErr != nil {
		return 0, fmt.Errorf("increment quota day: %w", scanErr)
	}
	return used, nil
}

// ReadDay returns the request count for a day, zero when unseen.
func (s *Store) ReadDay(ctx context.Context, day string) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var used int
	scanErr := pool.QueryRow(ctx, readDaySQL, day).Scan(&used)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return 0, nil
	}
	if scanErr != nil {
		return 0, fmt.Errorf("read quota day: %w", scanErr)
	}
	return used, nil
}

// UpsertSignal persists a computed signal snapshot.
func (s *Store) UpsertSignal(ctx context.Context, rec SignalRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var rawPrice, gradedPrice interface{}
	if rec.RawPrice != nil {
		rawPrice = rec.RawPrice.String()
	}
	if rec.GradedPrice != nil {
		gradedPrice = rec.GradedPrice.String()
	}

	_, execErr := pool.Exec(ctx, upsertSignalSQL,
		rec.SetID,
		rec.Number,
		rec.Name,
		rec.Image,
		rawPrice,
		gradedPrice,
		rec.GradedEstimated,
		rec.Suspicious,
		rec.Median5d.String(),
		rec.Median30d.String(),
		rec.Median90d.String(),
		rec.Pct5d.String(),
		rec.Pct30d.String(),
		rec.Sales5d,
		rec.Sales30d,
		rec.Sales90d,
		rec.Volatility.String(),
		rec.Momentum.String(),
		rec.P10,
		rec.GemMethod,
		rec.GemConfidence,
		rec.SpreadAfterFees.String(),
		rec.NetEV.String(),
		rec.UpsidePct.String(),
		rec.ValuationKnown,
		rec.ConfidenceLevel,
		rec.Chip,
		rec.BadgeMomentum,
		rec.BadgeGrading,
		rec.BadgeHighVolume,
		rec.ComputedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert signal: %w", execErr)
	}
	return nil
}

// ListRecentSignals returns the latest snapshot per card, up to limit cards.
func (s *Store) ListRecentSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSignalsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent signals: %w", queryErr)
	}
	defer rows.Close()

	records := make([]SignalRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSignalRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListSignalHistory lists a card's snapshots within a time window.
func (s *Store) ListSignalHistory(ctx context.Context, setID, number string, from, to time.Time) ([]SignalRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSignalHistorySQL, setID, number, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list signal history: %w", queryErr)
	}
	defer rows.Close()

	records := make([]SignalRecord, 0)
	for rows.Next() {
		rec, scanErr := scanSignalRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanSignalRecord(rows pgx.Rows) (SignalRecord, error) {
	var (
		rec         SignalRecord
		rawStr      sql.NullString
		gradedStr   sql.NullString
		median5Str  string
		median30Str string
		median90Str string
		pct5Str     string
		pct30Str    string
		volStr      string
		momStr      string
		spreadStr   string
		netStr      string
		upsideStr   string
	)

	if err := rows.Scan(
		&rec.SetID,
		&rec.Number,
		&rec.Name,
		&rec.Image,
		&rawStr,
		&gradedStr,
		&rec.GradedEstimated,
		&rec.Suspicious,
		&median5Str,
		&median30Str,
		&median90Str,
		&pct5Str,
		&pct30Str,
		&rec.Sales5d,
		&rec.Sales30d,
		&rec.Sales90d,
		&volStr,
		&momStr,
		&rec.P10,
		&rec.GemMethod,
		&rec.GemConfidence,
		&spreadStr,
		&netStr,
		&upsideStr,
		&rec.ValuationKnown,
		&rec.ConfidenceLevel,
		&rec.Chip,
		&rec.BadgeMomentum,
		&rec.BadgeGrading,
		&rec.BadgeHighVolume,
		&rec.ComputedAt,
		&rec.CreatedAt,
	); err != nil {
		return SignalRecord{}, err
	}

	if rawStr.Valid {
		raw, err := decimal.NewFromString(rawStr.String)
		if err != nil {
			return SignalRecord{}, fmt.Errorf("parse raw price: %w", err)
		}
		rec.RawPrice = &raw
	}
	if gradedStr.Valid {
		graded, err := decimal.NewFromString(gradedStr.String)
		if err != nil {
			return SignalRecord{}, fmt.Errorf("parse graded price: %w", err)
		}
		rec.GradedPrice = &graded
	}

	fields := []struct {
		dst  *decimal.Decimal
		src  string
		name string
	}{
		{&rec.Median5d, median5Str, "median 5d"},
		{&rec.Median30d, median30Str, "median 30d"},
		{&rec.Median90d, median90Str, "median 90d"},
		{&rec.Pct5d, pct5Str, "pct 5d"},
		{&rec.Pct30d, pct30Str, "pct 30d"},
		{&rec.Volatility, volStr, "volatility"},
		{&rec.Momentum, momStr, "momentum"},
		{&rec.SpreadAfterFees, spreadStr, "spread after fees"},
		{&rec.NetEV, netStr, "net ev"},
		{&rec.UpsidePct, upsideStr, "upside pct"},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.src)
		if err != nil {
			return SignalRecord{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = value
	}

	return rec, nil
}
