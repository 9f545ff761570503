package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "marketsim/internal/errors"
	"marketsim/internal/execution"
	"marketsim/internal/fixedpoint"
	"marketsim/internal/tradelog"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Finished sessions with their sealed trade log
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		season_id TEXT NOT NULL,
		engine_version TEXT NOT NULL,
		total_ticks INTEGER NOT NULL,
		trade_count INTEGER NOT NULL,
		final_cash INTEGER NOT NULL,
		final_equity INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	-- Fills produced by a session
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		instrument_id INTEGER NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price INTEGER NOT NULL,
		fee INTEGER NOT NULL,
		profit INTEGER NOT NULL,
		PRIMARY KEY (session_id, id),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	-- Replay verdicts; session_id is empty for logs that were never stored
	CREATE TABLE IF NOT EXISTS verifications (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		season_id TEXT NOT NULL,
		code TEXT NOT NULL,
		message TEXT,
		divergences TEXT,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_season ON sessions(season_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id, tick);
	CREATE INDEX IF NOT EXISTS idx_verifications_session ON verifications(session_id);
	CREATE INDEX IF NOT EXISTS idx_verifications_code ON verifications(code);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Sessions Methods
// ============================================================================

// SaveSession inserts or replaces a session.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (id, season_id, engine_version, total_ticks, trade_count, final_cash, final_equity, checksum, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.SeasonID, session.EngineVersion, session.TotalTicks, session.TradeCount,
		session.FinalCash, session.FinalEquity, session.Checksum, string(payload), session.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseError, fmt.Sprintf("failed to save session: %v", err))
	}
	return nil
}

const sessionColumns = "id, season_id, engine_version, total_ticks, trade_count, final_cash, final_equity, checksum, payload, created_at"

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var payload string
	if err := row.Scan(&sess.ID, &sess.SeasonID, &sess.EngineVersion, &sess.TotalTicks, &sess.TradeCount,
		&sess.FinalCash, &sess.FinalEquity, &sess.Checksum, &payload, &sess.CreatedAt); err != nil {
		return nil, err
	}
	sess.Payload = &tradelog.Payload{}
	if err := json.Unmarshal([]byte(payload), sess.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of session %s: %w", sess.ID, err)
	}
	return &sess, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrapf(apperrors.ErrSessionNotFound, "session %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions retrieves sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions WHERE 1=1"
	args := []interface{}{}

	if filter.SeasonID != "" {
		query += " AND season_id = ?"
		args = append(args, filter.SeasonID)
	}
	if !filter.StartDate.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}

	return sessions, rows.Err()
}

// ============================================================================
// Trades Methods
// ============================================================================

// SaveTrades saves a session's fills in one transaction.
func (s *SQLiteStore) SaveTrades(ctx context.Context, sessionID string, trades []*execution.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO trades (id, session_id, order_id, tick, instrument_id, side, order_type, quantity, price, fee, profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err := stmt.ExecContext(ctx, t.ID, sessionID, t.OrderID, t.Tick, t.InstrumentID, string(t.Side), string(t.OrderType),
			t.Quantity, int64(t.Price), int64(t.Fee), int64(t.Profit))
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTrades retrieves a session's fills in tick order.
func (s *SQLiteStore) GetTrades(ctx context.Context, sessionID string) ([]execution.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, tick, instrument_id, side, order_type, quantity, price, fee, profit
		FROM trades
		WHERE session_id = ?
		ORDER BY tick ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []execution.Trade
	for rows.Next() {
		var t execution.Trade
		var side, orderType string
		var price, fee, profit int64
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Tick, &t.InstrumentID, &side, &orderType, &t.Quantity, &price, &fee, &profit); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = execution.Side(side)
		t.OrderType = execution.OrderType(orderType)
		t.Price = fixedpoint.Value(price)
		t.Fee = fixedpoint.Value(fee)
		t.Profit = fixedpoint.Value(profit)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// ============================================================================
// Verifications Methods
// ============================================================================

// SaveVerification saves a replay verdict.
func (s *SQLiteStore) SaveVerification(ctx context.Context, v *Verification) error {
	divergences, err := json.Marshal(v.Divergences)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseError, fmt.Sprintf("failed to encode divergences: %v", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verifications (id, session_id, season_id, code, message, divergences, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.SessionID, v.SeasonID, v.Code, v.Message, string(divergences), v.Duration.Milliseconds(), v.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseError, fmt.Sprintf("failed to save verification: %v", err))
	}
	return nil
}

// GetVerifications retrieves verdicts, newest first.
func (s *SQLiteStore) GetVerifications(ctx context.Context, filter VerificationFilter) ([]Verification, error) {
	query := "SELECT id, session_id, season_id, code, message, divergences, duration_ms, created_at FROM verifications WHERE 1=1"
	args := []interface{}{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.SeasonID != "" {
		query += " AND season_id = ?"
		args = append(args, filter.SeasonID)
	}
	if filter.Code != "" {
		query += " AND code = ?"
		args = append(args, filter.Code)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var v Verification
		var message, divergences sql.NullString
		var durationMs int64
		if err := rows.Scan(&v.ID, &v.SessionID, &v.SeasonID, &v.Code, &message, &divergences, &durationMs, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		v.Message = message.String
		if divergences.Valid && divergences.String != "" {
			if err := json.Unmarshal([]byte(divergences.String), &v.Divergences); err != nil {
				return nil, fmt.Errorf("failed to decode divergences of verification %s: %w", v.ID, err)
			}
		}
		v.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, v)
	}

	return out, rows.Err()
}

// VerificationStats counts verdicts by result code.
func (s *SQLiteStore) VerificationStats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT code, COUNT(*) FROM verifications GROUP BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query verification stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed to scan verification stats: %w", err)
		}
		stats[code] = n
	}
	return stats, rows.Err()
}
