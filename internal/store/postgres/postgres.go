package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *Store) LoadActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, terminal_id, cashier_name, opening_float_cents,
			status, opened_at, closed_at, closing_report
		FROM shifts
		WHERE store_id = $1 AND terminal_id = $2 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, storeID, terminalID)
	shift, err := scanShift(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadEntries(ctx, shift); err != nil {
		return nil, err
	}
	return shift, nil
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, terminal_id, cashier_name, opening_float_cents,
			status, opened_at, closed_at, closing_report
		FROM shifts
		WHERE id = $1
	`, shiftID)
	shift, err := scanShift(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadEntries(ctx, shift); err != nil {
		return nil, err
	}
	return shift, nil
}

// SaveShift upserts the shift row and inserts entries not yet stored. A
// closed shift row is never updated again.
func (s *Store) SaveShift(ctx context.Context, shift domain.Shift) error {
	if strings.TrimSpace(shift.ID) == "" || strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.TerminalID) == "" {
		return store.ErrInvalidShift
	}

	var closing any
	if shift.Closing != nil {
		payload, err := json.Marshal(shift.Closing)
		if err != nil {
			return err
		}
		closing = payload
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO shifts (
			id, store_id, terminal_id, cashier_name, opening_float_cents,
			status, opened_at, closed_at, closing_report
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			closed_at = EXCLUDED.closed_at,
			closing_report = EXCLUDED.closing_report
		WHERE shifts.status = 'open'
	`, shift.ID, shift.StoreID, shift.TerminalID, shift.CashierName, shift.OpeningFloatCents,
		shift.Status, shift.OpenedAt, nullTime(shift.ClosedAt), closing)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrShiftConflict
		}
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return store.ErrInvalidShift
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM shift_entries WHERE shift_id = $1`, shift.ID).Scan(&stored); err != nil {
		return err
	}
	if len(shift.Entries) < stored {
		return store.ErrInvalidShift
	}

	for seq := stored; seq < len(shift.Entries); seq++ {
		entry := shift.Entries[seq]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shift_entries (
				id, shift_id, seq, entry_type, sale_id, sale_number,
				total_cents, method, cash_cents, reason, recorded_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, entry.ID, shift.ID, seq, string(entry.Type), nullIfEmpty(entry.SaleID), nullIfEmpty(entry.SaleNumber),
			entry.TotalCents, entry.Method, entry.CashCents, nullIfEmpty(entry.Reason), entry.Timestamp); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAtNull sql.NullTime
	var closing []byte
	err := row.Scan(
		&shift.ID,
		&shift.StoreID,
		&shift.TerminalID,
		&shift.CashierName,
		&shift.OpeningFloatCents,
		&shift.Status,
		&shift.OpenedAt,
		&closedAtNull,
		&closing,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAtNull.Valid {
		at := closedAtNull.Time.UTC()
		shift.ClosedAt = &at
	}
	if len(closing) > 0 {
		var report domain.ShiftClosingReport
		if err := json.Unmarshal(closing, &report); err != nil {
			return nil, err
		}
		shift.Closing = &report
	}
	shift.Entries = []domain.ShiftEntry{}
	return &shift, nil
}

func (s *Store) loadEntries(ctx context.Context, shift *domain.Shift) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_type, COALESCE(sale_id, ''), COALESCE(sale_number, ''),
			total_cents, method, cash_cents, COALESCE(reason, ''), recorded_at
		FROM shift_entries
		WHERE shift_id = $1
		ORDER BY seq
	`, shift.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.ShiftEntry
		var entryType string
		if err := rows.Scan(
			&entry.ID,
			&entryType,
			&entry.SaleID,
			&entry.SaleNumber,
			&entry.TotalCents,
			&entry.Method,
			&entry.CashCents,
			&entry.Reason,
			&entry.Timestamp,
		); err != nil {
			return err
		}
		entry.Type = domain.ShiftEntryType(entryType)
		entry.Timestamp = entry.Timestamp.UTC()
		shift.Entries = append(shift.Entries, entry)
	}
	return rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
