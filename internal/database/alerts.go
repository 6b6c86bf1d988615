package database

import (
	"context"
	"strings"
	"time"

	"price-alert-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// InsertAlert persists a new alert. It fails with types.ErrDuplicateKey when the symbol is taken.
func (s *Store) InsertAlert(ctx context.Context, alert types.AlertRecord) error {
	query := `
	INSERT INTO alerts (symbol, threshold, direction, created_at)
	VALUES (?, ?, ?, ?);`

	_, err := s.db.ExecContext(ctx, query, alert.Symbol, alert.Threshold, string(alert.Direction), createdAtMillis(alert))
	if isUniqueViolation(err) {
		return errors.Wrapf(types.ErrDuplicateKey, "symbol %s", alert.Symbol)
	}
	if err != nil {
		return errors.Wrap(err, "failed to insert alert")
	}

	log.Debugf("Alert inserted: Symbol: %s, Threshold: %v, Direction: %s", alert.Symbol, alert.Threshold, alert.Direction)
	return nil
}

// SaveAlert inserts or replaces the alert stored under the same symbol.
func (s *Store) SaveAlert(ctx context.Context, alert types.AlertRecord) error {
	query := `
	INSERT OR REPLACE INTO alerts (symbol, threshold, direction, created_at)
	VALUES (?, ?, ?, ?);`

	_, err := s.db.ExecContext(ctx, query, alert.Symbol, alert.Threshold, string(alert.Direction), createdAtMillis(alert))
	if err != nil {
		return errors.Wrap(err, "failed to save alert")
	}
	return nil
}

// DeleteAlert removes the alert for symbol. Deleting an absent symbol is not an error.
func (s *Store) DeleteAlert(ctx context.Context, symbol string) error {
	query := `DELETE FROM alerts WHERE symbol = ?;`
	if _, err := s.db.ExecContext(ctx, query, symbol); err != nil {
		return errors.Wrapf(err, "failed to delete alert %s", symbol)
	}
	return nil
}

// GetAllAlerts returns every persisted alert ordered by symbol.
func (s *Store) GetAllAlerts(ctx context.Context) ([]types.AlertRecord, error) {
	query := `SELECT symbol, threshold, direction, created_at FROM alerts ORDER BY symbol;`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query alerts")
	}
	defer rows.Close()

	var alerts []types.AlertRecord
	for rows.Next() {
		var (
			alert     types.AlertRecord
			direction string
			createdAt int64
		)
		if err := rows.Scan(&alert.Symbol, &alert.Threshold, &direction, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		alert.Direction = types.Direction(direction)
		if createdAt > 0 {
			alert.CreatedAt = time.UnixMilli(createdAt).UTC()
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate alerts")
	}

	return alerts, nil
}

func createdAtMillis(alert types.AlertRecord) int64 {
	if alert.CreatedAt.IsZero() {
		return time.Now().UTC().UnixMilli()
	}
	return alert.CreatedAt.UTC().UnixMilli()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed: alerts.symbol")
}
