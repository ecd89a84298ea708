// Package history persists the reconciled flagged record set between runs so
// each batch merges against everything processed before it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/river-qc-etl/internal/domain"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed archive of flagged records, keyed by
// (site, parameter, timestamp_key). It implements pipeline.HistoryStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS flagged_records (
	site             TEXT NOT NULL,
	parameter        TEXT NOT NULL,
	timestamp_key    TEXT NOT NULL,
	timestamp        TEXT NOT NULL,
	mean             REAL,
	units            TEXT NOT NULL,
	n_obs            INTEGER NOT NULL,
	spread           REAL NOT NULL,
	auto_flag        TEXT,
	malfunction_flag TEXT,
	sonde_moved_flag INTEGER NOT NULL,
	season           TEXT NOT NULL,
	last_site_visit  TEXT,
	PRIMARY KEY (site, parameter, timestamp_key)
);
`

// Open connects to the SQLite database at dsn and ensures the schema exists.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns every archived record. Records come back with historical set,
// matching how the merge treats the archive side.
func (s *Store) Load(ctx context.Context) ([]domain.OutputRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site, parameter, timestamp_key, timestamp, mean, units, n_obs,
		       spread, auto_flag, malfunction_flag, sonde_moved_flag, season,
		       last_site_visit
		FROM flagged_records
		ORDER BY site, parameter, timestamp_key`)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var records []domain.OutputRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return records, nil
}

// Replace swaps the full archive for the merged record set in one
// transaction, so readers never observe a partially updated archive.
func (s *Store) Replace(ctx context.Context, records []domain.OutputRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flagged_records`); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flagged_records (
			site, parameter, timestamp_key, timestamp, mean, units, n_obs,
			spread, auto_flag, malfunction_flag, sonde_moved_flag, season,
			last_site_visit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]
		var lastVisit any
		if rec.LastSiteVisit != nil {
			lastVisit = rec.LastSiteVisit.UTC().Format(time.RFC3339)
		}
		_, err := stmt.ExecContext(ctx,
			rec.Site, rec.Parameter, rec.TimestampKey,
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.Mean, rec.Units, rec.NObs, rec.Spread,
			rec.AutoFlag, rec.MalfunctionFlag,
			rec.SondeMovedFlag, string(rec.Season), lastVisit)
		if err != nil {
			return fmt.Errorf("replace history: insert %s/%s/%s: %w",
				rec.Site, rec.Parameter, rec.TimestampKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	s.logger.Info("replaced history archive", "records", len(records))
	return nil
}

func scanRecord(rows *sql.Rows) (domain.OutputRecord, error) {
	var (
		rec       domain.OutputRecord
		ts        string
		season    string
		lastVisit sql.NullString
	)
	err := rows.Scan(&rec.Site, &rec.Parameter, &rec.TimestampKey, &ts,
		&rec.Mean, &rec.Units, &rec.NObs, &rec.Spread,
		&rec.AutoFlag, &rec.MalfunctionFlag, &rec.SondeMovedFlag,
		&season, &lastVisit)
	if err != nil {
		return domain.OutputRecord{}, fmt.Errorf("scan history record: %w", err)
	}

	rec.Timestamp, err = time.Parse(time.RFC3339, ts)
	if err != nil {
		return domain.OutputRecord{}, fmt.Errorf("scan history record: bad timestamp %q: %w", ts, err)
	}
	rec.Season = domain.Season(season)
	rec.Historical = true
	if lastVisit.Valid {
		t, err := time.Parse(time.RFC3339, lastVisit.String)
		if err != nil {
			return domain.OutputRecord{}, fmt.Errorf("scan history record: bad last_site_visit %q: %w", lastVisit.String, err)
		}
		rec.LastSiteVisit = &t
	}
	return rec, nil
}
