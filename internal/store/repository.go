package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-relay/internal/types"
)

//go:embed queries/insert-reading.sql
var insertReadingSQL string

//go:embed queries/mark-confirmed.sql
var markConfirmedSQL string

//go:embed queries/get-latest-readings.sql
var getLatestReadingsSQL string

// tsLayout is fixed width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000Z"

// ErrNotFound is returned by MarkConfirmed for an unknown reading id.
var ErrNotFound = errors.New("reading not found")

type ReadingRepository interface {
	RecordAccepted(r types.Reading) error
	MarkConfirmed(id string, attempts int, at time.Time) error
	Latest(limit int) ([]types.Reading, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) ReadingRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) RecordAccepted(rec types.Reading) error {
	_, err := r.db.Exec(insertReadingSQL,
		rec.ID,
		rec.NodeID,
		rec.Message,
		rec.Humidity,
		rec.Temperature,
		rec.Light,
		rec.AcceptedAt.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (r *repositoryImpl) MarkConfirmed(id string, attempts int, at time.Time) error {
	res, err := r.db.Exec(markConfirmedSQL, at.UTC().Format(tsLayout), attempts, id)
	if err != nil {
		return fmt.Errorf("mark confirmed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark confirmed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark confirmed %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *repositoryImpl) Latest(limit int) ([]types.Reading, error) {
	rows, err := r.db.Query(getLatestReadingsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()

	out := []types.Reading{}
	for rows.Next() {
		var rec types.Reading
		var accepted string
		var confirmed sql.NullString
		if err := rows.Scan(&rec.ID, &rec.NodeID, &rec.Message, &rec.Humidity, &rec.Temperature, &rec.Light, &accepted, &confirmed, &rec.Attempts); err != nil {
			return nil, err
		}
		if rec.AcceptedAt, err = parseTime(accepted); err != nil {
			return nil, err
		}
		if confirmed.Valid {
			t, err := parseTime(confirmed.String)
			if err != nil {
				return nil, err
			}
			rec.ConfirmedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: RFC3339Nano: %w; RFC3339: %w", s, err, err2)
		}
	}
	return t, nil
}
