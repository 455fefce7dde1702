package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/we-count/trafficbackup/internal/meta"
	"github.com/we-count/trafficbackup/internal/source/telraam"
)

const sqlTimeFormat = "2006-01-02 15:04:05"

// ImportRun records one mirror update in import_runs.
type ImportRun struct {
	ID     string
	Source string
	db     *DB
}

// BeginImport opens an import run entry.
func (db *DB) BeginImport(ctx context.Context, source string) (*ImportRun, error) {
	run := &ImportRun{ID: uuid.NewString(), Source: source, db: db}
	db.LockWrite()
	defer db.UnlockWrite()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO import_runs (run_id, source, started_at) VALUES (?, ?, ?)`,
		run.ID, source, time.Now().UTC().Format(sqlTimeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to record import run: %w", err)
	}
	return run, nil
}

// Finish closes the import run with its row count.
func (r *ImportRun) Finish(ctx context.Context, rows int) error {
	r.db.LockWrite()
	defer r.db.UnlockWrite()
	_, err := r.db.conn.ExecContext(ctx,
		`UPDATE import_runs SET finished_at = ?, row_count = ? WHERE run_id = ?`,
		time.Now().UTC().Format(sqlTimeFormat), rows, r.ID)
	if err != nil {
		return fmt.Errorf("failed to finish import run: %w", err)
	}
	return nil
}

// UpsertSegments mirrors the metadata collection into segments.
func (db *DB) UpsertSegments(ctx context.Context, col *meta.Collection) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segments (segment_id, name, timezone, length_m, first_data, last_data, geometry)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(segment_id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			length_m = excluded.length_m,
			first_data = excluded.first_data,
			last_data = excluded.last_data,
			geometry = excluded.geometry`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range col.Features {
		p := f.Properties
		if p == nil || p.SegmentID.IsZero() {
			continue
		}
		var geometry any
		if f.Geometry != nil {
			gb, err := json.Marshal(f.Geometry)
			if err == nil {
				geometry = string(gb)
			}
		}
		var length any
		if p.Length != nil {
			length = *p.Length
		}
		_, err := stmt.ExecContext(ctx, p.SegmentID.String(), p.Name, p.Timezone, length,
			sqlTime(p.FirstData), sqlTime(p.LastData), geometry)
		if err != nil {
			return fmt.Errorf("failed to upsert segment %s: %w", p.SegmentID, err)
		}
	}
	return tx.Commit()
}

// UpsertCounts mirrors fetched traffic rows into counts.
func (db *DB) UpsertCounts(ctx context.Context, rows []telraam.Row) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO counts (segment_id, date, uptime,
			pedestrian_lft, pedestrian_rgt, bike_lft, bike_rgt,
			car_lft, car_rgt, heavy_lft, heavy_rgt, v85)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(segment_id, date) DO UPDATE SET
			uptime = excluded.uptime,
			pedestrian_lft = excluded.pedestrian_lft,
			pedestrian_rgt = excluded.pedestrian_rgt,
			bike_lft = excluded.bike_lft,
			bike_rgt = excluded.bike_rgt,
			car_lft = excluded.car_lft,
			car_rgt = excluded.car_rgt,
			heavy_lft = excluded.heavy_lft,
			heavy_rgt = excluded.heavy_rgt,
			v85 = excluded.v85`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.RowKey().SegmentID, r.Date.UTC().Format(sqlTimeFormat), r.Uptime,
			f32val(r.PedestrianLft), f32val(r.PedestrianRgt),
			f32val(r.BikeLft), f32val(r.BikeRgt),
			f32val(r.CarLft), f32val(r.CarRgt),
			f32val(r.HeavyLft), f32val(r.HeavyRgt),
			f32val(r.V85))
		if err != nil {
			return fmt.Errorf("failed to upsert count for %s: %w", r.RowKey().SegmentID, err)
		}
	}
	return tx.Commit()
}

func sqlTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqlTimeFormat)
}

func f32val(v *float32) any {
	if v == nil {
		return nil
	}
	return float64(*v)
}
