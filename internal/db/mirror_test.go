package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/we-count/trafficbackup/internal/meta"
	"github.com/we-count/trafficbackup/internal/source/telraam"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	mdb, err := Connect(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { mdb.Close() })
	if err := mdb.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return mdb
}

func TestImportRun_Lifecycle(t *testing.T) {
	mdb := newTestDB(t)
	ctx := context.Background()
	run, err := mdb.BeginImport(ctx, "telraam")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := run.Finish(ctx, 42); err != nil {
		t.Fatalf("finish: %v", err)
	}
	var rows int
	var finished *string
	err = mdb.Conn().QueryRowContext(ctx,
		`SELECT row_count, finished_at FROM import_runs WHERE run_id = ?`, run.ID).Scan(&rows, &finished)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if rows != 42 || finished == nil {
		t.Errorf("row_count=%d finished=%v", rows, finished)
	}
}

func TestUpsertSegments_InsertThenUpdate(t *testing.T) {
	mdb := newTestDB(t)
	ctx := context.Background()
	length := 250.5
	col := &meta.Collection{Features: []*meta.Feature{{
		Type:       "Feature",
		Properties: &meta.Properties{SegmentID: meta.NewID(42), Name: "before", Length: &length},
	}}}
	if err := mdb.UpsertSegments(ctx, col); err != nil {
		t.Fatalf("insert: %v", err)
	}
	col.Features[0].Properties.Name = "after"
	if err := mdb.UpsertSegments(ctx, col); err != nil {
		t.Fatalf("update: %v", err)
	}
	var n int
	var name string
	var lengthM float64
	if err := mdb.Conn().QueryRowContext(ctx, `SELECT COUNT(*), MAX(name), MAX(length_m) FROM segments`).Scan(&n, &name, &lengthM); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 || name != "after" {
		t.Errorf("segments: count=%d name=%q", n, name)
	}
	if lengthM != 250.5 {
		t.Errorf("length_m = %f", lengthM)
	}
}

func TestUpsertCounts_KeyedBySegmentAndDate(t *testing.T) {
	mdb := newTestDB(t)
	ctx := context.Background()
	ten := float32(10)
	row := telraam.Row{
		SegmentID: 42,
		Date:      time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Uptime:    0.8,
		CarLft:    &ten,
	}
	if err := mdb.UpsertCounts(ctx, []telraam.Row{row}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	twenty := float32(20)
	row.CarLft = &twenty
	if err := mdb.UpsertCounts(ctx, []telraam.Row{row}); err != nil {
		t.Fatalf("update: %v", err)
	}
	var n int
	var carLft float64
	err := mdb.Conn().QueryRowContext(ctx, `SELECT COUNT(*), MAX(car_lft) FROM counts`).Scan(&n, &carLft)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 || carLft != 20 {
		t.Errorf("counts: n=%d car_lft=%f", n, carLft)
	}
}
