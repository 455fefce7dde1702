package meta

import (
	"path/filepath"
	"testing"
	"time"
)

func feature(id int64, watermark string) *Feature {
	p := &Properties{SegmentID: NewID(id)}
	if watermark != "" {
		p.LastDataBackup = ParseUTC(watermark)
	}
	return &Feature{Type: "Feature", Properties: p}
}

func TestSelect_OldestWatermarkFirst(t *testing.T) {
	col := &Collection{Features: []*Feature{
		feature(1, "2024-05-01T00:00:00+00:00"),
		feature(2, ""), // never backed up, most stale
		feature(3, "2024-01-01T00:00:00+00:00"),
	}}
	got := col.Select(nil, false)
	if len(got) != 3 {
		t.Fatalf("selected %d features", len(got))
	}
	order := []string{"2", "3", "1"}
	for i, want := range order {
		if id := got[i].Properties.SegmentID.String(); id != want {
			t.Errorf("position %d: got segment %s, want %s", i, id, want)
		}
	}
}

func TestSelect_RestrictsToIDs(t *testing.T) {
	col := &Collection{Features: []*Feature{feature(1, ""), feature(2, ""), feature(3, "")}}
	got := col.Select([]string{"2"}, false)
	if len(got) != 1 || got[0].Properties.SegmentID.String() != "2" {
		t.Fatalf("Select restricted = %v", got)
	}
}

func TestSelect_AdvancedUsesItsOwnWatermark(t *testing.T) {
	a := feature(1, "2024-01-01T00:00:00+00:00")
	b := feature(2, "2024-06-01T00:00:00+00:00")
	// b was never backed up in the advanced schema, so there it is the
	// most stale one.
	a.Properties.LastAdvancedBackup = ParseUTC("2024-06-01T00:00:00+00:00")
	col := &Collection{Features: []*Feature{a, b}}

	basic := col.Select(nil, false)
	if basic[0].Properties.SegmentID.String() != "1" {
		t.Error("basic order should start with segment 1")
	}
	advanced := col.Select(nil, true)
	if advanced[0].Properties.SegmentID.String() != "2" {
		t.Error("advanced order should start with segment 2")
	}
}

func TestBatches(t *testing.T) {
	features := []*Feature{feature(1, ""), feature(2, ""), feature(3, "")}
	batches := Batches(features, 2)
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("Batches(3, 2) = %d batches", len(batches))
	}
	all := Batches(features, 0)
	if len(all) != 1 || len(all[0]) != 3 {
		t.Fatalf("Batches(3, 0) = %v", all)
	}
	if Batches(nil, 2) != nil {
		t.Error("Batches(nil) should be nil")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.json")
	wm := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	col := &Collection{
		Description:    "test segments",
		LastDataBackup: &wm,
		Features:       []*Feature{feature(42, "2024-05-01T00:00:00+00:00")},
	}
	if err := Save(path, col); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Description != "test segments" {
		t.Errorf("description = %q", got.Description)
	}
	if got.LastDataBackup == nil || !got.LastDataBackup.Equal(wm) {
		t.Errorf("collection watermark = %v", got.LastDataBackup)
	}
	if len(got.Features) != 1 || got.Features[0].Properties.LastDataBackup == nil {
		t.Fatalf("features = %+v", got.Features)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not stamped on save")
	}
}

func TestSave_WatermarkSaveKeepsCreatedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.json")
	if err := Save(path, &Collection{Features: []*Feature{feature(1, "")}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	col, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stamped := col.CreatedAt

	col.Features[0].Properties.SetWatermark(false, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	time.Sleep(10 * time.Millisecond)
	if err := Save(path, col); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.CreatedAt.Equal(stamped) {
		t.Errorf("created_at moved from %v to %v on a watermark save", stamped, got.CreatedAt)
	}
	if got.Features[0].Properties.LastDataBackup == nil {
		t.Error("watermark not persisted")
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	col, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(col.Features) != 0 {
		t.Error("missing file should yield an empty collection")
	}
}

func TestLoadForRefresh_FreshFileSkipsRebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.json")
	if err := Save(path, &Collection{Features: []*Feature{feature(1, "")}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, fresh, err := LoadForRefresh(path, false, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !fresh {
		t.Error("just-saved file should be fresh")
	}
	_, fresh, err = LoadForRefresh(path, true, false)
	if err != nil {
		t.Fatalf("load with clear: %v", err)
	}
	if fresh {
		t.Error("clear must force the rebuild")
	}
}
