package maut

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/meta"
)

func mustAttrs(s string) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		panic(err)
	}
	return m
}

func TestRun_AdvancesWatermarkToNewestDate(t *testing.T) {
	day1 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	var gotWhere string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotWhere = r.URL.Query().Get("where")
		fmt.Fprintf(w, `{"features": [
			{"attributes": {"abschnitts_id": 1, "datum": %d, "anz_lkw": 100}},
			{"attributes": {"abschnitts_id": 1, "datum": %d, "anz_lkw": 120}}
		], "exceededTransferLimit": false}`, day1.UnixMilli(), day2.UnixMilli())
	})

	dir := t.TempDir()
	b := &Backup{
		Service:  svc,
		Archive:  archive.New[Row](filepath.Join(dir, "maut")),
		MetaPath: filepath.Join(dir, "maut.json"),
	}
	wm := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	col := &meta.Collection{LastDataBackup: &wm}

	n, err := b.Run(context.Background(), col)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 2 {
		t.Errorf("merged %d rows", n)
	}
	if !strings.Contains(gotWhere, "datum > TIMESTAMP '2024-05-30 00:00:00'") {
		t.Errorf("where = %q", gotWhere)
	}
	if col.LastDataBackup == nil || !col.LastDataBackup.Equal(day2) {
		t.Errorf("watermark = %v, want the newest data date", col.LastDataBackup)
	}
	rows, err := b.Archive.Load(0, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 || rows[1].LKW != 120 {
		t.Errorf("archived rows = %+v", rows)
	}
	saved, err := meta.Load(b.MetaPath)
	if err != nil {
		t.Fatalf("load metadata: %v", err)
	}
	if saved.LastDataBackup == nil || !saved.LastDataBackup.Equal(day2) {
		t.Error("watermark not persisted")
	}
}

func TestRun_EmptyResultKeepsWatermark(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"features": [], "exceededTransferLimit": false}`)
	})
	dir := t.TempDir()
	b := &Backup{
		Service:  svc,
		Archive:  archive.New[Row](filepath.Join(dir, "maut")),
		MetaPath: filepath.Join(dir, "maut.json"),
	}
	wm := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	col := &meta.Collection{LastDataBackup: &wm}
	n, err := b.Run(context.Background(), col)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 0 || !col.LastDataBackup.Equal(wm) {
		t.Errorf("n=%d watermark=%v", n, col.LastDataBackup)
	}
}

func TestToGeoJSON_Polyline(t *testing.T) {
	g := toGeoJSON(&esriGeometry{Paths: [][][]float64{{{13.4, 52.5}, {13.5, 52.6}}}})
	if g == nil || g.Type != "LineString" {
		t.Fatalf("geometry = %+v", g)
	}
	coords := g.Coords()
	if len(coords) != 2 || coords[0] != [2]float64{13.4, 52.5} {
		t.Errorf("coords = %v", coords)
	}
	multi := toGeoJSON(&esriGeometry{Paths: [][][]float64{{{1, 2}}, {{3, 4}}}})
	if multi == nil || multi.Type != "MultiLineString" {
		t.Errorf("multi = %+v", multi)
	}
}
