package telraam

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/we-count/trafficbackup/internal/meta"
)

const staleMeta = `{
	"type": "FeatureCollection",
	"created_at": "2020-01-01T00:00:00+00:00",
	"features": [{
		"type": "Feature",
		"geometry": null,
		"properties": {
			"segment_id": 42,
			"last_data_backup": "2024-05-01T00:00:00+00:00",
			"osm": {"highway": "residential"}
		}
	}]
}`

func TestRefresh_CarriesWatermarksIntoRebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.json")
	if err := os.WriteFile(path, []byte(staleMeta), 0644); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	ring := newTestRing(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/reports/traffic_snapshot":
			w.Write([]byte(`{"features": [
				{"type": "Feature", "geometry": {"type": "Point", "coordinates": [13.4, 52.5]}, "properties": {"segment_id": 42}},
				{"type": "Feature", "geometry": {"type": "Point", "coordinates": [13.5, 52.6]}, "properties": {"segment_id": 43}}
			]}`))
		case strings.HasPrefix(r.URL.Path, "/v1/cameras/segment/"):
			w.Write([]byte(`{"camera": [
				{"instance_id": 1, "segment_id": 42, "first_data_package": "2021-03-01T00:00:00+00:00", "last_data_package": "2024-06-01T00:00:00+00:00"},
				{"instance_id": 2, "segment_id": 42, "first_data_package": "2020-07-01T00:00:00+00:00", "last_data_package": "2023-01-01T00:00:00+00:00"}
			]}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	refresher := &Refresher{Ring: ring, Area: "13,52,14,53", MaxPropUpdates: 1}
	col, err := refresher.Refresh(context.Background(), path, false)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(col.Features) != 2 {
		t.Fatalf("got %d features", len(col.Features))
	}
	byID := col.ByID()
	p := byID["42"].Properties
	if p.LastDataBackup == nil || p.LastDataBackup.Year() != 2024 {
		t.Error("watermark lost in rebuild")
	}
	if _, ok := p.Extra["osm"]; !ok {
		t.Error("enrichment lost in rebuild")
	}
	// earliest camera anchors first data, newest camera anchors last data
	if p.FirstData == nil || p.FirstData.Year() != 2020 {
		t.Errorf("first data = %v", p.FirstData)
	}
	if p.LastData == nil || p.LastData.Year() != 2024 {
		t.Errorf("last data = %v", p.LastData)
	}
	if _, ok := p.Extra["cameras"]; !ok {
		t.Error("camera inventory not attached")
	}
	// only one inventory refresh was allowed
	if byID["43"].Properties.LastPropFetch != nil {
		t.Error("refresh cap exceeded")
	}

	// The rebuilt file is fresh now; a second refresh must not hit the API.
	refresher.Ring = newTestRing(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s on fresh metadata", r.URL.Path)
	})
	if _, err := refresher.Refresh(context.Background(), path, false); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
}

func TestRefresh_KeepsSegmentsMissingFromSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.json")
	if err := os.WriteFile(path, []byte(staleMeta), 0644); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	// The live snapshot no longer lists segment 42. The segment must
	// stay in the inventory with its watermark and enrichment frozen.
	ring := newTestRing(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features": [
			{"type": "Feature", "geometry": null, "properties": {"segment_id": 99}}
		]}`))
	})
	refresher := &Refresher{Ring: ring, Area: "13,52,14,53"}
	col, err := refresher.Refresh(context.Background(), path, false)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(col.Features) != 2 {
		t.Fatalf("got %d features, want the snapshot segment plus the dark one", len(col.Features))
	}
	byID := col.ByID()
	p, ok := byID["42"]
	if !ok {
		t.Fatal("segment 42 dropped from the inventory")
	}
	if p.Properties.LastDataBackup == nil || p.Properties.LastDataBackup.Year() != 2024 {
		t.Error("watermark of dark segment lost")
	}
	if _, ok := p.Properties.Extra["osm"]; !ok {
		t.Error("enrichment of dark segment lost")
	}

	// The kept entry survives the save as well.
	saved, err := meta.Load(path)
	if err != nil {
		t.Fatalf("load saved metadata: %v", err)
	}
	if _, ok := saved.ByID()["42"]; !ok {
		t.Error("dark segment missing from the saved file")
	}
}

func TestRefresh_SavedFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.json")
	if err := os.WriteFile(path, []byte(staleMeta), 0644); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
	ring := newTestRing(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features": [{"type": "Feature", "geometry": null, "properties": {"segment_id": 42}}]}`))
	})
	refresher := &Refresher{Ring: ring, Area: "13,52,14,53"}
	if _, err := refresher.Refresh(context.Background(), path, false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	col, err := meta.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(col.Features) != 1 || col.Features[0].Properties.LastDataBackup == nil {
		t.Error("persisted metadata incomplete")
	}
}
