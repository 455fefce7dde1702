package vmk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Service{Client: fetch.NewClient(1), Base: srv.URL}
}

func TestFeatures_Paging(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("request") != "GetFeature" || r.URL.Query().Get("version") != "2.0.0" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("startIndex"))
		if start == 0 {
			// a full page forces one more request
			fmt.Fprint(w, `{"features": [`)
			for i := 0; i < pageSize; i++ {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"properties": {"elem_nr": "%d"}}`, i)
			}
			fmt.Fprint(w, `]}`)
			return
		}
		fmt.Fprint(w, `{"features": [{"properties": {"elem_nr": "last"}}]}`)
	})
	features, err := svc.Features(context.Background(), "vmk_kfz_2023")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if len(features) != pageSize+1 {
		t.Errorf("got %d features", len(features))
	}
}

func TestFeatures_MissingLayerIsEmpty(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	features, err := svc.Features(context.Background(), "vmk_rad_1999")
	if err != nil {
		t.Fatalf("missing layer should not fail: %v", err)
	}
	if features != nil {
		t.Errorf("features = %v", features)
	}
}

func TestFeatures_ExceptionReportIsEmpty(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"exceptions": [{"code": "InvalidParameterValue"}]}`)
	})
	features, err := svc.Features(context.Background(), "vmk_rad_1999")
	if err != nil || features != nil {
		t.Errorf("features = %v, err = %v", features, err)
	}
}

func TestImportYear_UnionsClassLayers(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("typeNames") {
		case "vmk_kfz_2023":
			fmt.Fprint(w, `{"features": [
				{"geometry": {"type": "LineString", "coordinates": [[13.4,52.5],[13.5,52.6]]}, "properties": {"elem_nr": "e1", "str_name": "Hauptstraße", "dtvw_kfz": 12000}}
			]}`)
		case "vmk_lkw_2023":
			fmt.Fprint(w, `{"features": [{"properties": {"elem_nr": "e1", "dtvw_lkw": 800}}]}`)
		case "vmk_rad_2023":
			// a bicycle-only edge the motor layers do not know
			fmt.Fprint(w, `{"features": [{"geometry": {"type": "LineString", "coordinates": [[13.1,52.1],[13.2,52.2]]}, "properties": {"elem_nr": "e2", "dtv_rad": 3000}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	dir := t.TempDir()
	importer := &Importer{
		Service:      svc,
		Archive:      archive.New[Row](filepath.Join(dir, "vmk")),
		LayerPattern: "vmk_%s_%d",
	}
	n, geoms, err := importer.ImportYear(context.Background(), 2023)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported %d edges, want 2", n)
	}
	rows, err := importer.Archive.Load(0, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("archived %d rows", len(rows))
	}
	e1, e2 := rows[0], rows[1]
	if e1.KFZ == nil || *e1.KFZ != 12000 || e1.LKW == nil || *e1.LKW != 800 || e1.Rad != nil {
		t.Errorf("e1 = %+v", e1)
	}
	if e2.KFZ != nil || e2.Rad == nil || *e2.Rad != 3000 {
		t.Errorf("bicycle-only edge = %+v", e2)
	}
	if e1.Date.Year() != 2023 {
		t.Errorf("year pin = %v", e1.Date)
	}

	metaPath := filepath.Join(dir, "vmk.json")
	if err := importer.RefreshMeta(metaPath, false, geoms); err != nil {
		t.Fatalf("refresh meta: %v", err)
	}
	col, err := meta.Load(metaPath)
	if err != nil {
		t.Fatalf("load meta: %v", err)
	}
	if len(col.Features) != 2 {
		t.Fatalf("metadata has %d edges", len(col.Features))
	}
	byID := col.ByID()
	if byID["e1"].Properties.Name != "Hauptstraße" {
		t.Errorf("name = %q", byID["e1"].Properties.Name)
	}
	if byID["e2"].Geometry == nil {
		t.Error("bicycle-only edge lost its geometry")
	}
	if l := byID["e1"].Properties.Length; l == nil || *l < 10000 || *l > 15000 {
		t.Errorf("edge length = %v, want the geodesic length of the geometry", l)
	}
}
