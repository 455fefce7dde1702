package maut

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
)

// Refresher rebuilds the toll section metadata. The layer holds one
// feature per section and day, so the sections of the newest published
// day stand in for the section inventory.
type Refresher struct {
	Service *Service
	Verbose bool
}

// Refresh loads the metadata file at path, rebuilding it from the layer
// when stale. The collection watermark survives the rebuild.
func (r *Refresher) Refresh(ctx context.Context, path string, clear bool) (*meta.Collection, error) {
	old, fresh, err := meta.LoadForRefresh(path, clear, r.Verbose)
	if err != nil {
		return nil, err
	}
	if fresh {
		return old, nil
	}

	latest, err := r.LatestDate(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("where", fmt.Sprintf("%s = TIMESTAMP '%s'", dateField, latest.UTC().Format(whereTimeFormat)))
	params.Set("outFields", fmt.Sprintf("%s,%s", idField, nameField))
	params.Set("returnGeometry", "true")
	params.Set("outSR", "4326")

	features, err := r.Service.Query(ctx, params)
	if err != nil {
		return nil, err
	}
	col := &meta.Collection{
		Description:    "Toll sections",
		LastDataBackup: old.LastDataBackup,
	}
	for _, f := range features {
		id, ok := f.int64Attr(idField)
		if !ok {
			log.Printf("Warning: skipping toll section without %s", idField)
			continue
		}
		section := &meta.Feature{
			Type:     "Feature",
			Geometry: toGeoJSON(f.Geometry),
			Properties: &meta.Properties{
				SegmentID: meta.NewID(id),
				Name:      f.stringAttr(nameField),
			},
		}
		section.Measure()
		col.Features = append(col.Features, section)
	}
	if r.Verbose {
		log.Printf("Toll layer lists %d sections on %s", len(col.Features), latest.Format("2006-01-02"))
	}
	if err := meta.Save(path, col); err != nil {
		return nil, err
	}
	return col, nil
}

// LatestDate probes the newest published day of the layer with a single
// request; the server marks the one-record page as truncated, so paging
// through it would walk the whole table.
func (r *Refresher) LatestDate(ctx context.Context) (time.Time, error) {
	params := url.Values{}
	params.Set("where", "1=1")
	params.Set("outFields", dateField)
	params.Set("orderByFields", dateField+" DESC")
	params.Set("resultRecordCount", "1")

	features, err := r.Service.QueryOne(ctx, params)
	if err != nil {
		return time.Time{}, err
	}
	if len(features) == 0 {
		return time.Time{}, fmt.Errorf("%w: toll layer is empty", fetch.ErrMalformed)
	}
	millis, ok := features[0].int64Attr(dateField)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: toll layer date probe without %s", fetch.ErrMalformed, dateField)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// toGeoJSON converts an esri polyline or point into GeoJSON.
func toGeoJSON(g *esriGeometry) *meta.Geometry {
	if g == nil {
		return nil
	}
	if len(g.Paths) > 0 {
		var coords json.RawMessage
		var typ string
		var err error
		if len(g.Paths) == 1 {
			typ = "LineString"
			coords, err = json.Marshal(g.Paths[0])
		} else {
			typ = "MultiLineString"
			coords, err = json.Marshal(g.Paths)
		}
		if err != nil {
			return nil
		}
		return &meta.Geometry{Type: typ, Coordinates: coords}
	}
	if g.X != nil && g.Y != nil {
		coords, err := json.Marshal([]float64{*g.X, *g.Y})
		if err != nil {
			return nil
		}
		return &meta.Geometry{Type: "Point", Coordinates: coords}
	}
	return nil
}

// Columns renders toll rows for the published extracts.
type Columns struct{}

func (Columns) Header() []string {
	return []string{"segment_id", "date_local", "lkw"}
}

func (Columns) Record(r Row, local time.Time) []string {
	return []string{
		r.RowKey().SegmentID,
		local.Format("2006-01-02"),
		fmt.Sprint(r.LKW),
	}
}
