package telraam

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
)

// propRefreshAge is how long a segment's camera inventory stays fresh
// before a positions run fetches it again.
const propRefreshAge = 24 * time.Hour

// Refresher rebuilds the segment metadata file from the live traffic
// snapshot of an area, carrying watermarks and enrichment over from the
// previous file.
type Refresher struct {
	Ring *fetch.TokenRing
	Area string // lonmin,latmin,lonmax,latmax

	// MaxPropUpdates caps how many segments get their camera inventory
	// refreshed in one run; zero disables the refresh entirely.
	MaxPropUpdates int

	Enrich  meta.Enricher
	Verbose bool
	Now     func() time.Time
}

// Refresh loads the metadata file at path, recreating it from the API
// when it is stale. Watermarks and unknown properties of known segments
// survive the rebuild.
func (r *Refresher) Refresh(ctx context.Context, path string, clear bool) (*meta.Collection, error) {
	old, fresh, err := meta.LoadForRefresh(path, clear, r.Verbose)
	if err != nil {
		return nil, err
	}
	if fresh {
		return old, nil
	}

	col, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	known := old.ByID()
	seen := make(map[string]bool, len(col.Features))
	for _, f := range col.Features {
		id := f.Properties.SegmentID.String()
		seen[id] = true
		if prev, ok := known[id]; ok {
			carryOver(f.Properties, prev.Properties)
		}
		f.Measure()
	}
	// Segments absent from the snapshot stay in the inventory with their
	// watermarks frozen; a camera going dark must not erase its history.
	for _, f := range old.Features {
		if f.Properties == nil || f.Properties.SegmentID.IsZero() {
			continue
		}
		if id := f.Properties.SegmentID.String(); !seen[id] {
			log.Printf("Warning: segment %s missing from snapshot, keeping previous entry", id)
			col.Features = append(col.Features, f)
		}
	}
	if err := r.refreshCameras(ctx, col); err != nil {
		return nil, err
	}
	if r.Enrich != nil {
		if err := r.Enrich.Enrich(ctx, col.Features); err != nil {
			log.Printf("Warning: enrichment failed: %v", err)
		}
	}
	if err := meta.Save(path, col); err != nil {
		return nil, err
	}
	return col, nil
}

// snapshot fetches the live traffic snapshot for the configured area.
func (r *Refresher) snapshot(ctx context.Context) (*meta.Collection, error) {
	payload := fmt.Sprintf(`{"time":"live","contents":"minimal","area":"%s"}`, r.Area)
	response, err := r.Ring.Request(ctx, "/v1/reports/traffic_snapshot", "POST", payload, "features")
	if err != nil {
		return nil, err
	}
	var features []*meta.Feature
	if err := json.Unmarshal(response["features"], &features); err != nil {
		return nil, fmt.Errorf("%w: traffic snapshot: %v", fetch.ErrMalformed, err)
	}
	col := &meta.Collection{Description: "Camera segments in " + r.Area}
	for _, f := range features {
		if f.Properties == nil || f.Properties.SegmentID.IsZero() {
			continue
		}
		col.Features = append(col.Features, f)
	}
	if r.Verbose {
		log.Printf("Snapshot returned %d segments", len(col.Features))
	}
	return col, nil
}

// refreshCameras attaches the camera inventory to the most stale
// segments, up to the configured cap. The earliest camera first-data
// timestamp becomes the segment's first-data anchor.
func (r *Refresher) refreshCameras(ctx context.Context, col *meta.Collection) error {
	if r.MaxPropUpdates <= 0 {
		return nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	updated := 0
	for _, f := range col.Features {
		if updated >= r.MaxPropUpdates {
			break
		}
		p := f.Properties
		if p.LastPropFetch != nil && now().Sub(*p.LastPropFetch) < propRefreshAge {
			continue
		}
		cameras, raw, err := r.cameras(ctx, p.SegmentID.String())
		if err != nil {
			return err
		}
		updated++
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra["cameras"] = raw
		applyCameras(p, cameras)
		t := now().UTC()
		p.LastPropFetch = &t
	}
	if r.Verbose && updated > 0 {
		log.Printf("Refreshed camera inventory of %d segments", updated)
	}
	return nil
}

func (r *Refresher) cameras(ctx context.Context, segmentID string) ([]camera, json.RawMessage, error) {
	response, err := r.Ring.Request(ctx, "/v1/cameras/segment/"+segmentID, "GET", "", "camera")
	if err != nil {
		return nil, nil, err
	}
	raw := response["camera"]
	var cameras []camera
	if err := json.Unmarshal(raw, &cameras); err != nil {
		return nil, nil, fmt.Errorf("%w: cameras for segment %s: %v", fetch.ErrMalformed, segmentID, err)
	}
	return cameras, raw, nil
}

// applyCameras anchors first and last data on the camera inventory.
func applyCameras(p *meta.Properties, cameras []camera) {
	for _, c := range cameras {
		if first := meta.ParseUTC(c.FirstDataPackage); first != nil {
			if p.FirstData == nil || first.Before(*p.FirstData) {
				p.FirstData = first
			}
		}
		if last := meta.ParseUTC(c.LastDataPackage); last != nil {
			if p.LastData == nil || last.After(*p.LastData) {
				p.LastData = last
			}
		}
	}
}

// carryOver preserves the previous run's state on a rediscovered segment.
func carryOver(curr, prev *meta.Properties) {
	curr.LastDataBackup = prev.LastDataBackup
	curr.LastAdvancedBackup = prev.LastAdvancedBackup
	curr.LastPropFetch = prev.LastPropFetch
	if curr.FirstData == nil {
		curr.FirstData = prev.FirstData
	}
	if curr.LastData == nil {
		curr.LastData = prev.LastData
	}
	if curr.Timezone == "" {
		curr.Timezone = prev.Timezone
	}
	if curr.Length == nil {
		curr.Length = prev.Length
	}
	for k, v := range prev.Extra {
		if curr.Extra == nil {
			curr.Extra = make(map[string]json.RawMessage)
		}
		if _, ok := curr.Extra[k]; !ok {
			curr.Extra[k] = v
		}
	}
}
