package frost

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
)

// KeyFunc classifies a datastream by name into a schema key (vehicle
// class plus sampling period), or rejects it.
type KeyFunc func(name string) (string, bool)

// Refresher rebuilds station metadata from the Things collection of a
// SensorThings service.
type Refresher struct {
	Service     *Service
	Description string
	// Filter restricts the Things query ($filter), empty for all.
	Filter  string
	Key     KeyFunc
	Verbose bool
}

// Refresh loads the metadata file at path, rebuilding it from the service
// when stale. Watermarks of known stations survive the rebuild.
func (r *Refresher) Refresh(ctx context.Context, path string, clear bool) (*meta.Collection, error) {
	old, fresh, err := meta.LoadForRefresh(path, clear, r.Verbose)
	if err != nil {
		return nil, err
	}
	if fresh {
		return old, nil
	}

	params := url.Values{}
	params.Set("$expand", "Datastreams($select=id,name,phenomenonTime),Locations($select=location)")
	if r.Filter != "" {
		params.Set("$filter", r.Filter)
	}
	things, err := FetchAll[thing](ctx, r.Service, "/Things", params)
	if err != nil {
		return nil, err
	}

	col := &meta.Collection{Description: r.Description}
	known := old.ByID()
	seen := make(map[string]bool, len(things))
	for _, t := range things {
		f, err := r.feature(t)
		if err != nil {
			log.Printf("Warning: skipping station %s: %v", t.Name, err)
			continue
		}
		if f == nil {
			continue // no datastream matches the schema
		}
		id := f.Properties.SegmentID.String()
		seen[id] = true
		if prev, ok := known[id]; ok {
			carryOver(f.Properties, prev.Properties)
		}
		col.Features = append(col.Features, f)
	}
	// Stations the service no longer lists keep their entry and frozen
	// watermarks; the archived observations still need their metadata.
	for _, f := range old.Features {
		if f.Properties == nil || f.Properties.SegmentID.IsZero() {
			continue
		}
		if id := f.Properties.SegmentID.String(); !seen[id] {
			log.Printf("Warning: station %s missing from service, keeping previous entry", id)
			col.Features = append(col.Features, f)
		}
	}
	if r.Verbose {
		log.Printf("Service lists %d things, %d stations kept", len(things), len(col.Features))
	}
	if err := meta.Save(path, col); err != nil {
		return nil, err
	}
	return col, nil
}

// feature converts one Thing. Stations without a single schema-relevant
// datastream yield nil.
func (r *Refresher) feature(t thing) (*meta.Feature, error) {
	if len(t.ID) == 0 {
		return nil, fmt.Errorf("%w: thing without id", fetch.ErrMalformed)
	}
	var id meta.ID
	if err := json.Unmarshal(t.ID, &id); err != nil {
		return nil, err
	}
	p := &meta.Properties{
		SegmentID: id,
		Name:      t.Name,
		Extra:     make(map[string]json.RawMessage),
	}
	streams := make(map[string]json.RawMessage)
	for _, d := range t.Datastreams {
		key, ok := r.Key(d.Name)
		if !ok {
			continue
		}
		streams[key] = d.ID
		if start, _ := d.interval(); start != "" {
			if first := meta.ParseUTC(start); first != nil {
				if p.FirstData == nil || first.Before(*p.FirstData) {
					p.FirstData = first
				}
			}
		}
	}
	if len(streams) == 0 {
		return nil, nil
	}
	sb, err := json.Marshal(streams)
	if err != nil {
		return nil, err
	}
	p.Extra["datastreams"] = sb
	if len(t.Properties) > 0 {
		p.Extra["station"] = t.Properties
	}

	f := &meta.Feature{Type: "Feature", Properties: p}
	if len(t.Locations) > 0 && len(t.Locations[0].Location) > 0 {
		var g meta.Geometry
		if err := json.Unmarshal(t.Locations[0].Location, &g); err == nil && g.Type != "" {
			f.Geometry = &g
		}
	}
	return f, nil
}

func carryOver(curr, prev *meta.Properties) {
	curr.LastDataBackup = prev.LastDataBackup
	curr.LastAdvancedBackup = prev.LastAdvancedBackup
	curr.LastPropFetch = prev.LastPropFetch
	if curr.FirstData == nil {
		curr.FirstData = prev.FirstData
	}
	if curr.Timezone == "" {
		curr.Timezone = prev.Timezone
	}
	if curr.Length == nil {
		curr.Length = prev.Length
	}
}

// TEUKey classifies traffic-eye datastreams: vehicle class KFZ, PKW or
// LKW at hourly or five-minute resolution.
func TEUKey(name string) (string, bool) {
	var vehicle string
	switch {
	case strings.Contains(name, "PKW"):
		vehicle = "PKW"
	case strings.Contains(name, "LKW"):
		vehicle = "LKW"
	case strings.Contains(name, "KFZ"):
		vehicle = "KFZ"
	default:
		return "", false
	}
	switch {
	case strings.Contains(name, "1-Stunde"):
		return vehicle + "_1-Stunde", true
	case strings.Contains(name, "15-Min"):
		return "", false
	case strings.Contains(name, "5-Min"):
		return vehicle + "_5-Min", true
	}
	return "", false
}

// EcoKey classifies bicycle counter datastreams by direction channel and
// sampling period.
func EcoKey(name string) (string, bool) {
	lower := strings.ToLower(name)
	var dir string
	switch {
	case strings.Contains(lower, "links"):
		dir = "bike_lft"
	case strings.Contains(lower, "rechts"):
		dir = "bike_rgt"
	case strings.Contains(lower, "gesamt"), strings.Contains(lower, "total"):
		dir = "bike_total"
	default:
		return "", false
	}
	switch {
	case strings.Contains(lower, "1-stunde"):
		return dir + "_1-Stunde", true
	case strings.Contains(lower, "15-min"):
		return dir + "_15-Min", true
	}
	return "", false
}
