package frost

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
)

// datastreamIDs decodes the per-station datastream map maintained by the
// positions refresh: schema key to datastream id.
func datastreamIDs(f *meta.Feature) (map[string]string, error) {
	raw, ok := f.Properties.Extra["datastreams"]
	if !ok {
		return nil, fmt.Errorf("%w: station %s has no datastreams", fetch.ErrMalformed, f.Properties.SegmentID)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: datastreams of station %s: %v", fetch.ErrMalformed, f.Properties.SegmentID, err)
	}
	ids := make(map[string]string, len(m))
	for k, v := range m {
		ids[k] = idLiteral(v)
	}
	return ids, nil
}

// idLiteral renders a SensorThings entity id for use inside a URL path:
// string ids get quoted, numeric ids pass through.
func idLiteral(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return "'" + s + "'"
	}
	return string(v)
}

// TEUAdapter fetches motor vehicle counts from traffic-eye stations.
type TEUAdapter struct {
	Service *Service
}

func (a *TEUAdapter) Source() string { return "motor vehicle counts" }

func (a *TEUAdapter) ChunkSize() time.Duration { return 30 * 24 * time.Hour }

// Live reports true: SensorThings stations publish continuously and carry
// no last-data marker in the metadata, so each run fetches up to now.
func (a *TEUAdapter) Live() bool { return true }

var teuColumns = map[string]func(*TEURow, *uint16){
	"KFZ_1-Stunde": func(r *TEURow, v *uint16) { r.KFZHour = v },
	"PKW_1-Stunde": func(r *TEURow, v *uint16) { r.PKWHour = v },
	"LKW_1-Stunde": func(r *TEURow, v *uint16) { r.LKWHour = v },
	"KFZ_5-Min":    func(r *TEURow, v *uint16) { r.KFZ5Min = v },
	"PKW_5-Min":    func(r *TEURow, v *uint16) { r.PKW5Min = v },
	"LKW_5-Min":    func(r *TEURow, v *uint16) { r.LKW5Min = v },
}

func (a *TEUAdapter) FetchWindow(ctx context.Context, f *meta.Feature, since, until time.Time) ([]TEURow, error) {
	id := f.Properties.SegmentID.String()
	return fetchMerged(ctx, a.Service, f, since, until, teuColumns, func(millis int64) TEURow {
		return TEURow{SegmentID: id, Date: time.UnixMilli(millis).UTC()}
	})
}

// EcoAdapter fetches bicycle counts from permanent counting stations.
type EcoAdapter struct {
	Service *Service
}

func (a *EcoAdapter) Source() string { return "bicycle counts" }

func (a *EcoAdapter) ChunkSize() time.Duration { return 90 * 24 * time.Hour }

func (a *EcoAdapter) Live() bool { return true }

var ecoColumns = map[string]func(*EcoRow, *uint16){
	"bike_lft_1-Stunde":   func(r *EcoRow, v *uint16) { r.BikeLftHour = v },
	"bike_rgt_1-Stunde":   func(r *EcoRow, v *uint16) { r.BikeRgtHour = v },
	"bike_total_1-Stunde": func(r *EcoRow, v *uint16) { r.BikeTotalHour = v },
	"bike_lft_15-Min":     func(r *EcoRow, v *uint16) { r.BikeLft15Min = v },
	"bike_rgt_15-Min":     func(r *EcoRow, v *uint16) { r.BikeRgt15Min = v },
	"bike_total_15-Min":   func(r *EcoRow, v *uint16) { r.BikeTotal15Min = v },
}

func (a *EcoAdapter) FetchWindow(ctx context.Context, f *meta.Feature, since, until time.Time) ([]EcoRow, error) {
	id := f.Properties.SegmentID.String()
	return fetchMerged(ctx, a.Service, f, since, until, ecoColumns, func(millis int64) EcoRow {
		return EcoRow{SegmentID: id, Date: time.UnixMilli(millis).UTC()}
	})
}

// fetchMerged pulls every known datastream of the station and folds the
// observations into one row per timestamp. Datastream keys without a
// column mapping are skipped; a station may predate the current schema.
func fetchMerged[R archive.Row](ctx context.Context, s *Service, f *meta.Feature,
	since, until time.Time, columns map[string]func(*R, *uint16), blank func(int64) R) ([]R, error) {

	ids, err := datastreamIDs(f)
	if err != nil {
		return nil, err
	}
	byMillis := make(map[int64]*R)
	for key, set := range columns {
		id, ok := ids[key]
		if !ok {
			continue
		}
		obs, err := s.Observations(ctx, id, since, until)
		if err != nil {
			return nil, err
		}
		for _, o := range obs {
			t, err := o.Time()
			if err != nil {
				return nil, fmt.Errorf("%w: observation time %q: %v", fetch.ErrMalformed, o.PhenomenonTime, err)
			}
			millis := t.UTC().UnixMilli()
			row, ok := byMillis[millis]
			if !ok {
				r := blank(millis)
				row = &r
				byMillis[millis] = row
			}
			set(row, u16(o.Result))
		}
	}
	rows := make([]R, 0, len(byMillis))
	for _, r := range byMillis {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].RowKey().Millis < rows[j].RowKey().Millis
	})
	return rows, nil
}
