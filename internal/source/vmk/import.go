package vmk

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/meta"
)

// Attribute names of the traffic volume layers.
const (
	idField   = "elem_nr"
	nameField = "str_name"
)

// classes are the per-kind layers of one publication year. The bicycle
// layer covers edges the motor traffic layers do not, so edges are
// unioned over all three.
var classes = []struct {
	kind       string
	countField string
}{
	{"kfz", "dtvw_kfz"},
	{"lkw", "dtvw_lkw"},
	{"rad", "dtv_rad"},
}

// Row is one road edge in one publication year. The date is pinned to
// January 1st of the year so the rows partition and dedup like the other
// archives.
type Row struct {
	SegmentID string    `parquet:"segment_id,zstd"`
	Date      time.Time `parquet:"date,timestamp(millisecond),zstd"`
	KFZ       *uint32   `parquet:"kfz,optional,zstd"`
	LKW       *uint32   `parquet:"lkw,optional,zstd"`
	Rad       *uint32   `parquet:"rad,optional,zstd"`
}

func (r Row) RowKey() archive.Key {
	return archive.Key{SegmentID: r.SegmentID, Millis: r.Date.UTC().UnixMilli()}
}

// metaRefreshAge is how long the edge metadata survives between imports.
const metaRefreshAge = 30 * 24 * time.Hour

// Importer merges one year's class layers into the archive and maintains
// the edge metadata file.
type Importer struct {
	Service *Service
	Archive *archive.Archive[Row]
	// LayerPattern expands to a layer type name, e.g. "vmk_%s_%d" with
	// the class kind and year.
	LayerPattern string
	Verbose      bool
}

// ImportYear fetches all class layers of the year and merges the unioned
// edges into the archive. It returns the number of edges and the fetched
// features keyed by edge for the metadata refresh.
func (i *Importer) ImportYear(ctx context.Context, year int) (int, map[string]wfsFeature, error) {
	date := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	byEdge := make(map[string]*Row)
	geoms := make(map[string]wfsFeature)
	for _, class := range classes {
		layer := fmt.Sprintf(i.LayerPattern, class.kind, year)
		features, err := i.Service.Features(ctx, layer)
		if err != nil {
			return 0, nil, err
		}
		if i.Verbose {
			log.Printf("Layer %s has %d edges", layer, len(features))
		}
		for _, f := range features {
			id := f.stringProp(idField)
			if id == "" {
				continue
			}
			row, ok := byEdge[id]
			if !ok {
				row = &Row{SegmentID: id, Date: date}
				byEdge[id] = row
				geoms[id] = f
			}
			count := f.countProp(class.countField)
			switch class.kind {
			case "kfz":
				row.KFZ = count
			case "lkw":
				row.LKW = count
			case "rad":
				row.Rad = count
			}
		}
	}
	if len(byEdge) == 0 {
		return 0, nil, nil
	}
	rows := make([]Row, 0, len(byEdge))
	for _, r := range byEdge {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].SegmentID < rows[b].SegmentID })
	if err := i.Archive.Merge(rows); err != nil {
		return 0, nil, err
	}
	return len(rows), geoms, nil
}

// RefreshMeta rebuilds the edge metadata file from the imported features
// when it is older than a month. Edges only the bicycle layer knows are
// part of the inventory like any other.
func (i *Importer) RefreshMeta(path string, clear bool, edges map[string]wfsFeature) error {
	old, err := meta.Load(path)
	if err != nil {
		return err
	}
	if !clear && len(old.Features) > 0 && time.Since(old.CreatedAt) < metaRefreshAge {
		if i.Verbose {
			log.Printf("Not recreating %s, it is less than %v old", path, metaRefreshAge)
		}
		return nil
	}
	col := &meta.Collection{Description: "Traffic volume map edges"}
	ids := make([]string, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := edges[id]
		edge := &meta.Feature{
			Type:     "Feature",
			Geometry: f.Geometry,
			Properties: &meta.Properties{
				SegmentID: meta.NewStringID(id),
				Name:      f.stringProp(nameField),
			},
		}
		edge.Measure()
		col.Features = append(col.Features, edge)
	}
	return meta.Save(path, col)
}

// Columns renders edge rows for the published extracts.
type Columns struct{}

func (Columns) Header() []string {
	return []string{"segment_id", "year", "kfz", "lkw", "rad"}
}

func (Columns) Record(r Row, local time.Time) []string {
	return []string{
		r.SegmentID,
		strconv.Itoa(r.Date.UTC().Year()),
		u32str(r.KFZ), u32str(r.LKW), u32str(r.Rad),
	}
}

func u32str(v *uint32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*v), 10)
}
