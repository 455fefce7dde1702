package maut

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
)

// Epoch is where a fresh toll backup starts; the layer publishes no
// per-section first-data marker.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

const whereTimeFormat = "2006-01-02 15:04:05"

// Row is one section-day of toll passages.
type Row struct {
	SegmentID int64     `parquet:"segment_id,zstd"`
	Date      time.Time `parquet:"date,timestamp(millisecond),zstd"`
	LKW       uint32    `parquet:"lkw,zstd"`
}

func (r Row) RowKey() archive.Key {
	return archive.Key{
		SegmentID: strconv.FormatInt(r.SegmentID, 10),
		Millis:    r.Date.UTC().UnixMilli(),
	}
}

// Backup fetches all toll counts newer than the collection watermark in
// one layer-wide query and merges them into the archive. The watermark
// advances to the newest date actually seen; daily figures arrive with a
// few days of lag, so stamping the wall clock would skip late rows.
type Backup struct {
	Service  *Service
	Archive  *archive.Archive[Row]
	MetaPath string
	Verbose  bool
}

// Run performs one incremental backup and returns the number of rows
// merged.
func (b *Backup) Run(ctx context.Context, col *meta.Collection) (int, error) {
	since := Epoch
	if col.LastDataBackup != nil {
		since = *col.LastDataBackup
	}
	params := url.Values{}
	params.Set("where", fmt.Sprintf("%s > TIMESTAMP '%s'", dateField, since.UTC().Format(whereTimeFormat)))
	params.Set("outFields", fmt.Sprintf("%s,%s,%s", idField, dateField, countField))
	params.Set("orderByFields", dateField)
	params.Set("returnGeometry", "false")

	features, err := b.Service.Query(ctx, params)
	if err != nil {
		return 0, err
	}
	var rows []Row
	var newest time.Time
	for _, f := range features {
		row, ok := toRow(f)
		if !ok {
			return 0, fmt.Errorf("%w: toll feature without id, date or count", fetch.ErrMalformed)
		}
		rows = append(rows, row)
		if row.Date.After(newest) {
			newest = row.Date
		}
	}
	if b.Verbose {
		log.Printf("Toll layer returned %d rows newer than %s", len(rows), since.Format(time.RFC3339))
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := b.Archive.Merge(rows); err != nil {
		return 0, err
	}
	col.LastDataBackup = &newest
	if err := meta.Save(b.MetaPath, col); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func toRow(f feature) (Row, bool) {
	id, ok := f.int64Attr(idField)
	if !ok {
		return Row{}, false
	}
	millis, ok := f.int64Attr(dateField)
	if !ok {
		return Row{}, false
	}
	count, ok := f.int64Attr(countField)
	if !ok || count < 0 {
		return Row{}, false
	}
	return Row{
		SegmentID: id,
		Date:      time.UnixMilli(millis).UTC(),
		LKW:       uint32(count),
	}, true
}
