// Package export derives CSV and spreadsheet extracts from an archive:
// one file per calendar month plus optional per-segment files over all
// time, with timestamps converted to each entity's local timezone.
package export

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/xuri/excelize/v2"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/meta"
)

// Columns renders rows of one archive into delimited records.
type Columns[R archive.Row] interface {
	Header() []string
	// Record formats one row; local is the row timestamp converted to
	// the entity's timezone.
	Record(r R, local time.Time) []string
}

// Exporter writes extracts for one archive.
type Exporter[R archive.Row] struct {
	Archive *archive.Archive[R]
	Columns Columns[R]
	Zones   map[string]*time.Location // segment id -> local timezone
	Excel   bool                      // write .xlsx instead of .csv.gz
	Verbose bool
}

// Zones builds the timezone lookup for a collection. Entities without a
// usable timezone fall back to the default with a warning.
func Zones(col *meta.Collection) map[string]*time.Location {
	zones := make(map[string]*time.Location, len(col.Features))
	for _, f := range col.Features {
		if f.Properties == nil || f.Properties.SegmentID.IsZero() {
			continue
		}
		zones[f.Properties.SegmentID.String()] = f.Properties.Location()
	}
	return zones
}

// WriteMonths writes one file per month from the start month through the
// month of newest. startYear of zero begins one month before newest, the
// usual incremental case.
func (e *Exporter[R]) WriteMonths(prefix string, startYear int, newest time.Time) error {
	if dir := filepath.Dir(prefix); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	curr := MonthOf(newest.UTC())
	month := curr.Add(-1)
	if startYear != 0 {
		month = Month{Year: startYear, Month: time.January}
	}
	for !month.After(curr) {
		if err := e.writeMonth(prefix, month); err != nil {
			return err
		}
		month = month.Add(1)
	}
	return nil
}

// WriteSegments writes one file per segment covering all stored years.
func (e *Exporter[R]) WriteSegments(prefix string) error {
	if dir := filepath.Dir(prefix); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	rows, err := e.Archive.Load(0, 0)
	if err != nil {
		return err
	}
	bySegment := make(map[string][]R)
	for _, r := range rows {
		id := r.RowKey().SegmentID
		if _, ok := e.Zones[id]; !ok {
			continue
		}
		bySegment[id] = append(bySegment[id], r)
	}
	for id, segRows := range bySegment {
		records := e.records(segRows, nil)
		if err := e.writeFile(fmt.Sprintf("%s_%s", prefix, id), records); err != nil {
			return err
		}
	}
	return nil
}

// writeMonth filters the archive to rows whose local timestamp falls in
// the month and writes one file. Months without data produce no file.
func (e *Exporter[R]) writeMonth(prefix string, month Month) error {
	// Local-time month membership can cross a UTC year boundary, so the
	// adjacent partitions are included in the read.
	rows, err := e.Archive.Load(month.Year-1, month.Year+1)
	if err != nil {
		return err
	}
	records := e.records(rows, &month)
	return e.writeFile(fmt.Sprintf("%s_%s", prefix, month), records)
}

// records formats rows, filtered to the given month when set.
func (e *Exporter[R]) records(rows []R, month *Month) [][]string {
	archive.Sort(rows)
	var out [][]string
	for _, r := range rows {
		key := r.RowKey()
		loc, ok := e.Zones[key.SegmentID]
		if !ok {
			continue
		}
		local := time.UnixMilli(key.Millis).In(loc)
		if month != nil && !month.Contains(local) {
			continue
		}
		out = append(out, e.Columns.Record(r, local))
	}
	return out
}

// writeFile emits the records under the given path base, adding the
// format suffix. Empty record sets write nothing; a pre-existing empty
// export for the same period is removed.
func (e *Exporter[R]) writeFile(base string, records [][]string) error {
	path := base + ".csv.gz"
	if e.Excel {
		path = base + ".xlsx"
	}
	if len(records) == 0 {
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
		}
		return nil
	}
	if e.Verbose {
		log.Printf("Writing %s (%d rows)", path, len(records))
	}
	if e.Excel {
		return writeExcel(path, e.Columns.Header(), records)
	}
	return writeCSV(path, e.Columns.Header(), records)
}

func writeCSV(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(f)
	cw := csv.NewWriter(zw)
	if err := cw.Write(header); err != nil {
		f.Close()
		return err
	}
	for _, rec := range records {
		if err := cw.Write(rec); err != nil {
			f.Close()
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeExcel(path string, header []string, records [][]string) error {
	wb := excelize.NewFile()
	defer wb.Close()
	sheet := wb.GetSheetName(0)
	if err := setRow(wb, sheet, 1, header); err != nil {
		return err
	}
	for i, rec := range records {
		if err := setRow(wb, sheet, i+2, rec); err != nil {
			return err
		}
	}
	return wb.SaveAs(path)
}

func setRow(wb *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return wb.SetSheetRow(sheet, cell, &vals)
}
