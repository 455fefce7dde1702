// Package archive stores observation rows in year-partitioned parquet
// files. Each merge rewrites the affected partitions through a
// read-merge-sort-write cycle; (segment, timestamp) is unique per archive
// and newly fetched rows supersede stored ones.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Key identifies one observation row within an archive.
type Key struct {
	SegmentID string
	Millis    int64 // UTC unix milliseconds
}

// Row is implemented by the per-source parquet row types.
type Row interface {
	RowKey() Key
}

// Archive is one logical dataset persisted as <prefix>_<year>.parquet.
type Archive[R Row] struct {
	Prefix string
}

// New creates an archive rooted at the given path prefix.
func New[R Row](prefix string) *Archive[R] {
	return &Archive[R]{Prefix: prefix}
}

// PartitionPath returns the file holding the given calendar year.
func (a *Archive[R]) PartitionPath(year int) string {
	return fmt.Sprintf("%s_%d.parquet", a.Prefix, year)
}

// Years lists the calendar years that have a partition on disk, ascending.
func (a *Archive[R]) Years() ([]int, error) {
	matches, err := filepath.Glob(a.Prefix + "_*.parquet")
	if err != nil {
		return nil, err
	}
	var years []int
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".parquet")
		idx := strings.LastIndex(base, "_")
		if idx < 0 {
			continue
		}
		y, err := strconv.Atoi(base[idx+1:])
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// Load reads all rows with timestamps in the calendar years [from, to].
// Zero bounds mean unbounded on that side.
func (a *Archive[R]) Load(from, to int) ([]R, error) {
	years, err := a.Years()
	if err != nil {
		return nil, err
	}
	var out []R
	for _, y := range years {
		if (from != 0 && y < from) || (to != 0 && y > to) {
			continue
		}
		rows, err := parquet.ReadFile[R](a.PartitionPath(y))
		if err != nil {
			return nil, fmt.Errorf("reading partition %d: %w", y, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Merge folds the new rows into the archive. Rows are grouped by calendar
// year; per year the existing partition is loaded, rows whose key appears
// in the new batch are dropped, and the combined set is sorted and written
// back. The previous file is kept as .bak until the new one is in place.
func (a *Archive[R]) Merge(rows []R) error {
	if len(rows) == 0 {
		return nil
	}
	byYear := make(map[int][]R)
	for _, r := range rows {
		y := time.UnixMilli(r.RowKey().Millis).UTC().Year()
		byYear[y] = append(byYear[y], r)
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		if err := a.mergeYear(y, byYear[y]); err != nil {
			return fmt.Errorf("merging partition %d: %w", y, err)
		}
	}
	return nil
}

func (a *Archive[R]) mergeYear(year int, rows []R) error {
	path := a.PartitionPath(year)

	newKeys := make(map[Key]bool, len(rows))
	for _, r := range rows {
		newKeys[r.RowKey()] = true
	}

	merged := make([]R, 0, len(rows))
	existing, err := a.readPartition(path)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if !newKeys[r.RowKey()] {
			merged = append(merged, r)
		}
	}
	merged = append(merged, rows...)
	Sort(merged)

	// Write the replacement next to the partition, move the old file
	// aside, then rename the new one into place. A crash in between
	// leaves either the old file or the .bak for manual recovery.
	tmp := path + ".new"
	if err := a.writePartition(tmp, merged); err != nil {
		os.Remove(tmp)
		return err
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			os.Remove(tmp)
			return err
		}
	}
	return os.Rename(tmp, path)
}

func (a *Archive[R]) readPartition(path string) ([]R, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return parquet.ReadFile[R](path)
}

func (a *Archive[R]) writePartition(path string, rows []R) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[R](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Sort orders rows by (segment, timestamp), the canonical partition order.
func Sort[R Row](rows []R) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].RowKey(), rows[j].RowKey()
		if a.SegmentID != b.SegmentID {
			return a.SegmentID < b.SegmentID
		}
		return a.Millis < b.Millis
	})
}
