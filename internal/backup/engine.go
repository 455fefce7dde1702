// Package backup implements the incremental backup engine: it walks the
// known entities oldest-watermark-first, fetches the missing time windows
// from the source adapter, merges the rows into the year-partitioned
// archive and advances the per-entity watermarks.
package backup

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
)

// DefaultEpoch is the effective start of time for live sources that never
// report a first-observation timestamp.
var DefaultEpoch = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

// Adapter fetches observation rows for one upstream protocol family.
type Adapter[R archive.Row] interface {
	// Source names the upstream for log messages.
	Source() string
	// ChunkSize bounds a single fetch window; the engine splits longer
	// ranges into consecutive calls because upstream APIs cap the span
	// or record count per request.
	ChunkSize() time.Duration
	// Live reports whether the source is a continuously reporting feed
	// without a last-data marker; the engine then fetches up to now.
	Live() bool
	// FetchWindow returns all rows for the entity in [since, until).
	FetchWindow(ctx context.Context, f *meta.Feature, since, until time.Time) ([]R, error)
}

// Options controls one engine run.
type Options struct {
	Clear    bool     // refetch from the earliest known timestamp
	Advanced bool     // use the fine-grained schema and its watermark
	Limit    int      // batch size; 0 processes everything in one batch
	Segments []string // restrict to these IDs; empty selects all
	Verbose  bool
}

// Summary reports what a run did.
type Summary struct {
	Processed  int
	Skipped    int
	Failed     int
	Rows       int
	NewestData *time.Time // newest upstream data seen over all entities
}

// Engine ties an adapter to an archive and a metadata file.
type Engine[R archive.Row] struct {
	Adapter  Adapter[R]
	Archive  *archive.Archive[R]
	MetaPath string
	Opts     Options

	Now func() time.Time // test hook, defaults to time.Now
}

// New creates an engine.
func New[R archive.Row](adapter Adapter[R], arch *archive.Archive[R], metaPath string, opts Options) *Engine[R] {
	return &Engine[R]{Adapter: adapter, Archive: arch, MetaPath: metaPath, Opts: opts, Now: time.Now}
}

// Run processes the collection in batches. Metadata (and with it the
// watermarks) is persisted only after the batch's rows are merged, so a
// crash re-fetches at most one batch. Failures on individual entities are
// logged and leave that entity's watermark untouched; they never abort
// the run.
func (e *Engine[R]) Run(ctx context.Context, col *meta.Collection) (Summary, error) {
	var sum Summary
	selected := col.Select(e.Opts.Segments, e.Opts.Advanced)
	log.Printf("Retrieving data for %d segments", len(selected))
	for _, batch := range meta.Batches(selected, e.Opts.Limit) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		var rows []R
		for _, f := range batch {
			rows = append(rows, e.processEntity(ctx, f, &sum)...)
		}
		sum.Rows += len(rows)
		if err := e.Archive.Merge(rows); err != nil {
			return sum, err
		}
		if err := meta.Save(e.MetaPath, col); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// processEntity fetches one entity's missing windows. It returns the rows
// to merge; on any fetch failure it returns nothing and the watermark
// stays frozen so the window is retried next run.
func (e *Engine[R]) processEntity(ctx context.Context, f *meta.Feature, sum *Summary) []R {
	p := f.Properties
	first := p.FirstData
	if first == nil {
		if !e.Adapter.Live() {
			log.Printf("No data source for segment %s", p.SegmentID)
			sum.Skipped++
			return nil
		}
		epoch := DefaultEpoch
		first = &epoch
	}

	since := *first
	if !e.Opts.Clear {
		if wm := p.Watermark(e.Opts.Advanced); wm != nil {
			since = *wm
		}
	}

	var last time.Time
	switch {
	case p.LastData != nil:
		last = p.LastData.UTC()
	case e.Adapter.Live():
		last = e.Now().UTC()
	default:
		// Never reported any data. The watermark is deliberately not
		// advanced so the entity is fully fetched once it comes alive.
		log.Printf("No data yet for segment %s", p.SegmentID)
		sum.Skipped++
		return nil
	}

	if !since.Before(last) {
		// Nothing to fetch; stamp the watermark so the next runs do not
		// re-examine the same empty window.
		p.SetWatermark(e.Opts.Advanced, e.midnight())
		sum.Processed++
		e.trackNewest(sum, last)
		return nil
	}

	if e.Opts.Verbose {
		log.Printf("Retrieving data for segment %s between %s and %s", p.SegmentID, since.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	chunk := e.Adapter.ChunkSize()
	var rows []R
	for start := since; start.Before(last); start = start.Add(chunk) {
		end := start.Add(chunk)
		if end.After(last) {
			end = last
		}
		got, err := e.Adapter.FetchWindow(ctx, f, start, end)
		if err != nil {
			if errors.Is(err, fetch.ErrForbidden) {
				log.Printf("Skipping segment %s: %v", p.SegmentID, err)
			} else {
				log.Printf("Error fetching %s for segment %s: %v", e.Adapter.Source(), p.SegmentID, err)
			}
			sum.Failed++
			return nil
		}
		rows = append(rows, got...)
	}

	// The watermark moves to today's UTC midnight rather than to the
	// fetched-through timestamp, so late-arriving upstream data for the
	// current day is picked up again on the next run.
	p.SetWatermark(e.Opts.Advanced, e.midnight())
	sum.Processed++
	e.trackNewest(sum, last)
	return rows
}

func (e *Engine[R]) midnight() time.Time {
	return e.Now().UTC().Truncate(24 * time.Hour)
}

func (e *Engine[R]) trackNewest(sum *Summary, last time.Time) {
	if sum.NewestData == nil || sum.NewestData.Before(last) {
		u := last.UTC()
		sum.NewestData = &u
	}
}
