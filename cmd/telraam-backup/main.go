// telraam-backup performs one incremental backup of the camera segment
// counts: refresh the segment metadata for the configured area, fetch the
// missing windows per segment, merge them into the year-partitioned
// archive and regenerate the extracts.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/backup"
	"github.com/we-count/trafficbackup/internal/config"
	"github.com/we-count/trafficbackup/internal/db"
	"github.com/we-count/trafficbackup/internal/export"
	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
	"github.com/we-count/trafficbackup/internal/source/telraam"
)

const defaultBBox = "13.06,52.33,13.77,52.68"

func main() {
	var opts config.Options
	opts.Register(config.Defaults{
		URL:      telraam.DefaultURL,
		MetaFile: "segments.json",
		Parquet:  "telraam",
	})
	opts.RegisterTelraam(defaultBBox)
	flag.Parse()

	ctx := context.Background()
	secrets, err := config.LoadSecrets(opts.SecretsFile)
	if err != nil {
		log.Fatalf("Cannot load secrets: %v", err)
	}
	client := fetch.NewClient(opts.Retries)
	client.DumpPath = opts.Dump
	ring, err := fetch.NewTokenRing(client, opts.URL, secrets.TelraamTokens)
	if err != nil {
		log.Fatalf("Cannot set up API access: %v", err)
	}

	refresher := &telraam.Refresher{
		Ring:           ring,
		Area:           opts.BBox,
		MaxPropUpdates: opts.MaxPropUpdates,
		Verbose:        opts.Verbose,
	}
	col, err := refresher.Refresh(ctx, opts.MetaFile, opts.Clear)
	if err != nil {
		log.Printf("Error refreshing segment metadata: %v", err)
		return
	}

	prefix := opts.ParquetPrefix
	if opts.Advanced {
		prefix += "_advanced"
	}
	arch := archive.New[telraam.Row](prefix)
	adapter := &telraam.Adapter{Ring: ring, Advanced: opts.Advanced}
	engine := backup.New[telraam.Row](adapter, arch, opts.MetaFile, backup.Options{
		Clear:    opts.Clear,
		Advanced: opts.Advanced,
		Limit:    opts.Limit,
		Segments: opts.SegmentIDs(),
		Verbose:  opts.Verbose,
	})
	sum, err := engine.Run(ctx, col)
	if err != nil {
		log.Printf("Error during backup: %v", err)
		return
	}
	log.Printf("Backed up %d rows from %d segments (%d skipped, %d failed)",
		sum.Rows, sum.Processed, sum.Skipped, sum.Failed)
	if opts.Verbose {
		log.Printf("API usage: %s", ring.Stats())
	}

	if opts.DatabasePath != "" {
		if err := mirror(ctx, opts.DatabasePath, col, arch, sum.NewestData); err != nil {
			log.Printf("Error updating database mirror: %v", err)
		}
	}

	newest := time.Now().UTC()
	if sum.NewestData != nil {
		newest = *sum.NewestData
	}
	exporter := &export.Exporter[telraam.Row]{
		Archive: arch,
		Columns: telraam.CSVColumns{Advanced: opts.Advanced},
		Zones:   export.Zones(col),
		Excel:   opts.Excel,
		Verbose: opts.Verbose,
	}
	if opts.CSVPrefix != "" {
		if err := exporter.WriteMonths(opts.CSVPrefix, opts.CSVStartYear, newest); err != nil {
			log.Printf("Error writing monthly extracts: %v", err)
		}
	}
	if opts.CSVSegments != "" {
		if err := exporter.WriteSegments(opts.CSVSegments); err != nil {
			log.Printf("Error writing per-segment extracts: %v", err)
		}
	}
}

// mirror pushes the metadata and the recent archive partitions into the
// SQLite mirror.
func mirror(ctx context.Context, path string, col *meta.Collection, arch *archive.Archive[telraam.Row], newest *time.Time) error {
	mdb, err := db.Connect(path)
	if err != nil {
		return err
	}
	defer mdb.Close()
	if err := mdb.EnsureSchema(ctx); err != nil {
		return err
	}
	run, err := mdb.BeginImport(ctx, "telraam")
	if err != nil {
		return err
	}
	if err := mdb.UpsertSegments(ctx, col); err != nil {
		return err
	}
	// Only the partitions a backup run can have touched need re-mirroring.
	year := time.Now().UTC().Year()
	if newest != nil {
		year = newest.UTC().Year()
	}
	rows, err := arch.Load(year-1, year)
	if err != nil {
		return err
	}
	if err := mdb.UpsertCounts(ctx, rows); err != nil {
		return err
	}
	return run.Finish(ctx, len(rows))
}
