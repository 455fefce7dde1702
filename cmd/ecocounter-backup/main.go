// ecocounter-backup performs one incremental backup of the permanent
// bicycle counting stations from a SensorThings service.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/backup"
	"github.com/we-count/trafficbackup/internal/config"
	"github.com/we-count/trafficbackup/internal/export"
	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/source/frost"
)

const defaultURL = "https://api.viz.berlin.de/FROST-Server/v1.1"

func main() {
	var opts config.Options
	opts.Register(config.Defaults{
		URL:      defaultURL,
		MetaFile: "ecocounter.json",
		Parquet:  "ecocounter",
	})
	flag.Parse()

	ctx := context.Background()
	client := fetch.NewClient(opts.Retries)
	client.DumpPath = opts.Dump
	service := &frost.Service{Client: client, Base: opts.URL}

	refresher := &frost.Refresher{
		Service:     service,
		Description: "Bicycle counting stations",
		Key:         frost.EcoKey,
		Verbose:     opts.Verbose,
	}
	col, err := refresher.Refresh(ctx, opts.MetaFile, opts.Clear)
	if err != nil {
		log.Printf("Error refreshing station metadata: %v", err)
		return
	}

	arch := archive.New[frost.EcoRow](opts.ParquetPrefix)
	engine := backup.New[frost.EcoRow](&frost.EcoAdapter{Service: service}, arch, opts.MetaFile, backup.Options{
		Clear:    opts.Clear,
		Limit:    opts.Limit,
		Segments: opts.SegmentIDs(),
		Verbose:  opts.Verbose,
	})
	sum, err := engine.Run(ctx, col)
	if err != nil {
		log.Printf("Error during backup: %v", err)
		return
	}
	log.Printf("Backed up %d rows from %d stations (%d skipped, %d failed)",
		sum.Rows, sum.Processed, sum.Skipped, sum.Failed)

	newest := time.Now().UTC()
	if sum.NewestData != nil {
		newest = *sum.NewestData
	}
	exporter := &export.Exporter[frost.EcoRow]{
		Archive: arch,
		Columns: frost.EcoColumns{},
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
