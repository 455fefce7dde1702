// maut-backup performs one incremental backup of the daily truck toll
// counts from an ArcGIS feature layer. The layer is fetched as a whole,
// so the watermark lives on the section collection.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/config"
	"github.com/we-count/trafficbackup/internal/export"
	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/source/maut"
)

const defaultURL = "https://services.arcgis.com/lkw-maut/arcgis/rest/services/abschnitte/FeatureServer/0"

func main() {
	var opts config.Options
	opts.Register(config.Defaults{
		URL:      defaultURL,
		MetaFile: "maut.json",
		Parquet:  "maut",
	})
	flag.Parse()

	ctx := context.Background()
	client := fetch.NewClient(opts.Retries)
	client.DumpPath = opts.Dump
	service := &maut.Service{Client: client, Base: opts.URL}

	refresher := &maut.Refresher{Service: service, Verbose: opts.Verbose}
	col, err := refresher.Refresh(ctx, opts.MetaFile, opts.Clear)
	if err != nil {
		log.Printf("Error refreshing section metadata: %v", err)
		return
	}
	if opts.Clear {
		col.LastDataBackup = nil
	}

	arch := archive.New[maut.Row](opts.ParquetPrefix)
	b := &maut.Backup{
		Service:  service,
		Archive:  arch,
		MetaPath: opts.MetaFile,
		Verbose:  opts.Verbose,
	}
	n, err := b.Run(ctx, col)
	if err != nil {
		log.Printf("Error during backup: %v", err)
		return
	}
	log.Printf("Backed up %d toll rows", n)

	newest := time.Now().UTC()
	if col.LastDataBackup != nil {
		newest = *col.LastDataBackup
	}
	exporter := &export.Exporter[maut.Row]{
		Archive: arch,
		Columns: maut.Columns{},
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
