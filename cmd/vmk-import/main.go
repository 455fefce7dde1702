// vmk-import merges the annual traffic volume map layers (motor vehicles,
// trucks and bicycles per road edge) into an archive. Years are given as
// arguments; without any, the current year is imported.
package main

import (
	"context"
	"flag"
	"log"
	"strconv"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/export"
	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
	"github.com/we-count/trafficbackup/internal/source/vmk"
)

func main() {
	var (
		url          = flag.String("u", "https://gdi.berlin.de/services/wfs/vmk", "WFS endpoint")
		metaFile     = flag.String("j", "vmk.json", "metadata GeoJSON file")
		prefix       = flag.String("p", "vmk", "archive file prefix")
		layerPattern = flag.String("layers", "vmk_%s_%d", "layer name pattern (class, year)")
		retries      = flag.Int("r", 3, "retries per request")
		clear        = flag.Bool("clear", false, "force the metadata rebuild")
		csvSegments  = flag.String("csv-segments", "", "write per-edge extracts under this prefix")
		excel        = flag.Bool("excel", false, "write extracts as .xlsx instead of .csv.gz")
		verbose      = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	years := []int{time.Now().UTC().Year()}
	if args := flag.Args(); len(args) > 0 {
		years = years[:0]
		for _, a := range args {
			y, err := strconv.Atoi(a)
			if err != nil {
				log.Fatalf("Not a year: %q", a)
			}
			years = append(years, y)
		}
	}

	ctx := context.Background()
	client := fetch.NewClient(*retries)
	importer := &vmk.Importer{
		Service:      &vmk.Service{Client: client, Base: *url},
		Archive:      archive.New[vmk.Row](*prefix),
		LayerPattern: *layerPattern,
		Verbose:      *verbose,
	}

	for _, year := range years {
		n, geoms, err := importer.ImportYear(ctx, year)
		if err != nil {
			log.Printf("Error importing year %d: %v", year, err)
			return
		}
		log.Printf("Imported %d edges for %d", n, year)
		if len(geoms) > 0 {
			if err := importer.RefreshMeta(*metaFile, *clear, geoms); err != nil {
				log.Printf("Error refreshing edge metadata: %v", err)
				return
			}
		}
	}

	if *csvSegments != "" {
		col, err := meta.Load(*metaFile)
		if err != nil {
			log.Printf("Error loading edge metadata: %v", err)
			return
		}
		exporter := &export.Exporter[vmk.Row]{
			Archive: importer.Archive,
			Columns: vmk.Columns{},
			Zones:   export.Zones(col),
			Excel:   *excel,
			Verbose: *verbose,
		}
		if err := exporter.WriteSegments(*csvSegments); err != nil {
			log.Printf("Error writing per-edge extracts: %v", err)
		}
	}
}
