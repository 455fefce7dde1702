// Package config holds the flag set and secret handling shared by the
// backup commands.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Options are the command line options of a backup run. Commands register
// only the subset that applies to their source.
type Options struct {
	BBox           string
	URL            string
	SecretsFile    string
	MetaFile       string
	Clear          bool
	ParquetPrefix  string
	CSVPrefix      string
	CSVSegments    string
	CSVStartYear   int
	Retries        int
	MaxPropUpdates int
	Advanced       bool
	Segments       string
	Limit          int
	Dump           string
	Verbose        bool
	DatabasePath   string
	Excel          bool
}

// Defaults seeds per-command default values.
type Defaults struct {
	URL      string
	MetaFile string
	Parquet  string
}

// Register wires the common flags into the default flag set.
func (o *Options) Register(d Defaults) {
	flag.StringVar(&o.URL, "u", d.URL, "API base URL")
	flag.StringVar(&o.MetaFile, "j", d.MetaFile, "metadata GeoJSON file")
	flag.StringVar(&o.ParquetPrefix, "p", d.Parquet, "archive file prefix")
	flag.StringVar(&o.CSVPrefix, "csv", "", "write monthly extracts under this prefix")
	flag.StringVar(&o.CSVSegments, "csv-segments", "", "write per-segment extracts under this prefix")
	flag.IntVar(&o.CSVStartYear, "y", 0, "first year of monthly extracts (default: previous month only)")
	flag.BoolVar(&o.Clear, "clear", false, "ignore watermarks and refetch from first data")
	flag.IntVar(&o.Retries, "r", 3, "retries per request")
	flag.StringVar(&o.Segments, "segments", "", "restrict to these segment ids (comma separated)")
	flag.IntVar(&o.Limit, "limit", 0, "process at most this many entities, most stale first")
	flag.StringVar(&o.Dump, "dump", "", "append raw API responses to this file")
	flag.BoolVar(&o.Verbose, "v", false, "verbose logging")
	flag.BoolVar(&o.Excel, "excel", false, "write extracts as .xlsx instead of .csv.gz")
}

// RegisterTelraam adds the flags only the camera source uses.
func (o *Options) RegisterTelraam(defaultBBox string) {
	flag.StringVar(&o.BBox, "b", defaultBBox, "bounding box lonmin,latmin,lonmax,latmax")
	flag.StringVar(&o.SecretsFile, "s", "secrets.json", "API token file")
	flag.BoolVar(&o.Advanced, "a", false, "fetch the advanced per-quarter schema")
	flag.IntVar(&o.MaxPropUpdates, "max-prop-updates", 10, "camera inventory refreshes per run")
	flag.StringVar(&o.DatabasePath, "database", "", "mirror fetched data into this SQLite file")
}

// SegmentIDs parses the --segments restriction.
func (o *Options) SegmentIDs() []string {
	if o.Segments == "" {
		return nil
	}
	parts := strings.Split(o.Segments, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// Secrets holds API credentials. They come from the secrets file, with
// the environment (or a .env file) taking precedence.
type Secrets struct {
	TelraamTokens []string `json:"telraam_tokens"`
}

// LoadSecrets reads credentials. A missing secrets file is only an error
// when the environment provides nothing either.
func LoadSecrets(path string) (*Secrets, error) {
	// .env is optional, ignore a missing file
	godotenv.Load()

	s := &Secrets{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if env := os.Getenv("TELRAAM_TOKENS"); env != "" {
		s.TelraamTokens = nil
		for _, t := range strings.Split(env, ",") {
			if t = strings.TrimSpace(t); t != "" {
				s.TelraamTokens = append(s.TelraamTokens, t)
			}
		}
	}
	return s, nil
}
