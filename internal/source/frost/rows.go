package frost

import (
	"math"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
)

// TEURow is one timestamp of a traffic-eye station. Hourly and five-minute
// datastreams of the same station land in the same row when their
// timestamps coincide; absent classes stay nil.
type TEURow struct {
	SegmentID string    `parquet:"segment_id,zstd"`
	Date      time.Time `parquet:"date,timestamp(millisecond),zstd"`
	KFZHour   *uint16   `parquet:"kfz_hour,optional,zstd"`
	PKWHour   *uint16   `parquet:"pkw_hour,optional,zstd"`
	LKWHour   *uint16   `parquet:"lkw_hour,optional,zstd"`
	KFZ5Min   *uint16   `parquet:"kfz_5min,optional,zstd"`
	PKW5Min   *uint16   `parquet:"pkw_5min,optional,zstd"`
	LKW5Min   *uint16   `parquet:"lkw_5min,optional,zstd"`
}

func (r TEURow) RowKey() archive.Key {
	return archive.Key{SegmentID: r.SegmentID, Millis: r.Date.UTC().UnixMilli()}
}

// EcoRow is one timestamp of a bicycle counter, by direction.
type EcoRow struct {
	SegmentID     string    `parquet:"segment_id,zstd"`
	Date          time.Time `parquet:"date,timestamp(millisecond),zstd"`
	BikeLftHour   *uint16   `parquet:"bike_lft_hour,optional,zstd"`
	BikeRgtHour   *uint16   `parquet:"bike_rgt_hour,optional,zstd"`
	BikeTotalHour *uint16   `parquet:"bike_total_hour,optional,zstd"`
	BikeLft15Min  *uint16   `parquet:"bike_lft_15min,optional,zstd"`
	BikeRgt15Min  *uint16   `parquet:"bike_rgt_15min,optional,zstd"`
	BikeTotal15Min *uint16  `parquet:"bike_total_15min,optional,zstd"`
}

func (r EcoRow) RowKey() archive.Key {
	return archive.Key{SegmentID: r.SegmentID, Millis: r.Date.UTC().UnixMilli()}
}

// u16 clamps a count observation into the stored range.
func u16(v float64) *uint16 {
	if v < 0 || math.IsNaN(v) {
		return nil
	}
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	u := uint16(math.Round(v))
	return &u
}
