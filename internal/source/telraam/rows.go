package telraam

import (
	"math"
	"strconv"
	"time"

	"github.com/we-count/trafficbackup/internal/archive"
	"github.com/we-count/trafficbackup/internal/meta"
)

// HistBuckets is the number of fine-grained 5 km/h histogram buckets
// reported by the API (0 up to 120+).
const HistBuckets = 25

// CoarseBuckets is the number of 10 km/h buckets in exports (the last one
// collects everything from 70 km/h up).
const CoarseBuckets = 8

// Row is one archived traffic count. Counts are uptime-extrapolated by
// the API and therefore fractional; the speed histogram is stored as
// absolute per-bucket counts with trailing zero buckets trimmed.
type Row struct {
	SegmentID       int64     `parquet:"segment_id,zstd"`
	Date            time.Time `parquet:"date,timestamp(millisecond),zstd"`
	IntervalSeconds int32     `parquet:"interval_seconds,zstd"`
	Uptime          float32   `parquet:"uptime,zstd"`
	HeavyLft        *float32  `parquet:"heavy_lft,optional,zstd"`
	HeavyRgt        *float32  `parquet:"heavy_rgt,optional,zstd"`
	CarLft          *float32  `parquet:"car_lft,optional,zstd"`
	CarRgt          *float32  `parquet:"car_rgt,optional,zstd"`
	BikeLft         *float32  `parquet:"bike_lft,optional,zstd"`
	BikeRgt         *float32  `parquet:"bike_rgt,optional,zstd"`
	PedestrianLft   *float32  `parquet:"pedestrian_lft,optional,zstd"`
	PedestrianRgt   *float32  `parquet:"pedestrian_rgt,optional,zstd"`
	V85             *float32  `parquet:"v85,optional,zstd"`
	CarSpeedHist    []uint16  `parquet:"car_speed_hist,list,zstd"`

	BusLft        *float32 `parquet:"mode_bus_lft,optional,zstd"`
	BusRgt        *float32 `parquet:"mode_bus_rgt,optional,zstd"`
	LighttruckLft *float32 `parquet:"mode_lighttruck_lft,optional,zstd"`
	LighttruckRgt *float32 `parquet:"mode_lighttruck_rgt,optional,zstd"`
	MotorcycleLft *float32 `parquet:"mode_motorcycle_lft,optional,zstd"`
	MotorcycleRgt *float32 `parquet:"mode_motorcycle_rgt,optional,zstd"`
	StrollerLft   *float32 `parquet:"mode_stroller_lft,optional,zstd"`
	StrollerRgt   *float32 `parquet:"mode_stroller_rgt,optional,zstd"`
	TractorLft    *float32 `parquet:"mode_tractor_lft,optional,zstd"`
	TractorRgt    *float32 `parquet:"mode_tractor_rgt,optional,zstd"`
	TrailerLft    *float32 `parquet:"mode_trailer_lft,optional,zstd"`
	TrailerRgt    *float32 `parquet:"mode_trailer_rgt,optional,zstd"`
	TruckLft      *float32 `parquet:"mode_truck_lft,optional,zstd"`
	TruckRgt      *float32 `parquet:"mode_truck_rgt,optional,zstd"`
	NightLft      *float32 `parquet:"mode_night_lft,optional,zstd"`
	NightRgt      *float32 `parquet:"mode_night_rgt,optional,zstd"`
}

func (r Row) RowKey() archive.Key {
	return archive.Key{
		SegmentID: strconv.FormatInt(r.SegmentID, 10),
		Millis:    r.Date.UTC().UnixMilli(),
	}
}

// newRow converts a report entry. Entries with zero uptime carry no
// usable observation and are dropped by the caller.
func newRow(e reportEntry) (Row, bool) {
	date := meta.ParseUTC(e.Date)
	if date == nil {
		return Row{}, false
	}
	interval := int32(0)
	if e.Interval == "hourly" {
		interval = 3600
	} else if e.Interval == "quarterly" {
		interval = 900
	}
	r := Row{
		SegmentID:       e.SegmentID,
		Date:            date.UTC(),
		IntervalSeconds: interval,
		Uptime:          float32(e.Uptime),
		HeavyLft:        f32(e.HeavyLft),
		HeavyRgt:        f32(e.HeavyRgt),
		CarLft:          f32(e.CarLft),
		CarRgt:          f32(e.CarRgt),
		BikeLft:         f32(e.BikeLft),
		BikeRgt:         f32(e.BikeRgt),
		PedestrianLft:   f32(e.PedestrianLft),
		PedestrianRgt:   f32(e.PedestrianRgt),
		V85:             f32(e.V85),
		BusLft:          f32(e.BusLft),
		BusRgt:          f32(e.BusRgt),
		LighttruckLft:   f32(e.LighttruckLft),
		LighttruckRgt:   f32(e.LighttruckRgt),
		MotorcycleLft:   f32(e.MotorcycleLft),
		MotorcycleRgt:   f32(e.MotorcycleRgt),
		StrollerLft:     f32(e.StrollerLft),
		StrollerRgt:     f32(e.StrollerRgt),
		TractorLft:      f32(e.TractorLft),
		TractorRgt:      f32(e.TractorRgt),
		TrailerLft:      f32(e.TrailerLft),
		TrailerRgt:      f32(e.TrailerRgt),
		TruckLft:        f32(e.TruckLft),
		TruckRgt:        f32(e.TruckRgt),
		NightLft:        f32(e.NightLft),
		NightRgt:        f32(e.NightRgt),
	}
	observed := (val(e.CarLft) + val(e.CarRgt)) * e.Uptime
	r.CarSpeedHist = PackHistogram(e.CarSpeedHist, observed)
	return r, true
}

// f32 narrows an optional API value; -1 marks a missing measurement.
func f32(v *float64) *float32 {
	if v == nil || *v == -1 {
		return nil
	}
	f := float32(*v)
	return &f
}

func val(v *float64) float64 {
	if v == nil || *v == -1 {
		return 0
	}
	return *v
}

// PackHistogram converts the API's percentage-per-5km/h-bucket histogram
// into absolute counts, scaled by the number of vehicles actually
// observed in the interval. Trailing all-zero buckets are trimmed.
func PackHistogram(percentages []float64, observed float64) []uint16 {
	if len(percentages) == 0 || observed <= 0 {
		return nil
	}
	counts := make([]uint16, len(percentages))
	last := -1
	for i, p := range percentages {
		if p < 0 {
			continue
		}
		n := math.Round(p / 100 * observed)
		if n < 0 {
			n = 0
		}
		if n > math.MaxUint16 {
			n = math.MaxUint16
		}
		counts[i] = uint16(n)
		if counts[i] > 0 {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	return counts[:last+1]
}

// ExpandHistogram aggregates the stored 5 km/h counts into the eight
// coarse 10 km/h export buckets, expressed as percentages of all observed
// vehicles. A row without observations yields all zeros.
func ExpandHistogram(counts []uint16) [CoarseBuckets]float64 {
	var out [CoarseBuckets]float64
	var total float64
	for _, c := range counts {
		total += float64(c)
	}
	if total == 0 {
		return out
	}
	for i, c := range counts {
		bucket := i / 2
		if bucket >= CoarseBuckets {
			bucket = CoarseBuckets - 1
		}
		out[bucket] += float64(c)
	}
	for i := range out {
		out[i] = out[i] / total * 100
	}
	return out
}
