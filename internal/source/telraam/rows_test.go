package telraam

import (
	"strings"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestPackHistogram_ScalesPercentagesToCounts(t *testing.T) {
	// 40 observed cars, half of them in the first bucket, half in the
	// third; everything after stays zero and is trimmed.
	percentages := make([]float64, HistBuckets)
	percentages[0] = 50
	percentages[2] = 50
	counts := PackHistogram(percentages, 40)
	if len(counts) != 3 {
		t.Fatalf("trailing zeros not trimmed: %v", counts)
	}
	if counts[0] != 20 || counts[1] != 0 || counts[2] != 20 {
		t.Errorf("counts = %v", counts)
	}
}

func TestPackHistogram_NoObservations(t *testing.T) {
	percentages := make([]float64, HistBuckets)
	percentages[0] = 100
	if got := PackHistogram(percentages, 0); got != nil {
		t.Errorf("zero observed should yield nil, got %v", got)
	}
	if got := PackHistogram(nil, 40); got != nil {
		t.Errorf("missing histogram should yield nil, got %v", got)
	}
}

func TestExpandHistogram_CombinesPairsIntoCoarseBuckets(t *testing.T) {
	// 10 cars at 0-5 km/h, 10 at 5-10, 20 at 10-15: coarse bucket 0
	// holds 50%, bucket 1 holds 50%.
	out := ExpandHistogram([]uint16{10, 10, 20})
	if out[0] != 50 || out[1] != 50 {
		t.Errorf("coarse buckets = %v", out)
	}
	for i := 2; i < CoarseBuckets; i++ {
		if out[i] != 0 {
			t.Errorf("bucket %d = %f, want 0", i, out[i])
		}
	}
}

func TestExpandHistogram_TailCollectsInLastBucket(t *testing.T) {
	// All cars beyond 70 km/h fold into the last coarse bucket.
	counts := make([]uint16, HistBuckets)
	counts[14] = 5 // 70-75
	counts[24] = 5 // 120+
	out := ExpandHistogram(counts)
	if out[CoarseBuckets-1] != 100 {
		t.Errorf("last bucket = %f, want 100", out[CoarseBuckets-1])
	}
}

func TestExpandHistogram_EmptyIsAllZero(t *testing.T) {
	out := ExpandHistogram(nil)
	for i, v := range out {
		if v != 0 {
			t.Errorf("bucket %d = %f", i, v)
		}
	}
}

func TestNewRow_MissingValuesAndHistogram(t *testing.T) {
	percentages := make([]float64, HistBuckets)
	percentages[1] = 100
	e := reportEntry{
		SegmentID:    42,
		Date:         "2024-06-01T10:00:00+00:00",
		Interval:     "hourly",
		Uptime:       0.5,
		CarLft:       f(10),
		CarRgt:       f(30),
		HeavyLft:     f(-1), // API marker for not measured
		V85:          f(32.5),
		CarSpeedHist: percentages,
	}
	row, ok := newRow(e)
	if !ok {
		t.Fatal("entry rejected")
	}
	if row.SegmentID != 42 || row.IntervalSeconds != 3600 {
		t.Errorf("row = %+v", row)
	}
	if row.HeavyLft != nil {
		t.Error("-1 must map to a missing value")
	}
	if row.CarLft == nil || *row.CarLft != 10 {
		t.Errorf("car_lft = %v", row.CarLft)
	}
	// (10+30) cars x 0.5 uptime = 20 observed, all in bucket 1
	if len(row.CarSpeedHist) != 2 || row.CarSpeedHist[1] != 20 {
		t.Errorf("histogram = %v", row.CarSpeedHist)
	}
}

func TestNewRow_RejectsUnparseableDate(t *testing.T) {
	if _, ok := newRow(reportEntry{SegmentID: 1, Date: "NaT", Uptime: 1}); ok {
		t.Error("entry without a date must be rejected")
	}
}

func TestCSVColumns_BasicHeader(t *testing.T) {
	h := CSVColumns{}.Header()
	want := len([]string{"segment_id", "date_local", "uptime"}) + 4*3 + 1 + CoarseBuckets
	if len(h) != want {
		t.Fatalf("header has %d columns, want %d", len(h), want)
	}
	if h[0] != "segment_id" || h[3] != "ped_lft" || h[len(h)-1] != "car_speed70" {
		t.Errorf("header = %v", h)
	}
}

func TestCSVColumns_AdvancedHeaderAddsModes(t *testing.T) {
	h := CSVColumns{Advanced: true}.Header()
	joined := strings.Join(h, ",")
	for _, col := range []string{"bus_lft", "night_total", "tractor_rgt"} {
		if !strings.Contains(joined, col) {
			t.Errorf("advanced header missing %s", col)
		}
	}
}

func TestCSVColumns_RecordFormatsCounts(t *testing.T) {
	e := reportEntry{
		SegmentID: 42,
		Date:      "2024-06-01T10:00:00+00:00",
		Interval:  "hourly",
		Uptime:    0.75,
		CarLft:    f(10),
		CarRgt:    f(30),
	}
	row, _ := newRow(e)
	rec := CSVColumns{}.Record(row, row.Date)
	if rec[0] != "42" || rec[1] != "2024-06-01 10:00" {
		t.Errorf("record prefix = %v", rec[:2])
	}
	if rec[2] != "0.750000" {
		t.Errorf("uptime = %q", rec[2])
	}
	// ped columns are empty, car_total sums both directions
	if rec[3] != "" {
		t.Errorf("missing ped count = %q", rec[3])
	}
	carTotal := rec[3+2*3+2]
	if carTotal != "40" {
		t.Errorf("car_total = %q", carTotal)
	}
}

func TestCSVColumns_ModeCountsRoundToWholeVehicles(t *testing.T) {
	e := reportEntry{
		SegmentID: 42,
		Date:      "2024-06-01T10:00:00+00:00",
		Interval:  "hourly",
		Uptime:    0.75,
		CarLft:    f(10.4),
		CarRgt:    f(29.8),
	}
	row, _ := newRow(e)
	rec := CSVColumns{}.Record(row, row.Date)
	carLft := rec[3+2*3]
	if carLft != "10" {
		t.Errorf("car_lft = %q, want whole vehicles", carLft)
	}
	carRgt := rec[3+2*3+1]
	if carRgt != "30" {
		t.Errorf("car_rgt = %q, want whole vehicles", carRgt)
	}
	if carTotal := rec[3+2*3+2]; carTotal != "40" {
		t.Errorf("car_total = %q, want rounded sum", carTotal)
	}
}
