package telraam

import (
	"math"
	"strconv"
	"time"
)

// CSVColumns renders archived rows into the published extract layout.
// Advanced selects the per-quarter layout with the extra vehicle classes.
type CSVColumns struct {
	Advanced bool
}

var basicModes = []string{"ped", "bike", "car", "heavy"}

var advancedModes = []string{
	"ped", "bike", "car", "heavy",
	"bus", "lighttruck", "motorcycle", "stroller",
	"tractor", "trailer", "truck", "night",
}

func (c CSVColumns) modes() []string {
	if c.Advanced {
		return advancedModes
	}
	return basicModes
}

func (c CSVColumns) Header() []string {
	h := []string{"segment_id", "date_local", "uptime"}
	for _, m := range c.modes() {
		h = append(h, m+"_lft", m+"_rgt", m+"_total")
	}
	h = append(h, "v85")
	for i := 0; i < CoarseBuckets; i++ {
		h = append(h, "car_speed"+strconv.Itoa(i*10))
	}
	return h
}

func (c CSVColumns) Record(r Row, local time.Time) []string {
	rec := []string{
		strconv.FormatInt(r.SegmentID, 10),
		local.Format("2006-01-02 15:04"),
		strconv.FormatFloat(float64(r.Uptime), 'f', 6, 32),
	}
	for _, m := range c.modes() {
		lft, rgt := r.mode(m)
		rec = append(rec, count(lft), count(rgt), countSum(lft, rgt))
	}
	rec = append(rec, opt(r.V85, 1))
	for _, p := range ExpandHistogram(r.CarSpeedHist) {
		rec = append(rec, strconv.FormatFloat(p, 'f', 2, 64))
	}
	return rec
}

func (r Row) mode(name string) (lft, rgt *float32) {
	switch name {
	case "ped":
		return r.PedestrianLft, r.PedestrianRgt
	case "bike":
		return r.BikeLft, r.BikeRgt
	case "car":
		return r.CarLft, r.CarRgt
	case "heavy":
		return r.HeavyLft, r.HeavyRgt
	case "bus":
		return r.BusLft, r.BusRgt
	case "lighttruck":
		return r.LighttruckLft, r.LighttruckRgt
	case "motorcycle":
		return r.MotorcycleLft, r.MotorcycleRgt
	case "stroller":
		return r.StrollerLft, r.StrollerRgt
	case "tractor":
		return r.TractorLft, r.TractorRgt
	case "trailer":
		return r.TrailerLft, r.TrailerRgt
	case "truck":
		return r.TruckLft, r.TruckRgt
	case "night":
		return r.NightLft, r.NightRgt
	}
	return nil, nil
}

// Mode counts are published as whole vehicles, even though the API
// reports uptime-extrapolated fractions.
func count(v *float32) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(int(math.Round(float64(*v))))
}

func countSum(lft, rgt *float32) string {
	if lft == nil && rgt == nil {
		return ""
	}
	var sum float32
	if lft != nil {
		sum += *lft
	}
	if rgt != nil {
		sum += *rgt
	}
	return strconv.Itoa(int(math.Round(float64(sum))))
}

func opt(v *float32, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(float64(*v), 'f', prec, 32)
}
