package frost

import (
	"strconv"
	"time"
)

const exportTimeFormat = "2006-01-02 15:04"

// TEUColumns renders motor vehicle rows for the published extracts.
type TEUColumns struct{}

func (TEUColumns) Header() []string {
	return []string{"segment_id", "date_local",
		"kfz_hour", "pkw_hour", "lkw_hour",
		"kfz_5min", "pkw_5min", "lkw_5min"}
}

func (TEUColumns) Record(r TEURow, local time.Time) []string {
	return []string{r.SegmentID, local.Format(exportTimeFormat),
		u16str(r.KFZHour), u16str(r.PKWHour), u16str(r.LKWHour),
		u16str(r.KFZ5Min), u16str(r.PKW5Min), u16str(r.LKW5Min)}
}

// EcoColumns renders bicycle rows for the published extracts.
type EcoColumns struct{}

func (EcoColumns) Header() []string {
	return []string{"segment_id", "date_local",
		"bike_lft_hour", "bike_rgt_hour", "bike_total_hour",
		"bike_lft_15min", "bike_rgt_15min", "bike_total_15min"}
}

func (EcoColumns) Record(r EcoRow, local time.Time) []string {
	return []string{r.SegmentID, local.Format(exportTimeFormat),
		u16str(r.BikeLftHour), u16str(r.BikeRgtHour), u16str(r.BikeTotalHour),
		u16str(r.BikeLft15Min), u16str(r.BikeRgt15Min), u16str(r.BikeTotal15Min)}
}

func u16str(v *uint16) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*v), 10)
}
