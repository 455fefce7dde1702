// Package telraam talks to the camera-based segment counting API: traffic
// reports per segment, segment discovery by bounding box and the camera
// inventory that anchors each segment's first-data timestamp.
package telraam

import "encoding/json"

// DefaultURL is the production API host.
const DefaultURL = "https://telraam-api.net"

// advancedColumns is the column selection requested from the advanced
// (per-quarter) reports endpoint.
const advancedColumns = "instance_id,segment_id,date,interval,uptime,direction,v85,car_speed_hist_0to120plus," +
	"heavy_lft,heavy_rgt,car_lft,car_rgt,bike_lft,bike_rgt,pedestrian_lft,pedestrian_rgt," +
	"mode_bus_lft,mode_bus_rgt,mode_lighttruck_lft,mode_lighttruck_rgt," +
	"mode_motorcycle_lft,mode_motorcycle_rgt,mode_stroller_lft,mode_stroller_rgt," +
	"mode_tractor_lft,mode_tractor_rgt,mode_trailer_lft,mode_trailer_rgt," +
	"mode_truck_lft,mode_truck_rgt,mode_night_lft,mode_night_rgt," +
	"speed_hist_car_lft,speed_hist_car_rgt,brightness,sharpness"

// reportRequest is the POST body for the traffic reports endpoints.
type reportRequest struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	ID        string `json:"id"`
	TimeStart string `json:"time_start"`
	TimeEnd   string `json:"time_end"`
	Columns   string `json:"columns,omitempty"`
}

// reportEntry is one observation in a traffic report. The API signals
// missing values as -1.
type reportEntry struct {
	SegmentID     int64     `json:"segment_id"`
	Date          string    `json:"date"`
	Interval      string    `json:"interval"`
	Uptime        float64   `json:"uptime"`
	HeavyLft      *float64  `json:"heavy_lft"`
	HeavyRgt      *float64  `json:"heavy_rgt"`
	CarLft        *float64  `json:"car_lft"`
	CarRgt        *float64  `json:"car_rgt"`
	BikeLft       *float64  `json:"bike_lft"`
	BikeRgt       *float64  `json:"bike_rgt"`
	PedestrianLft *float64  `json:"pedestrian_lft"`
	PedestrianRgt *float64  `json:"pedestrian_rgt"`
	Direction     int       `json:"direction"`
	V85           *float64  `json:"v85"`
	CarSpeedHist  []float64 `json:"car_speed_hist_0to120plus"`

	// advanced-only vehicle classes
	BusLft        *float64 `json:"mode_bus_lft"`
	BusRgt        *float64 `json:"mode_bus_rgt"`
	LighttruckLft *float64 `json:"mode_lighttruck_lft"`
	LighttruckRgt *float64 `json:"mode_lighttruck_rgt"`
	MotorcycleLft *float64 `json:"mode_motorcycle_lft"`
	MotorcycleRgt *float64 `json:"mode_motorcycle_rgt"`
	StrollerLft   *float64 `json:"mode_stroller_lft"`
	StrollerRgt   *float64 `json:"mode_stroller_rgt"`
	TractorLft    *float64 `json:"mode_tractor_lft"`
	TractorRgt    *float64 `json:"mode_tractor_rgt"`
	TrailerLft    *float64 `json:"mode_trailer_lft"`
	TrailerRgt    *float64 `json:"mode_trailer_rgt"`
	TruckLft      *float64 `json:"mode_truck_lft"`
	TruckRgt      *float64 `json:"mode_truck_rgt"`
	NightLft      *float64 `json:"mode_night_lft"`
	NightRgt      *float64 `json:"mode_night_rgt"`
}

// camera is one entry of the camera inventory.
type camera struct {
	InstanceID       int64  `json:"instance_id"`
	SegmentID        int64  `json:"segment_id"`
	Status           string `json:"status"`
	HardwareVersion  int    `json:"hardware_version"`
	FirstDataPackage string `json:"first_data_package"`
	LastDataPackage  string `json:"last_data_package"`

	raw json.RawMessage
}

func (c *camera) UnmarshalJSON(b []byte) error {
	type plain camera
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = camera(p)
	c.raw = append(json.RawMessage(nil), b...)
	return nil
}
