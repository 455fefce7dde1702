// Package frost reads observations from OGC SensorThings services: Things
// are counting stations, Datastreams are one vehicle class at one sampling
// period, Observations carry the counts.
package frost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/we-count/trafficbackup/internal/fetch"
)

// pageSize is the $top requested per page; the server may still return
// fewer and chain the rest behind @iot.nextLink.
const pageSize = 1000

const filterTimeFormat = "2006-01-02T15:04:05Z"

// Service is one SensorThings endpoint, e.g. https://host/FROST-Server/v1.1.
type Service struct {
	Client *fetch.Client
	Base   string
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@iot.nextLink"`
}

// FetchAll retrieves a complete result set, following @iot.nextLink until
// the server stops handing out continuation links.
func FetchAll[T any](ctx context.Context, s *Service, path string, params url.Values) ([]T, error) {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("$top") == "" {
		params.Set("$top", fmt.Sprint(pageSize))
	}
	next := s.Base + path
	var out []T
	for next != "" {
		var p page[T]
		if err := s.Client.GetJSON(ctx, next, params, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Value...)
		next = p.NextLink
		params = nil // nextLink already carries the full query
	}
	return out, nil
}

// Observation is a single measurement. phenomenonTime may be an instant or
// an ISO interval; Time resolves it to the interval start.
type Observation struct {
	PhenomenonTime string  `json:"phenomenonTime"`
	Result         float64 `json:"result"`
}

// Time parses the observation timestamp. Interval-valued phenomenon times
// resolve to the interval start.
func (o Observation) Time() (time.Time, error) {
	s := o.PhenomenonTime
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return time.Parse(time.RFC3339, s)
}

// Observations fetches one datastream's measurements in [since, until),
// oldest first.
func (s *Service) Observations(ctx context.Context, datastreamID string, since, until time.Time) ([]Observation, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("phenomenonTime ge %s and phenomenonTime lt %s",
		since.UTC().Format(filterTimeFormat), until.UTC().Format(filterTimeFormat)))
	params.Set("$select", "phenomenonTime,result")
	params.Set("$orderby", "phenomenonTime asc")
	path := fmt.Sprintf("/Datastreams(%s)/Observations", datastreamID)
	return FetchAll[Observation](ctx, s, path, params)
}

// thing, datastream and location mirror the slices of the SensorThings
// entity model the positions refresh needs.
type thing struct {
	ID          json.RawMessage `json:"@iot.id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Properties  json.RawMessage `json:"properties"`
	Datastreams []datastream    `json:"Datastreams"`
	Locations   []location      `json:"Locations"`
}

type datastream struct {
	ID json.RawMessage `json:"@iot.id"`
	// Name distinguishes vehicle class and sampling period.
	Name string `json:"name"`
	// PhenomenonTime is the server-maintained observed interval,
	// "start/end".
	PhenomenonTime string `json:"phenomenonTime"`
}

type location struct {
	Location json.RawMessage `json:"location"` // GeoJSON
}

// interval splits a SensorThings time interval into its bounds.
func (d datastream) interval() (start, end string) {
	parts := strings.SplitN(d.PhenomenonTime, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return d.PhenomenonTime, ""
}
