// Package maut reads daily truck toll counts per motorway section from an
// ArcGIS feature layer. Unlike the camera and counting station sources the
// layer is queried as a whole, so the backup watermark lives on the
// collection instead of the individual sections.
package maut

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/we-count/trafficbackup/internal/fetch"
)

// pageSize is the record count requested per query page; the server caps
// pages itself and signals truncation via exceededTransferLimit.
const pageSize = 2000

// Attribute names of the toll layer.
const (
	idField    = "abschnitts_id"
	dateField  = "datum"
	countField = "anz_lkw"
	nameField  = "name"
)

// Service is one feature layer endpoint, e.g. .../FeatureServer/0.
type Service struct {
	Client *fetch.Client
	Base   string
}

type queryResult struct {
	Features              []feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
	Error                 *apiError `json:"error"`
}

type feature struct {
	Attributes map[string]json.RawMessage `json:"attributes"`
	Geometry   *esriGeometry              `json:"geometry"`
}

type esriGeometry struct {
	Paths [][][]float64 `json:"paths"`
	X     *float64      `json:"x"`
	Y     *float64      `json:"y"`
}

// apiError is the in-band error envelope ArcGIS returns with HTTP 200.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Query pages through a layer query, advancing resultOffset until the
// server stops reporting a truncated page.
func (s *Service) Query(ctx context.Context, params url.Values) ([]feature, error) {
	base := url.Values{}
	for k, vals := range params {
		base[k] = vals
	}
	base.Set("f", "json")
	if base.Get("resultRecordCount") == "" {
		base.Set("resultRecordCount", strconv.Itoa(pageSize))
	}

	var out []feature
	offset := 0
	for {
		page := url.Values{}
		for k, vals := range base {
			page[k] = vals
		}
		page.Set("resultOffset", strconv.Itoa(offset))

		result, err := s.queryPage(ctx, page)
		if err != nil {
			return nil, err
		}
		out = append(out, result.Features...)
		if !result.ExceededTransferLimit || len(result.Features) == 0 {
			return out, nil
		}
		offset += len(result.Features)
	}
}

// QueryOne issues a single layer query without paging, for probes that
// only need the first record.
func (s *Service) QueryOne(ctx context.Context, params url.Values) ([]feature, error) {
	page := url.Values{}
	for k, vals := range params {
		page[k] = vals
	}
	page.Set("f", "json")
	result, err := s.queryPage(ctx, page)
	if err != nil {
		return nil, err
	}
	return result.Features, nil
}

func (s *Service) queryPage(ctx context.Context, params url.Values) (*queryResult, error) {
	var result queryResult
	if err := s.Client.GetJSON(ctx, s.Base+"/query", params, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%w: layer error %d: %s", fetch.ErrMalformed, result.Error.Code, result.Error.Message)
	}
	return &result, nil
}

// attr decoding helpers; ArcGIS encodes dates as epoch milliseconds.

func (f feature) int64Attr(name string) (int64, bool) {
	raw, ok := f.Attributes[name]
	if !ok {
		return 0, false
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		// some layers publish ids as strings
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return v, true
}

func (f feature) stringAttr(name string) string {
	raw, ok := f.Attributes[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
