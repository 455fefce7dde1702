// Package vmk imports the annual traffic volume map from a WFS 2.0
// service: average daily counts per road edge, published as one layer per
// vehicle class and year.
package vmk

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strconv"

	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
)

const pageSize = 10000

// Service is one WFS endpoint.
type Service struct {
	Client *fetch.Client
	Base   string
}

type featurePage struct {
	Features []wfsFeature `json:"features"`
	// Some servers report request errors in-band instead of an HTTP
	// status.
	Exceptions []json.RawMessage `json:"exceptions"`
}

type wfsFeature struct {
	Geometry   *meta.Geometry             `json:"geometry"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// Features fetches a complete layer, paging with startIndex/count. Layers
// a service does not publish (yet) come back as HTTP errors or exception
// reports; those yield an empty result so a missing year or class does
// not abort the import.
func (s *Service) Features(ctx context.Context, typeName string) ([]wfsFeature, error) {
	var out []wfsFeature
	for start := 0; ; start += pageSize {
		params := url.Values{}
		params.Set("service", "WFS")
		params.Set("version", "2.0.0")
		params.Set("request", "GetFeature")
		params.Set("typeNames", typeName)
		params.Set("outputFormat", "application/json")
		params.Set("count", strconv.Itoa(pageSize))
		params.Set("startIndex", strconv.Itoa(start))

		var page featurePage
		err := s.Client.GetJSON(ctx, s.Base, params, &page)
		if err != nil {
			if absent(err) {
				log.Printf("Warning: layer %s not available: %v", typeName, err)
				return nil, nil
			}
			return nil, err
		}
		if len(page.Exceptions) > 0 {
			log.Printf("Warning: layer %s reported an exception, treating as absent", typeName)
			return nil, nil
		}
		out = append(out, page.Features...)
		if len(page.Features) < pageSize {
			return out, nil
		}
	}
}

// absent reports whether the error means the layer does not exist rather
// than the service failing. WFS servers answer unknown type names with
// 400 or 404, or with an XML exception report that fails JSON decoding.
func absent(err error) bool {
	var se *fetch.StatusError
	if errors.As(err, &se) {
		return se.Status == 400 || se.Status == 404
	}
	return errors.Is(err, fetch.ErrMalformed)
}

func (f wfsFeature) stringProp(name string) string {
	raw, ok := f.Properties[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (f wfsFeature) countProp(name string) *uint32 {
	raw, ok := f.Properties[name]
	if !ok {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil || v < 0 {
		return nil
	}
	u := uint32(v)
	return &u
}
