package meta

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// Feature is one entity of the metadata file: geometry plus properties.
type Feature struct {
	Type       string      `json:"type"`
	Geometry   *Geometry   `json:"geometry"`
	Properties *Properties `json:"properties"`
}

// Collection is the FeatureCollection persisted per archive. Entities are
// never removed; stale ones keep their frozen watermarks.
type Collection struct {
	Description    string
	CreatedAt      time.Time
	LastDataBackup *time.Time // collection-level watermark (toll sections)
	Features       []*Feature

	Extra map[string]json.RawMessage
}

var knownCollectionKeys = map[string]bool{
	"type": true, "description": true, "created_at": true,
	"last_data_backup": true, "features": true,
}

func (c *Collection) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Collection{Extra: make(map[string]json.RawMessage)}
	for k, v := range raw {
		if !knownCollectionKeys[k] {
			out.Extra[k] = v
		}
	}
	if v, ok := raw["description"]; ok {
		json.Unmarshal(v, &out.Description)
	}
	if t := timeField(raw, "created_at"); t != nil {
		out.CreatedAt = *t
	}
	out.LastDataBackup = timeField(raw, "last_data_backup")
	if v, ok := raw["features"]; ok {
		if err := json.Unmarshal(v, &out.Features); err != nil {
			return err
		}
	}
	*c = out
	return nil
}

func (c Collection) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Extra)+5)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["type"], _ = json.Marshal("FeatureCollection")
	if c.Description != "" {
		out["description"], _ = json.Marshal(c.Description)
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	setTime(out, "created_at", &created)
	setTime(out, "last_data_backup", c.LastDataBackup)
	fb, err := json.Marshal(c.Features)
	if err != nil {
		return nil, err
	}
	out["features"] = fb
	return json.Marshal(out)
}

// ByID indexes the features by segment ID.
func (c *Collection) ByID() map[string]*Feature {
	m := make(map[string]*Feature, len(c.Features))
	for _, f := range c.Features {
		if f.Properties != nil && !f.Properties.SegmentID.IsZero() {
			m[f.Properties.SegmentID.String()] = f
		}
	}
	return m
}

// Select restricts the collection to the given IDs (all features when ids
// is empty) and orders the result oldest watermark first, so the most
// stale entities win when a run is capped.
func (c *Collection) Select(ids []string, advanced bool) []*Feature {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*Feature
	for _, f := range c.Features {
		if f.Properties == nil {
			continue
		}
		if len(want) > 0 && !want[f.Properties.SegmentID.String()] {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return watermarkOrEpoch(out[i].Properties, advanced).Before(watermarkOrEpoch(out[j].Properties, advanced))
	})
	return out
}

// Batches splits the features into batches of the given size. A size of
// zero or less yields a single batch.
func Batches(features []*Feature, size int) [][]*Feature {
	if size <= 0 || len(features) == 0 {
		if len(features) == 0 {
			return nil
		}
		return [][]*Feature{features}
	}
	var out [][]*Feature
	for start := 0; start < len(features); start += size {
		end := start + size
		if end > len(features) {
			end = len(features)
		}
		out = append(out, features[start:end])
	}
	return out
}

func watermarkOrEpoch(p *Properties, advanced bool) time.Time {
	if wm := p.Watermark(advanced); wm != nil {
		return *wm
	}
	return time.Unix(0, 0).UTC()
}

// Enricher augments features with external geographic context (street
// names, addresses). The backup pipeline treats it as an opaque service.
type Enricher interface {
	Enrich(ctx context.Context, features []*Feature) error
}
