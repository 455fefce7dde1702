package meta

import (
	"encoding/json"
	"strings"
	"time"
)

// Properties holds the entity attributes the backup engine cares about.
// Upstream metadata carries many more source-specific keys (camera lists,
// datastream maps, OSM annotations); those are preserved verbatim in Extra
// so a load/save cycle never loses information.
type Properties struct {
	SegmentID          ID
	Name               string
	Timezone           string
	Length             *float64   // geodesic segment length in meters
	FirstData          *time.Time // earliest known observation
	LastData           *time.Time // newest observation reported by the source
	LastDataBackup     *time.Time // watermark, basic schema
	LastAdvancedBackup *time.Time // watermark, advanced schema
	LastPropFetch      *time.Time // last property refresh

	Extra map[string]json.RawMessage
}

// knownPropKeys are the keys lifted out of Extra into struct fields.
var knownPropKeys = map[string]bool{
	"segment_id": true, "name": true, "timezone": true, "length_m": true,
	"first_data_package": true, "firstData": true,
	"last_data_package": true, "lastData": true,
	"last_data_backup": true, "last_advanced_backup": true,
	"last_prop_fetch": true,
}

func (p *Properties) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Properties{Extra: make(map[string]json.RawMessage)}
	for k, v := range raw {
		if !knownPropKeys[k] {
			out.Extra[k] = v
		}
	}
	if v, ok := raw["segment_id"]; ok {
		if err := json.Unmarshal(v, &out.SegmentID); err != nil {
			return err
		}
	}
	if v, ok := raw["name"]; ok {
		json.Unmarshal(v, &out.Name)
	}
	if v, ok := raw["timezone"]; ok {
		json.Unmarshal(v, &out.Timezone)
	}
	if v, ok := raw["length_m"]; ok {
		var l float64
		if err := json.Unmarshal(v, &l); err == nil {
			out.Length = &l
		}
	}
	out.FirstData = timeField(raw, "first_data_package", "firstData")
	out.LastData = timeField(raw, "last_data_package", "lastData")
	out.LastDataBackup = timeField(raw, "last_data_backup")
	out.LastAdvancedBackup = timeField(raw, "last_advanced_backup")
	out.LastPropFetch = timeField(raw, "last_prop_fetch")
	*p = out
	return nil
}

func (p Properties) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+8)
	for k, v := range p.Extra {
		out[k] = v
	}
	idb, err := json.Marshal(p.SegmentID)
	if err != nil {
		return nil, err
	}
	out["segment_id"] = idb
	if p.Name != "" {
		out["name"], _ = json.Marshal(p.Name)
	}
	if p.Timezone != "" {
		out["timezone"], _ = json.Marshal(p.Timezone)
	}
	if p.Length != nil {
		out["length_m"], _ = json.Marshal(*p.Length)
	}
	setTime(out, "first_data_package", p.FirstData)
	setTime(out, "last_data_package", p.LastData)
	setTime(out, "last_data_backup", p.LastDataBackup)
	setTime(out, "last_advanced_backup", p.LastAdvancedBackup)
	setTime(out, "last_prop_fetch", p.LastPropFetch)
	return json.Marshal(out)
}

// Watermark returns the backup watermark for the requested schema.
func (p *Properties) Watermark(advanced bool) *time.Time {
	if advanced {
		return p.LastAdvancedBackup
	}
	return p.LastDataBackup
}

// SetWatermark records a successful backup for the requested schema.
func (p *Properties) SetWatermark(advanced bool, t time.Time) {
	u := t.UTC()
	if advanced {
		p.LastAdvancedBackup = &u
	} else {
		p.LastDataBackup = &u
	}
}

// Location resolves the entity timezone, defaulting to Europe/Berlin when
// the property is missing or unknown.
func (p *Properties) Location() *time.Location {
	if p.Timezone != "" {
		if loc, err := time.LoadLocation(p.Timezone); err == nil {
			return loc
		}
	}
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseUTC parses an ISO 8601 timestamp as used throughout the metadata
// files. Empty strings and the pandas "NaT" marker yield nil.
func ParseUTC(s string) *time.Time {
	if s == "" || s == "NaT" {
		return nil
	}
	s = strings.Replace(s, "Z", "+00:00", 1)
	for _, layout := range []string{"2006-01-02T15:04:05.999999999-07:00", "2006-01-02T15:04:05-07:00", "2006-01-02 15:04:05-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func timeField(raw map[string]json.RawMessage, keys ...string) *time.Time {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		if t := ParseUTC(s); t != nil {
			return t
		}
	}
	return nil
}

func setTime(out map[string]json.RawMessage, key string, t *time.Time) {
	if t == nil {
		return
	}
	out[key], _ = json.Marshal(t.UTC().Format("2006-01-02T15:04:05+00:00"))
}
