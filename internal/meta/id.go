package meta

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a segment/station identifier. Upstream APIs use plain integers
// (Telraam, toll sections) or strings (SensorThings site codes); an ID
// remembers which form it was read in so it round-trips through JSON
// unchanged.
type ID struct {
	raw     string
	numeric bool
}

// NewID creates a numeric ID.
func NewID(v int64) ID {
	return ID{raw: strconv.FormatInt(v, 10), numeric: true}
}

// NewStringID creates a string ID.
func NewStringID(s string) ID {
	return ID{raw: s}
}

func (id ID) String() string { return id.raw }

// Int64 returns the numeric value if the ID is numeric.
func (id ID) Int64() (int64, bool) {
	if !id.numeric {
		return 0, false
	}
	v, err := strconv.ParseInt(id.raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (id ID) IsZero() bool { return id.raw == "" }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.raw), nil
	}
	return json.Marshal(id.raw)
}

func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty id")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID{raw: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID{raw: n.String(), numeric: true}
	return nil
}
