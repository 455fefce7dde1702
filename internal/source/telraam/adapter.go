package telraam

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/we-count/trafficbackup/internal/fetch"
	"github.com/we-count/trafficbackup/internal/meta"
)

const requestTimeFormat = "2006-01-02 15:04:05+00:00"

// Adapter fetches traffic reports per segment. Advanced switches to the
// per-quarter reports endpoint with the full vehicle class breakdown,
// which is limited to much shorter request windows upstream.
type Adapter struct {
	Ring     *fetch.TokenRing
	Advanced bool
}

func (a *Adapter) Source() string {
	if a.Advanced {
		return "advanced traffic data"
	}
	return "traffic data"
}

func (a *Adapter) ChunkSize() time.Duration {
	if a.Advanced {
		return 20 * 24 * time.Hour
	}
	return 90 * 24 * time.Hour
}

// Live reports false: camera segments carry an authoritative last-data
// timestamp, so there is nothing to fetch beyond it.
func (a *Adapter) Live() bool { return false }

func (a *Adapter) FetchWindow(ctx context.Context, f *meta.Feature, since, until time.Time) ([]Row, error) {
	req := reportRequest{
		Level:     "segments",
		Format:    "per-hour",
		ID:        f.Properties.SegmentID.String(),
		TimeStart: since.UTC().Format(requestTimeFormat),
		TimeEnd:   until.UTC().Format(requestTimeFormat),
	}
	path := "/v1/reports/traffic"
	if a.Advanced {
		req.Format = "per-quarter"
		req.Columns = advancedColumns
		path = "/v1/advanced/reports/traffic"
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	response, err := a.Ring.Request(ctx, path, "POST", string(payload), "report")
	if err != nil {
		return nil, err
	}
	var entries []reportEntry
	if err := json.Unmarshal(response["report"], &entries); err != nil {
		return nil, fmt.Errorf("%w: report for segment %s: %v", fetch.ErrMalformed, req.ID, err)
	}
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		if e.Uptime <= 0 {
			continue
		}
		if row, ok := newRow(e); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
