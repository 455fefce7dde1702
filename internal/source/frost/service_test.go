package frost

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/we-count/trafficbackup/internal/fetch"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Service{Client: fetch.NewClient(1), Base: srv.URL}
}

func TestFetchAll_FollowsNextLink(t *testing.T) {
	var svc *Service
	svc = newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case !r.URL.Query().Has("$skip"):
			if r.URL.Query().Get("$top") != "1000" {
				t.Errorf("missing $top: %s", r.URL.RawQuery)
			}
			fmt.Fprintf(w, `{"value": [{"name": "a"}, {"name": "b"}], "@iot.nextLink": "%s/Things?$skip=2"}`, svc.Base)
		default:
			if r.URL.Query().Get("$skip") != "2" {
				t.Errorf("continuation lost its query: %s", r.URL.RawQuery)
			}
			fmt.Fprint(w, `{"value": [{"name": "c"}]}`)
		}
	})

	things, err := FetchAll[thing](context.Background(), svc, "/Things", nil)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(things) != 3 || things[2].Name != "c" {
		t.Errorf("things = %+v", things)
	}
}

func TestObservations_FilterAndOrder(t *testing.T) {
	var gotFilter, gotOrder string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Datastreams(77)/Observations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotFilter = r.URL.Query().Get("$filter")
		gotOrder = r.URL.Query().Get("$orderby")
		fmt.Fprint(w, `{"value": [{"phenomenonTime": "2024-06-01T10:00:00Z", "result": 12}]}`)
	})

	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	obs, err := svc.Observations(context.Background(), "77", since, since.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Observations: %v", err)
	}
	want := "phenomenonTime ge 2024-06-01T00:00:00Z and phenomenonTime lt 2024-06-02T00:00:00Z"
	if gotFilter != want {
		t.Errorf("filter = %q, want %q", gotFilter, want)
	}
	if gotOrder != "phenomenonTime asc" {
		t.Errorf("orderby = %q", gotOrder)
	}
	if len(obs) != 1 || obs[0].Result != 12 {
		t.Errorf("obs = %+v", obs)
	}
}

func TestObservationTime_IntervalResolvesToStart(t *testing.T) {
	o := Observation{PhenomenonTime: "2024-06-01T10:00:00Z/2024-06-01T11:00:00Z"}
	got, err := o.Time()
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !got.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("time = %v", got)
	}
	if _, err := (Observation{PhenomenonTime: "junk"}).Time(); err == nil {
		t.Error("junk timestamp should fail")
	}
}
