package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildlead/dsa-harvester/internal/classify"
	"github.com/buildlead/dsa-harvester/internal/config"
	"github.com/buildlead/dsa-harvester/internal/job"
	"github.com/buildlead/dsa-harvester/internal/store"
	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// fakeNav serves a one-district, two-project hierarchy.
type fakeNav struct {
	detailGate chan struct{}
}

func (f *fakeNav) EnumerateDistricts(_ context.Context, countyID string) []tracker.DistrictRef {
	return []tracker.DistrictRef{
		{ClientID: "200", DistrictCode: "34-10", DistrictName: "River Unified", CountyID: countyID},
	}
}

func (f *fakeNav) EnumerateProjects(_ context.Context, clientID string) []tracker.ProjectSummary {
	return []tracker.ProjectSummary{
		{OriginID: "02", AppID: "100", ProjectName: "Gym", ClientID: clientID},
		{OriginID: "02", AppID: "101", ProjectName: "Library", ClientID: clientID},
	}
}

func (f *fakeNav) FetchDetails(ctx context.Context, originID, appID string) tracker.Record {
	if f.detailGate != nil {
		select {
		case <-f.detailGate:
		case <-ctx.Done():
			return tracker.Record{}
		}
	}
	return tracker.Record{
		tracker.KeyOriginID:     originID,
		tracker.KeyAppID:        appID,
		tracker.KeyEstimatedAmt: "$2,500,000",
		tracker.KeyReceivedDate: "2024-03-01",
		"Office ID":             "SAC-02",
	}
}

type serverFixture struct {
	server *Server
	store  *store.Store
}

func newFixture(t *testing.T, mutate func(*config.Config), nav job.SiteNavigator) *serverFixture {
	t.Helper()
	st, err := store.New(store.Config{Path: ":memory:"}, &classify.WeightedScorer{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSec: 30},
		Site:   config.SiteConfig{BaseURL: "https://tracker.example.gov/", TimeoutSeconds: 10},
		Store:  config.StoreConfig{Path: ":memory:"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if nav == nil {
		nav = &fakeNav{}
	}
	controller := job.NewController(st, nav, job.Config{}, nil)
	return &serverFixture{
		server: NewServer(st, controller, cfg, nil),
		store:  st,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) waitJobTerminal(t *testing.T, jobID int64) map[string]any {
	t.Helper()
	var payload map[string]any
	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d", jobID), nil)
		if rec.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		j := payload["job"].(map[string]any)
		status := tracker.JobStatus(j["status"].(string))
		return status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return payload["job"].(map[string]any)
}

func TestServer_HealthAndReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil).Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_StartJobLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/v1/jobs", map[string]string{"county_id": "34"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Sacramento", resp["county"])
	jobID := int64(resp["job_id"].(float64))

	j := f.waitJobTerminal(t, jobID)
	require.Equal(t, string(tracker.JobStatusCompleted), j["status"])
	require.Equal(t, float64(2), j["total"])
	require.Equal(t, j["total"], j["processed"])

	n, err := f.store.ProjectCount()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestServer_StartJobValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	require.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/v1/jobs", map[string]string{}).Code)
	require.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPost, "/v1/jobs", map[string]string{"county_id": "99"}).Code)

	require.NoError(t, f.store.SetCountyEnabled("19", false))
	require.Equal(t, http.StatusConflict,
		f.do(t, http.MethodPost, "/v1/jobs", map[string]string{"county_id": "19"}).Code)
}

func TestServer_SecondStartConflictsAndCancel(t *testing.T) {
	t.Parallel()
	nav := &fakeNav{detailGate: make(chan struct{})}
	f := newFixture(t, nil, nav)

	rec := f.do(t, http.MethodPost, "/v1/jobs", map[string]string{"county_id": "34"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	jobID := int64(resp["job_id"].(float64))

	require.Equal(t, http.StatusConflict,
		f.do(t, http.MethodPost, "/v1/jobs", map[string]string{"county_id": "19"}).Code)

	rec = f.do(t, http.MethodPost, "/v1/jobs/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	j := f.waitJobTerminal(t, jobID)
	require.Equal(t, string(tracker.JobStatusStopped), j["status"])

	require.Equal(t, http.StatusConflict,
		f.do(t, http.MethodPost, "/v1/jobs/cancel", nil).Code,
		"cancelling with nothing running conflicts")
}

func TestServer_JobStatusErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/jobs/42", nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/jobs/abc", nil).Code)
}

func TestServer_CategoriesAndStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	require.NoError(t, f.store.SaveProject(tracker.Record{
		tracker.KeyOriginID:     "02",
		tracker.KeyAppID:        "100",
		tracker.KeyProjectName:  "Science Wing",
		tracker.KeyEstimatedAmt: "$2,500,000",
		tracker.KeyReceivedDate: "2024-03-01",
	}))

	rec := f.do(t, http.MethodGet, "/v1/categories/strongLeads/projects?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["count"])

	require.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodGet, "/v1/categories/bogus/projects", nil).Code)

	rec = f.do(t, http.MethodGet, "/v1/categories/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "strongLeads")

	rec = f.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["total_projects"])
}

func TestServer_RulesRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodGet, "/v1/rules/strongLeads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "new construction")

	rec = f.do(t, http.MethodPut, "/v1/rules/strongLeads", map[string]any{
		"min_amount":     5000000,
		"received_after": "2025-01-01",
		"keywords":       []string{"stadium"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rule, err := f.store.Rule(tracker.CategoryStrongLeads)
	require.NoError(t, err)
	require.Equal(t, int64(5_000_000), rule.MinAmount)
	require.Equal(t, []string{"stadium"}, rule.Keywords)

	require.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPut, "/v1/rules/bogus", map[string]any{"min_amount": 1}).Code)
	require.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPut, "/v1/rules/strongLeads",
			map[string]any{"received_after": "not-a-date"}).Code)

	rec = f.do(t, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Recategorize(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	require.NoError(t, f.store.SaveProject(tracker.Record{
		tracker.KeyOriginID:     "02",
		tracker.KeyAppID:        "100",
		tracker.KeyEstimatedAmt: "$2,500,000",
		tracker.KeyReceivedDate: "2024-03-01",
	}))

	rec := f.do(t, http.MethodPost, "/v1/recategorize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"recategorized":1`)
}

func TestServer_Counties(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodGet, "/v1/counties", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["counties"], 58)

	rec = f.do(t, http.MethodPut, "/v1/counties/34", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	county, err := f.store.CountyByCode("34")
	require.NoError(t, err)
	require.False(t, county.Enabled)

	require.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPut, "/v1/counties/99", map[string]bool{"enabled": true}).Code)
}

func TestServer_ExportCSV(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodGet, "/v1/export.csv", nil)
	require.Equal(t, http.StatusNotFound, rec.Code, "empty store has nothing to export")

	require.NoError(t, f.store.SaveProject(tracker.Record{
		tracker.KeyOriginID:     "02",
		tracker.KeyAppID:        "100",
		tracker.KeyProjectName:  "Science Wing",
		tracker.KeyEstimatedAmt: "$2,500,000",
		tracker.KeyReceivedDate: "2024-03-01",
	}))

	rec = f.do(t, http.MethodGet, "/v1/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	require.Contains(t, rec.Body.String(), "Science Wing")

	rec = f.do(t, http.MethodGet, "/v1/export.csv?min_estimated_amount=5000000", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/export.csv?min_estimated_amount=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/export.csv?received_after=2024-03-01", nil)
	require.Equal(t, http.StatusNotFound, rec.Code,
		"a received date equal to the cutoff is excluded")
}

func TestServer_APIKeyAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	}, nil)

	rec := f.do(t, http.MethodGet, "/v1/counties", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/counties", nil)
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	rec = f.do(t, http.MethodGet, "/v1/counties?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
