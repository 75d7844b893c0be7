package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/alert"
	"github.com/JakeFAU/eld-roster-crawler/internal/config"
	"github.com/JakeFAU/eld-roster-crawler/internal/pipeline"
	"github.com/JakeFAU/eld-roster-crawler/internal/roster"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage"
)

type fakeRunner struct {
	mu         sync.Mutex
	summary    pipeline.Summary
	runErr     error
	companies  pipeline.CompaniesSummary
	fetchErr   error
	results    roster.AggregateResult
	resultsErr error
	runs       int
	block      chan struct{}
	started    chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context) (pipeline.Summary, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.block != nil {
		close(f.started)
		select {
		case <-f.block:
		case <-ctx.Done():
			return pipeline.Summary{}, ctx.Err()
		}
	}
	return f.summary, f.runErr
}

func (f *fakeRunner) FetchCompaniesSummary(context.Context) (pipeline.CompaniesSummary, error) {
	return f.companies, f.fetchErr
}

func (f *fakeRunner) Results(context.Context) (roster.AggregateResult, error) {
	return f.results, f.resultsErr
}

type fakeAlerts struct {
	records []alert.Record
	err     error
}

func (f fakeAlerts) List(context.Context) ([]alert.Record, error) {
	return f.records, f.err
}

func newTestServer(runner Runner, alerts AlertLister, opts ...Option) *Server {
	return NewServer(runner, alerts, config.Config{}, zap.NewNop(), opts...)
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Aggregate_Succeeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{summary: pipeline.Summary{
		Success:              true,
		Message:              "All companies and drivers fetched and filtered",
		CompaniesCount:       3,
		ActiveCompaniesCount: 2,
		ExecutionTimeMs:      1234,
	}}
	server := newTestServer(runner, fakeAlerts{})

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/v1/aggregate"},
		{http.MethodGet, "/fetch-all-drivers"},
	} {
		rec := serve(t, server, route.method, route.path)
		require.Equal(t, http.StatusOK, rec.Code, route.path)
		require.JSONEq(t, `{
			"success": true,
			"message": "All companies and drivers fetched and filtered",
			"companiesCount": 3,
			"activeCompaniesCount": 2,
			"executionTimeMs": 1234
		}`, rec.Body.String())
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
	require.Equal(t, 2, runner.runs)
}

func TestServer_Aggregate_Failure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		summary: pipeline.Summary{ExecutionTimeMs: 42},
		runErr:  errors.New("operator authentication: operator auth failed: 401 Unauthorized - <no body>"),
	}
	rec := serve(t, newTestServer(runner, fakeAlerts{}), http.MethodPost, "/v1/aggregate")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{
		"success": false,
		"error": "operator authentication: operator auth failed: 401 Unauthorized - <no body>",
		"executionTimeMs": 42
	}`, rec.Body.String())
}

func TestServer_Aggregate_RejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{})}
	server := newTestServer(runner, fakeAlerts{})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- serve(t, server, http.MethodPost, "/v1/aggregate")
	}()
	<-runner.started

	rec := serve(t, server, http.MethodGet, "/fetch-companies")
	require.Equal(t, http.StatusConflict, rec.Code)

	close(runner.block)
	require.Equal(t, http.StatusOK, (<-done).Code)
}

func TestServer_FetchCompanies(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{companies: pipeline.CompaniesSummary{Message: "Companies fetched, filtered, and saved", Count: 7}}
	server := newTestServer(runner, fakeAlerts{})

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/v1/companies/fetch"},
		{http.MethodGet, "/fetch-companies"},
	} {
		rec := serve(t, server, route.method, route.path)
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"message":"Companies fetched, filtered, and saved","count":7}`, rec.Body.String())
	}

	runner.fetchErr = errors.New("list companies: companies fetch failed: 503 Service Unavailable - <no body>")
	rec := serve(t, server, http.MethodGet, "/fetch-companies")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "companies fetch failed")
}

func TestServer_Results(t *testing.T) {
	t.Parallel()

	name := "Acme"
	runner := &fakeRunner{results: roster.AggregateResult{{
		EldPlatform: "HERO",
		CompanyID:   roster.NumericCompanyID(1),
		Name:        &name,
		Drivers:     []roster.Driver{},
	}}}
	server := newTestServer(runner, fakeAlerts{})

	rec := serve(t, server, http.MethodGet, "/v1/results")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"eldPlatform":"HERO","companyId":1,"name":"Acme","drivers":[]}]`, rec.Body.String())

	runner.resultsErr = storage.ErrNotFound
	rec = serve(t, server, http.MethodGet, "/v1/results")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Alerts(t *testing.T) {
	t.Parallel()

	records := []alert.Record{{Service: "getCompanyToken", Error: "boom", Attempts: 3, Timestamp: "2024-01-01T00:00:00.000Z", AlertID: "a1"}}
	rec := serve(t, newTestServer(&fakeRunner{}, fakeAlerts{records: records}), http.MethodGet, "/v1/alerts")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []alert.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, records, got)

	rec = serve(t, newTestServer(&fakeRunner{}, fakeAlerts{err: errors.New("decode alerts.json")}), http.MethodGet, "/v1/alerts")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, fakeAlerts{})
	require.Equal(t, http.StatusOK, serve(t, server, http.MethodGet, "/healthz").Code)
	require.Equal(t, http.StatusOK, serve(t, server, http.MethodGet, "/readyz").Code)

	rec := serve(t, server, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	failing := newTestServer(&fakeRunner{}, fakeAlerts{}, WithReadinessCheck(func(context.Context) error {
		return errors.New("store unreachable")
	}))
	rec = serve(t, failing, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "store unreachable")
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := NewServer(&fakeRunner{}, fakeAlerts{}, cfg, zap.NewNop())

	rec := serve(t, server, http.MethodGet, "/v1/alerts")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, http.MethodGet, "/v1/alerts?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, serve(t, server, http.MethodGet, "/healthz").Code)
}

func TestServer_CloseCancelsRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{})}
	server := newTestServer(runner, fakeAlerts{})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- serve(t, server, http.MethodPost, "/v1/aggregate")
	}()
	<-runner.started
	server.Close()

	rec := <-done
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "context canceled")
}

func TestRequestIDPropagation(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, fakeAlerts{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
