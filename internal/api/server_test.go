package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/org-contact-crawler/internal/progress"
	"github.com/JakeFAU/org-contact-crawler/internal/progress/sinks"
)

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	t.Parallel()

	healthy := NewServer(nil, WithReadinessCheck("db", func(context.Context) error { return nil }))
	require.Equal(t, http.StatusOK, serve(t, healthy, "/readyz").Code)

	broken := NewServer(nil,
		WithReadinessCheck("db", func(context.Context) error { return nil }),
		WithReadinessCheck("blob", func(context.Context) error { return errors.New("bucket missing") }),
	)
	rec := serve(t, broken, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Failures map[string]string `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"blob": "bucket missing"}, body.Failures)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	_ = serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRunRoutes(t *testing.T) {
	t.Parallel()

	status := sinks.NewStatusSink(2)
	require.NoError(t, status.Consume(context.Background(), []progress.Event{
		{RunID: "run-9", TS: time.Now(), Stage: progress.StageRunStart, Pages: 4},
	}))
	s := NewServer(nil, WithRunStatus(status))

	rec := serve(t, s, "/v1/runs/run-9")
	require.Equal(t, http.StatusOK, rec.Code)
	var run sinks.RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, 4, run.Sites)

	require.Equal(t, http.StatusNotFound, serve(t, s, "/v1/runs/unknown").Code)

	rec = serve(t, s, "/v1/runs/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "run-9")

	require.Equal(t, http.StatusNotFound, serve(t, NewServer(nil), "/v1/runs/").Code)
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	s := NewServer(nil)
	s.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := serve(t, s, "/boom")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil).ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
