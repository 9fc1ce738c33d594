package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	anomaly "machine-monitor/internal/anomaly/domain"
	insightapp "machine-monitor/internal/insight/application"
	"machine-monitor/internal/insight/narrative"
	monitorapp "machine-monitor/internal/monitor/application"
	"machine-monitor/internal/observability/metrics"
	"machine-monitor/internal/stream"
)

const cncJSON = `{
  "id": "cnc-1",
  "name": "CNC Mill 1",
  "type": "cnc_mill",
  "normal_ranges": {
    "temperature": {"min": 25, "max": 45},
    "pressure": {"min": 800, "max": 1200},
    "vibration": {"min": 0.1, "max": 2.0},
    "rpm": {"min": 1000, "max": 5000},
    "power_consumption": {"min": 1, "max": 5}
  }%s
}`

func profileJSON(id, source string) string {
	body := strings.Replace(cncJSON, `"cnc-1"`, `"`+id+`"`, 1)
	extra := ""
	if source != "" {
		extra = `, "source": "` + source + `"`
	}
	return strings.Replace(body, "%s", extra, 1)
}

type testServer struct {
	srv    *httptest.Server
	engine *monitorapp.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	metrics.Init()
	scorer, err := anomaly.NewScorer(anomaly.DefaultConfig())
	require.NoError(t, err)
	b := stream.NewBroadcaster(8)
	engine, err := monitorapp.NewEngine(monitorapp.DefaultConfig(), scorer, b)
	require.NoError(t, err)
	gen, err := narrative.NewTemplateGenerator("")
	require.NoError(t, err)
	coord, err := insightapp.NewCoordinator(gen, engine)
	require.NoError(t, err)
	engine.AttachInsight(coord)

	router, err := NewRouter(RouterConfig{Engine: engine, Broadcaster: b, InsightWait: 2 * time.Second})
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		b.Close()
		coord.Close()
	})
	return &testServer{srv: srv, engine: engine}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, s.engine.Tick(context.Background(), time.Now().UTC()))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, body = s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "monitor_machines_registered")
}

func TestMachineLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/machines", profileJSON("cnc-1", ""))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var view map[string]any
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "offline", view["status"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines", profileJSON("cnc-1", ""))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines", `{"id":"x","name":"x","type":"lathe"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/machines/cnc-1/snapshot", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.tick(t)

	resp, body = s.do(t, http.MethodGet, "/api/v1/machines", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "normal", list[0]["status"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/machines/cnc-1/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "cnc-1", snap["machine_id"])
	assert.Equal(t, "normal", snap["status"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/snapshots", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, body = s.do(t, http.MethodGet, "/api/v1/machines/cnc-1/history?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/machines/cnc-1/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, "/api/v1/machines/cnc-1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/machines/cnc-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodDelete, "/api/v1/machines/cnc-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSimulateAndForceInsight(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodPost, "/api/v1/machines", profileJSON("cnc-1", ""))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines/cnc-1/simulate", `{"mode":"spike","parameter":"temperature","factor":1.5,"ticks":3}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines/cnc-1/simulate", `{"mode":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines/cnc-1/simulate", `{"mode":"spike","parameter":"humidity","factor":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	s.tick(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/machines/cnc-1/insight", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var got insightResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "critical", got.Status)
	require.NotEmpty(t, got.Alerts)
	assert.Contains(t, got.Alerts[0], "Temperature anomaly detected")
	require.NotNil(t, got.Insight)
	assert.Equal(t, "template", got.Insight.Provider)
	assert.NotEmpty(t, got.Insight.Narrative.Sections.Action)

	resp, body = s.do(t, http.MethodGet, "/api/v1/machines/cnc-1/insight", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status insightapp.Status
	require.NoError(t, json.Unmarshal(body, &status))
	require.NotNil(t, status.Latest)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines/nope/insight", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/machines/cnc-1/transitions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var journal []map[string]any
	require.NoError(t, json.Unmarshal(body, &journal))
	require.NotEmpty(t, journal)
	assert.Equal(t, "critical", journal[0]["to"])
}

func TestIngestExternalReadings(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodPost, "/api/v1/machines", profileJSON("ext-1", "external"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines", profileJSON("sim-1", ""))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ts := time.Now().UTC().Add(-time.Second).Format(time.RFC3339Nano)
	reading := `{"timestamp":"` + ts + `","temperature":35,"pressure":1000,"vibration":null,"rpm":3000,"power_consumption":3}`
	resp, body := s.do(t, http.MethodPost, "/api/v1/machines/ext-1/readings", reading)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines/ext-1/readings", reading)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "same timestamp is out of order")
	future := time.Now().UTC().AddDate(1, 0, 0).Format(time.RFC3339Nano)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines/ext-1/readings", `{"timestamp":"`+future+`","temperature":35}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines/sim-1/readings", `{"temperature":35}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/machines/ext-1/simulate", `{"mode":"clear"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	s.tick(t)
	resp, body = s.do(t, http.MethodGet, "/api/v1/machines/ext-1/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(body, &snap))
	reading0 := snap["reading"].(map[string]any)
	assert.Nil(t, reading0["vibration"])
	assert.Equal(t, 35.0, reading0["temperature"])
}

func TestReportExports(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodPost, "/api/v1/machines", profileJSON("cnc-1", ""))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	s.tick(t)

	resp, body := s.do(t, http.MethodGet, "/api/v1/reports/fleet.xlsx", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.True(t, bytes.HasPrefix(body, []byte("PK")))

	resp, body = s.do(t, http.MethodGet, "/api/v1/machines/cnc-1/report.pdf", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF-")))

	resp, _ = s.do(t, http.MethodGet, "/api/v1/machines/nope/report.pdf", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewRouterValidatesDependencies(t *testing.T) {
	_, err := NewRouter(RouterConfig{})
	assert.Error(t, err)
}
