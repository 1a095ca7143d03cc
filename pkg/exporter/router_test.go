package exporter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaptec-community/go-zaptec/pkg/zaptec"
)

func newTestRouter(t *testing.T, client *zaptec.Client) *Router {
	t.Helper()
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(client))
	return NewRouter(client, registry)
}

func doRequest(t *testing.T, r *Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	client := newBuiltClient(t, &zaptec.Options{DisableRedaction: true})
	r := newTestRouter(t, client)

	w := doRequest(t, r, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.Built)
	assert.Equal(t, 1, resp.Chargers)
}

func TestHealthDegraded(t *testing.T) {
	client := zaptec.NewClient("user", "pass", nil)
	r := newTestRouter(t, client)

	w := doRequest(t, r, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Built)
}

func TestMetricsEndpoint(t *testing.T) {
	client := newBuiltClient(t, &zaptec.Options{DisableRedaction: true})
	r := newTestRouter(t, client)

	w := doRequest(t, r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "zaptec_up 1")
	assert.Contains(t, body, "zaptec_charger_info")
	assert.Contains(t, body, `charger_name="Left"`)
}

func TestListInstallations(t *testing.T) {
	client := newBuiltClient(t, &zaptec.Options{DisableRedaction: true})
	r := newTestRouter(t, client)

	w := doRequest(t, r, "/installations")
	require.Equal(t, http.StatusOK, w.Code)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, instID, items[0]["id"])
	assert.Equal(t, "Home", items[0]["name"])
	assert.Equal(t, "TN_3_Phase", items[0]["network_type"])
	assert.Equal(t, "Native", items[0]["authentication_type"])
	assert.Equal(t, 1.0, items[0]["chargers"])
}

func TestListChargers(t *testing.T) {
	client := newBuiltClient(t, &zaptec.Options{DisableRedaction: true})
	client.Chargers()[0].SetAttributes(map[string]any{"ChargerOperationMode": 3})
	r := newTestRouter(t, client)

	w := doRequest(t, r, "/chargers")
	require.Equal(t, http.StatusOK, w.Code)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, chargerID, items[0]["id"])
	assert.Equal(t, "Left", items[0]["name"])
	assert.Equal(t, "Zaptec Go", items[0]["model"])
	assert.Equal(t, "Connected_Charging", items[0]["operation_mode"])
	assert.Equal(t, instID, items[0]["installation_id"])
	assert.Equal(t, true, items[0]["online"])
}

func TestGetCharger(t *testing.T) {
	client := newBuiltClient(t, &zaptec.Options{DisableRedaction: true})
	r := newTestRouter(t, client)

	w := doRequest(t, r, "/chargers/"+chargerID)
	require.Equal(t, http.StatusOK, w.Code)

	var attrs map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &attrs))
	assert.Equal(t, "zap123456", attrs["device_id"])
	assert.Equal(t, "Garage", attrs["circuit_name"])
	assert.Equal(t, "Apollo", attrs["device_type"])

	// Installations are not served on the charger endpoint.
	w = doRequest(t, r, "/chargers/"+instID)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, r, "/chargers/deadbeef")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiagnostics(t *testing.T) {
	client := newBuiltClient(t, &zaptec.Options{DisableRedaction: true})
	r := newTestRouter(t, client)

	w := doRequest(t, r, "/diagnostics")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Built   bool                      `json:"built"`
		Objects map[string]map[string]any `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Built)
	require.Contains(t, resp.Objects, "Installation[111111]")
	require.Contains(t, resp.Objects, "Charger[ee0001]")
	assert.Equal(t, "Home", resp.Objects["Installation[111111]"]["name"])
}

// With redaction active every registered id leaving the process is
// replaced by its placeholder.
func TestRedactedOutput(t *testing.T) {
	client := newBuiltClient(t, nil)
	r := newTestRouter(t, client)

	w := doRequest(t, r, "/chargers")
	require.Equal(t, http.StatusOK, w.Code)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "<--Charger[ee0001]-->", items[0]["id"])
	assert.Equal(t, "<--Inst[111111]-->", items[0]["installation_id"])

	// Names are registered as secrets while attributes are merged, so
	// they get numbered placeholders.
	name, _ := items[0]["name"].(string)
	assert.NotEqual(t, "Left", name)
	assert.True(t, strings.HasPrefix(name, "<--Redact #"), "name %q is not redacted", name)

	// The registry is keyed by raw ids, redaction only affects output.
	w = doRequest(t, r, "/chargers/"+chargerID)
	require.Equal(t, http.StatusOK, w.Code)

	var attrs map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &attrs))
	assert.Equal(t, "<--Charger[ee0001]-->", attrs["id"])
}

func TestRequestIDHeader(t *testing.T) {
	client := newBuiltClient(t, &zaptec.Options{DisableRedaction: true})
	r := newTestRouter(t, client)

	w := doRequest(t, r, "/health")
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "upstream-id-7")
	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	assert.Equal(t, "upstream-id-7", w.Header().Get("X-Request-Id"))
}
