package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/services/moisture"
)

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestThresholdsRoute(t *testing.T) {
	f := newFixture(t)
	mux := NewHTTPMux(f.engine)

	var th model.MoistureThresholds
	rec := doJSON(t, mux, http.MethodGet, "/moisture/thresholds", "", &th)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 80.0, th.RootZoneSkip)

	th.RootZoneSkip = 85
	buf, _ := json.Marshal(th)
	rec = doJSON(t, mux, http.MethodPut, "/moisture/thresholds", string(buf), &th)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 85.0, th.RootZoneSkip)
	assert.Equal(t, 85.0, f.engine.deps.Moisture.Defaults().RootZoneSkip)

	// wet above skip is rejected and leaves the stored value alone
	th.RootZoneWet = 99
	buf, _ = json.Marshal(th)
	rec = doJSON(t, mux, http.MethodPut, "/moisture/thresholds", string(buf), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 65.0, f.engine.deps.Moisture.Defaults().RootZoneWet)
}

func TestProbeLiveRoute(t *testing.T) {
	f := newFixture(t)
	mux := NewHTTPMux(f.engine)

	var out map[string]moisture.LiveReading
	rec := doJSON(t, mux, http.MethodGet, "/probes/gophr_1/live", "", &out)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, out["mid"].Value)
	assert.Equal(t, 50.0, *out["mid"].Value)
	assert.False(t, out["mid"].Retained)

	f.fake.Set(testProbe.Sensors.Mid, "unavailable")
	rec = doJSON(t, mux, http.MethodGet, "/probes/gophr_1/live", "", &out)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, out["mid"].Value)
	assert.Equal(t, 50.0, *out["mid"].Value)
	assert.True(t, out["mid"].Retained)

	rec = doJSON(t, mux, http.MethodGet, "/probes/ghost/live", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProbeZoneMappingRoutes(t *testing.T) {
	f := newFixture(t)
	mux := NewHTTPMux(f.engine)

	var p model.Probe
	rec := doJSON(t, mux, http.MethodPost, "/probes/gophr_1/zones",
		`{"zone":"switch.irrigator_zone_2"}`, &p)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, p.ZoneMappings, model.EntityRef("switch.irrigator_zone_2"))

	rec = doJSON(t, mux, http.MethodDelete, "/probes/gophr_1/zones/switch.irrigator_zone_2", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	got, _ := f.engine.deps.Moisture.Probe("gophr_1")
	assert.NotContains(t, got.ZoneMappings, model.EntityRef("switch.irrigator_zone_2"))

	rec = doJSON(t, mux, http.MethodPost, "/probes/gophr_1/zones", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
