// Copyright 2025 Takhin Data, Inc.

package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/laserkv/laser/pkg/audit"
	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/configstore"
	"github.com/laserkv/laser/pkg/parttable"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := configstore.New(&config.Config{})
	table := parttable.New(parttable.Params{
		Group: "g1", Node: "n1", DC: "dc1",
		ConfigStore: store,
		Log:         zap.NewNop(),
	})
	auditLogger, err := audit.NewLogger(audit.Config{Enabled: false})
	require.NoError(t, err)
	return New("127.0.0.1:0", table, store, auditLogger, zap.NewNop())
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHandleUpdateBaseMissingParams(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/update/base", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpdateBaseNoMonitor(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/update/base?database_name=db&table_name=t&version=v1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotEmpty(t, env.Error)
}

func TestHandleShardListEmpty(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/shard/list", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Equal(t, uint32(0), env.Code)
}

func TestHandleShardUnavailable(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`[1,2,3]`)
	req := httptest.NewRequest(http.MethodPost, "/shard/unavailable", body)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, s.table.UnavailableShardCount())
}

func TestHandleShardUnavailableBadBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/shard/unavailable", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMonitorSwitch(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/monitor/switch?switch_flag=disable", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, s.table.MonitorsEnabled())

	req = httptest.NewRequest(http.MethodPost, "/monitor/switch?switch_flag=enable", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, s.table.MonitorsEnabled())
}

func TestHandleMonitorSwitchBadFlag(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/monitor/switch?switch_flag=sideways", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCleanPartitions(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/clean/partitions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleUpdateConfigsManualOverride(t *testing.T) {
	s := newTestServer(t)
	form := strings.NewReader("config_name=manual_override&config_data=true")
	req := httptest.NewRequest(http.MethodPost, "/update/configs", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, s.store.ManualOverride())
}

func TestHandleUpdateConfigsUnknownName(t *testing.T) {
	s := newTestServer(t)
	form := strings.NewReader("config_name=bogus&config_data=x")
	req := httptest.NewRequest(http.MethodPost, "/update/configs", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpdateConfigsTrafficRestriction(t *testing.T) {
	s := newTestServer(t)
	payload := `{"db.t":{"single.operation.qps.limit":{"get":100}}}`
	form := strings.NewReader("config_name=traffic_restriction&config_data=" + strings.ReplaceAll(payload, "\"", "%22"))
	req := httptest.NewRequest(http.MethodPost, "/update/configs", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	limits := s.store.TrafficRestriction()
	require.Contains(t, limits, "db.t")
}
