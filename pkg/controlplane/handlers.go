// Copyright 2025 Takhin Data, Inc.

package controlplane

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/laserkv/laser/pkg/audit"
	"github.com/laserkv/laser/pkg/config"
	"github.com/laserkv/laser/pkg/lasererr"
)

// envelope is the response shape every control-plane handler writes:
// {Code, Error, Data}.
type envelope struct {
	Code  uint32      `json:"Code"`
	Error string      `json:"Error"`
	Data  interface{} `json:"Data,omitempty"`
}

func respond(w http.ResponseWriter, status int, code lasererr.Code, data interface{}) {
	msg := ""
	if code != lasererr.OK {
		msg = code.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Code: uint32(code), Error: msg, Data: data})
}

func respondOK(w http.ResponseWriter, data interface{}) {
	respond(w, http.StatusOK, lasererr.OK, data)
}

func respondErr(w http.ResponseWriter, status int, code lasererr.Code) {
	respond(w, status, code, nil)
}

// principal identifies the caller for audit purposes. There is no
// authentication layer in front of this server (the design leaves the RPC
// framework, and by extension any auth it might carry, opaque); a reverse
// proxy terminating auth is expected to forward the actor in this header.
func principal(r *http.Request) string {
	if p := r.Header.Get("X-Laser-Principal"); p != "" {
		return p
	}
	return "anonymous"
}

func (s *Server) logAudit(event *audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(event); err != nil {
		s.log.Warn("audit log write failed", zap.Error(err))
	}
}

// handleUpdateBase implements POST /update/base?database_name&table_name&version.
func (s *Server) handleUpdateBase(w http.ResponseWriter, r *http.Request) {
	db := r.URL.Query().Get("database_name")
	table := r.URL.Query().Get("table_name")
	version := r.URL.Query().Get("version")
	if db == "" || table == "" || version == "" {
		respondErr(w, http.StatusBadRequest, lasererr.ValueTypeInvalid)
		return
	}

	ok := s.table.TriggerBase(db, table, version)
	var opErr error
	if !ok {
		opErr = lasererr.New(lasererr.NoPartition, "no monitor for "+db+"."+table)
	}
	if s.audit != nil {
		_ = s.audit.LogIngestTrigger(audit.EventTypeBaseLoad, principal(r), r.RemoteAddr, db, table, version, opErr)
	}
	if !ok {
		respondErr(w, http.StatusNotFound, lasererr.NoPartition)
		return
	}
	respondOK(w, nil)
}

// handleUpdateDelta implements
// POST /update/delta?database_name&table_name&version&delta_versions=v1,v2.
func (s *Server) handleUpdateDelta(w http.ResponseWriter, r *http.Request) {
	db := r.URL.Query().Get("database_name")
	table := r.URL.Query().Get("table_name")
	base := r.URL.Query().Get("version")
	rawDeltas := r.URL.Query().Get("delta_versions")
	if db == "" || table == "" || base == "" || rawDeltas == "" {
		respondErr(w, http.StatusBadRequest, lasererr.ValueTypeInvalid)
		return
	}
	deltas := strings.Split(rawDeltas, ",")

	ok := s.table.TriggerDelta(db, table, base, deltas)
	var opErr error
	if !ok {
		opErr = lasererr.New(lasererr.NoPartition, "no monitor for "+db+"."+table)
	}
	if s.audit != nil {
		_ = s.audit.LogIngestTrigger(audit.EventTypeDeltaLoad, principal(r), r.RemoteAddr, db, table, rawDeltas, opErr)
	}
	if !ok {
		respondErr(w, http.StatusNotFound, lasererr.NoPartition)
		return
	}
	respondOK(w, nil)
}

// handleUpdateBaseReplication implements
// POST /update/base_replication?database_name&table_name.
func (s *Server) handleUpdateBaseReplication(w http.ResponseWriter, r *http.Request) {
	db := r.URL.Query().Get("database_name")
	table := r.URL.Query().Get("table_name")
	if db == "" || table == "" {
		respondErr(w, http.StatusBadRequest, lasererr.ValueTypeInvalid)
		return
	}

	ok := s.table.TriggerBaseDataReplication(db, table)
	var opErr error
	if !ok {
		opErr = lasererr.New(lasererr.NoPartition, "no monitor for "+db+"."+table)
	}
	if s.audit != nil {
		_ = s.audit.LogIngestTrigger(audit.EventTypeForceReplication, principal(r), r.RemoteAddr, db, table, "", opErr)
	}
	if !ok {
		respondErr(w, http.StatusNotFound, lasererr.NoPartition)
		return
	}
	respondOK(w, nil)
}

// handleDBMeta implements GET /db/meta?database_name&table_name.
func (s *Server) handleDBMeta(w http.ResponseWriter, r *http.Request) {
	db := r.URL.Query().Get("database_name")
	table := r.URL.Query().Get("table_name")
	if db == "" || table == "" {
		respondErr(w, http.StatusBadRequest, lasererr.ValueTypeInvalid)
		return
	}

	info, ok := s.table.GetTableMetaInfo(db, table)
	if !ok {
		respondErr(w, http.StatusNotFound, lasererr.NotFound)
		return
	}
	respondOK(w, info)
}

// handleShardList implements GET /shard/list.
func (s *Server) handleShardList(w http.ResponseWriter, r *http.Request) {
	respondOK(w, s.table.GetShardMetaInfo())
}

// handleShardUnavailable implements POST /shard/unavailable with a JSON
// array of shard ids as the body.
func (s *Server) handleShardUnavailable(w http.ResponseWriter, r *http.Request) {
	var shardIDs []uint32
	if err := json.NewDecoder(r.Body).Decode(&shardIDs); err != nil {
		respondErr(w, http.StatusBadRequest, lasererr.ValueTypeInvalid)
		return
	}

	err := s.table.SetUnavailableShards(shardIDs)
	if s.audit != nil {
		_ = s.audit.LogShardUnavailable(principal(r), r.RemoteAddr, shardIDs, err)
	}
	if err != nil {
		respondErr(w, http.StatusInternalServerError, lasererr.Unknown)
		return
	}
	respondOK(w, nil)
}

// handleCleanPartitions implements POST /clean/partitions.
func (s *Server) handleCleanPartitions(w http.ResponseWriter, r *http.Request) {
	removed := s.table.CleanStale()
	s.logAudit(&audit.Event{
		EventType: audit.EventTypeCleanPartitions,
		Severity:  audit.SeverityInfo,
		Principal: principal(r),
		Host:      r.RemoteAddr,
		Operation: "clean_partitions",
		Result:    "success",
		Metadata:  map[string]interface{}{"removed_count": len(removed)},
	})
	respondOK(w, removed)
}

// handleMonitorSwitch implements POST /monitor/switch?switch_flag=enable|disable.
func (s *Server) handleMonitorSwitch(w http.ResponseWriter, r *http.Request) {
	flag := r.URL.Query().Get("switch_flag")
	var on bool
	switch flag {
	case "enable":
		on = true
	case "disable":
		on = false
	default:
		respondErr(w, http.StatusBadRequest, lasererr.ValueTypeInvalid)
		return
	}

	s.table.MonitorSwitch(on)
	s.logAudit(&audit.Event{
		EventType: audit.EventTypeMonitorSwitch,
		Severity:  audit.SeverityWarning,
		Principal: principal(r),
		Host:      r.RemoteAddr,
		Operation: "monitor_switch",
		Result:    "success",
		Metadata:  map[string]interface{}{"switch_flag": flag},
	})
	respondOK(w, nil)
}

// handleUpdateConfigs implements POST /update/configs: a form body of
// config_name and config_data, routed to configstore.Store.ApplyManual or
// SetManualOverride depending on config_name (the design, §4.3's
// apply_manual). config_data is JSON; since the target types carry koanf
// tags for their normal flat-file loading path rather than json tags,
// encoding/json's case-insensitive field matching is relied on instead —
// adequate for the hand-authored payloads this endpoint is meant for, not
// a general substitute for the koanf-loaded path.
func (s *Server) handleUpdateConfigs(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondErr(w, http.StatusBadRequest, lasererr.ValueTypeInvalid)
		return
	}
	configName := r.FormValue("config_name")
	configData := r.FormValue("config_data")

	var opErr error
	switch configName {
	case "manual_override":
		on, err := strconv.ParseBool(configData)
		if err != nil {
			opErr = lasererr.New(lasererr.ValueTypeInvalid, "config_data must be a bool")
			break
		}
		s.store.SetManualOverride(on)
	case "schema":
		var schema config.SchemaData
		if err := json.Unmarshal([]byte(configData), &schema); err != nil {
			opErr = lasererr.Wrap(lasererr.UnionDataTypeInvalid, "decode schema", err)
			break
		}
		s.store.ApplyManual(map[string]any{"schema": schema})
	case "cluster":
		var cluster config.ClusterInfoData
		if err := json.Unmarshal([]byte(configData), &cluster); err != nil {
			opErr = lasererr.Wrap(lasererr.UnionDataTypeInvalid, "decode cluster", err)
			break
		}
		s.store.ApplyManual(map[string]any{"cluster": cluster})
	case "traffic_restriction":
		var traffic map[string]config.TrafficLimits
		if err := json.Unmarshal([]byte(configData), &traffic); err != nil {
			opErr = lasererr.Wrap(lasererr.UnionDataTypeInvalid, "decode traffic_restriction", err)
			break
		}
		s.store.ApplyManual(map[string]any{"traffic_restriction": traffic})
	case "rocksdb_profiles":
		var profiles map[string]config.TuningOptions
		if err := json.Unmarshal([]byte(configData), &profiles); err != nil {
			opErr = lasererr.Wrap(lasererr.UnionDataTypeInvalid, "decode rocksdb_profiles", err)
			break
		}
		s.store.ApplyManual(map[string]any{"rocksdb_profiles": profiles})
	case "table_profiles":
		var profiles map[string]config.TuningOptions
		if err := json.Unmarshal([]byte(configData), &profiles); err != nil {
			opErr = lasererr.Wrap(lasererr.UnionDataTypeInvalid, "decode table_profiles", err)
			break
		}
		s.store.ApplyManual(map[string]any{"table_profiles": profiles})
	default:
		opErr = lasererr.New(lasererr.ValueTypeInvalid, "unknown config_name "+configName)
	}

	if s.audit != nil {
		_ = s.audit.LogManualOverride(principal(r), r.RemoteAddr, configName, opErr)
	}
	if opErr != nil {
		respondErr(w, http.StatusBadRequest, lasererr.CodeOf(opErr))
		return
	}
	respondOK(w, nil)
}
