package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"campusnav/presence-server/internal/model"
	"campusnav/presence-server/internal/store"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/api/locations", a.handleLocations)
	mux.HandleFunc("/api/locations/", a.handleLocationByID)
	mux.HandleFunc("/api/faculty", a.handleFaculty)
	mux.HandleFunc("/api/faculty/location", a.handleFacultyLocation)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/admin/wipe", a.handleWipeDatabase)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports the transport and storage connectivity booleans
// consumed by deployment probes and the status screen.
func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	mqttUp := a.mqttConnected()
	storageUp := a.storageConnected(r.Context())

	status := http.StatusOK
	state := "ready"
	if !mqttUp || !storageUp {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":            state,
		"mqtt_connected":    mqttUp,
		"storage_connected": storageUp,
	})
}

func (a *App) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := timeoutContext(r)
	defer cancel()

	records, err := a.store.LatestLocations(ctx)
	if err != nil {
		a.logger.Error("failed to load locations", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	if records == nil {
		records = []model.LocationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": records})
}

// handleLocationByID looks up the raw faculty id, bypassing the directory.
// A 404 here means "never detected", not "unknown person".
func (a *App) handleLocationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	facultyID := strings.TrimPrefix(r.URL.Path, "/api/locations/")
	if facultyID == "" || strings.Contains(facultyID, "/") {
		writeError(w, http.StatusBadRequest, "faculty id required")
		return
	}

	ctx, cancel := timeoutContext(r)
	defer cancel()

	record, err := a.store.GetLocation(ctx, facultyID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no tracking data")
		return
	}
	if err != nil {
		a.logger.Error("failed to load location", "faculty", facultyID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (a *App) handleFaculty(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listFaculty(w, r)
	case http.MethodPost:
		a.upsertFaculty(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) listFaculty(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeoutContext(r)
	defer cancel()

	members, err := a.store.ListFaculty(ctx)
	if err != nil {
		a.logger.Error("failed to load faculty", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	if members == nil {
		members = []model.FacultyMember{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"faculty": members})
}

func (a *App) upsertFaculty(w http.ResponseWriter, r *http.Request) {
	var m model.FacultyMember
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	m.FacultyID = strings.TrimSpace(m.FacultyID)
	m.Name = strings.TrimSpace(m.Name)
	if m.FacultyID == "" || m.Name == "" {
		writeError(w, http.StatusBadRequest, "facultyId and name are required")
		return
	}

	ctx, cancel := timeoutContext(r)
	defer cancel()

	if err := a.store.UpsertFaculty(ctx, m); err != nil {
		a.logger.Error("failed to upsert faculty", "faculty", m.FacultyID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// facultyLocationResponse is the shape consumed by the chat and mobile
// directory collaborators.
type facultyLocationResponse struct {
	FacultyID  string    `json:"facultyId"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	Room       string    `json:"room"`
	ScannerID  string    `json:"scannerId"`
	RSSI       int       `json:"rssi"`
	LastSeen   time.Time `json:"lastSeen"`
}

// handleFacultyLocation resolves a human-facing identity through the
// directory, then looks up tracking state. "faculty not found" and
// "no tracking data" are distinct outcomes by contract.
func (a *App) handleFacultyLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if name == "" && id == "" {
		writeError(w, http.StatusBadRequest, "name or id query parameter required")
		return
	}

	ctx, cancel := timeoutContext(r)
	defer cancel()

	var (
		member model.FacultyMember
		err    error
	)
	if id != "" {
		member, err = a.store.FacultyByID(ctx, id)
	} else {
		member, err = a.store.FacultyByName(ctx, name)
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "faculty not found")
		return
	}
	if err != nil {
		a.logger.Error("failed to resolve faculty", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	record, err := a.store.GetLocation(ctx, member.FacultyID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no tracking data")
		return
	}
	if err != nil {
		a.logger.Error("failed to load location", "faculty", member.FacultyID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	writeJSON(w, http.StatusOK, facultyLocationResponse{
		FacultyID:  member.FacultyID,
		Name:       member.Name,
		Department: member.Department,
		Room:       record.Room,
		ScannerID:  record.ScannerID,
		RSSI:       record.RSSI,
		LastSeen:   record.LastSeen,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"http_port":       a.cfg.HTTPPort,
		"mqtt_broker_url": a.cfg.MQTTBrokerURL,
		"mqtt_bind":       a.cfg.MQTTBindAddress,
		"database_path":   a.cfg.DatabasePath,
		"log_level":       a.cfg.LogLevel,
		"mdns_enabled":    a.cfg.MDNSEnabled,
	})
}

func (a *App) handleWipeDatabase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Confirm string `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if strings.ToLower(strings.TrimSpace(body.Confirm)) != "wipe" {
		writeError(w, http.StatusBadRequest, "confirmation required")
		return
	}

	ctx, cancel := timeoutContext(r)
	defer cancel()

	if err := a.store.WipeData(ctx); err != nil {
		a.logger.Error("wipe: failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to wipe data")
		return
	}

	a.logger.Warn("wipe: all tracking data cleared")
	w.WriteHeader(http.StatusNoContent)
}

func timeoutContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 2*time.Second)
}
