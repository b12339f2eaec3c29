package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/skeema/dbctl/internal/apperr"
	"github.com/skeema/dbctl/internal/metadata"
)

// statusString maps an internal metadata.Status to the public enum spec.md
// §6 defines: {starting, running, stopped, archived, destroyed}. "destroyed"
// is never returned by this mapping — a destroyed instance has no metadata
// row left to map, and is reported as 404 instead.
func statusString(s metadata.Status) string {
	switch s {
	case metadata.StatusActive:
		return "running"
	case metadata.StatusArchived:
		return "archived"
	case metadata.StatusRestoring:
		return "starting"
	default:
		return "stopped"
	}
}

type createDbRequest struct {
	Dialect string `json:"dialect"`
	DbID    string `json:"db_id,omitempty"`
}

type createDbResponse struct {
	DbID     string `json:"db_id"`
	Dialect  string `json:"dialect"`
	Status   string `json:"status"`
	Restored *bool  `json:"restored,omitempty"`
}

func (s *Server) createDB(w http.ResponseWriter, r *http.Request) {
	var req createDbRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.Internal, "malformed request body"))
		return
	}

	inst, restored, err := s.manager.GetOrCreate(r.Context(), req.Dialect, req.DbID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := createDbResponse{DbID: inst.DbID, Dialect: inst.Dialect, Status: statusString(inst.Status)}
	if req.DbID != "" {
		resp.Restored = &restored
	}
	writeJSON(w, http.StatusOK, resp)
}

type dbStatusResponse struct {
	DbID            string  `json:"db_id"`
	Dialect         string  `json:"dialect"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	LastActivity    string  `json:"last_activity"`
	ExpiresAt       string  `json:"expires_at,omitempty"`
	BackupAvailable bool    `json:"backup_available"`
	ArchivedAt      *string `json:"archived_at,omitempty"`
}

func (s *Server) getDB(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := s.manager.GetStored(id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := dbStatusResponse{
		DbID:            inst.DbID,
		Dialect:         inst.Dialect,
		Status:          statusString(inst.Status),
		CreatedAt:       inst.CreatedAt,
		LastActivity:    inst.LastActivity,
		BackupAvailable: inst.BackupKey.Valid,
	}
	if inst.Status == metadata.StatusActive {
		expiresAt := inst.LastActivityTime().Add(s.inactivityTimeout)
		resp.ExpiresAt = expiresAt.Format(time.RFC3339Nano)
	}
	if archivedAt, ok := inst.ArchivedAtTime(); ok {
		formatted := archivedAt.Format(time.RFC3339Nano)
		resp.ArchivedAt = &formatted
	}
	writeJSON(w, http.StatusOK, resp)
}

type destroyDbResponse struct {
	DbID   string `json:"db_id"`
	Status string `json:"status"`
}

func (s *Server) destroyDB(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.Destroy(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, destroyDbResponse{DbID: id, Status: "destroyed"})
}

type queryRequest struct {
	Query     string `json:"query"`
	Format    string `json:"format,omitempty"`
	Transport string `json:"transport,omitempty"`
}

func (s *Server) executeQuery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.Internal, "malformed request body"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	format := resolveFormat(req.Format, req.Transport)

	switch format {
	case formatText:
		stdout, stderr, err := s.manager.QueryRaw(ctx, id, req.Query)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(formatRawText(stdout, stderr)))

	case formatJSONL:
		events, err := s.manager.Query(ctx, id, req.Query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeSSE(w, events)

	default:
		events, err := s.manager.Query(ctx, id, req.Query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, collapseEvents(events))
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Docker string `json:"docker"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	dockerStatus := "disconnected"
	if _, err := s.driver.ServerArchitecture(); err == nil {
		dockerStatus = "connected"
	}
	status := "unhealthy"
	if dockerStatus == "connected" {
		status = "healthy"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Docker: dockerStatus})
}

// loggingMiddleware logs every request's method, path, status, and duration
// at info level, following the teacher's general logrus usage pattern
// (structured fields via WithFields) rather than a raw Printf.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
