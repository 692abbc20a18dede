// Package api provides HTTP handlers for WhatsFlow endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/BTreeMap/WhatsFlow/internal/models"
	"github.com/BTreeMap/WhatsFlow/internal/store"
)

// internalErrorBody is sent when a response cannot be encoded.
const internalErrorBody = `{"status":"error","message":"Internal server error"}`

// respond encodes resp and writes it with status. An unencodable result becomes a 500.
func respond(w http.ResponseWriter, status int, resp models.APIResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Server.respond: failed to encode response", "status", status, "error", err)
		body, status = []byte(internalErrorBody), http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Debug("Server.respond: client went away", "error", err)
	}
}

// allowOnly answers 405 and reports false unless r uses method.
func allowOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

// healthHandler reports service status and the result of each dependency check.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultHealthTimeout)
	defer cancel()

	healthy := true
	checks := make(map[string]string, len(s.healthChecks))
	for name, check := range s.healthChecks {
		if err := check(ctx); err != nil {
			slog.Warn("Server.healthHandler: dependency check failed", "check", name, "error", err)
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}
	if s.activeMailboxes != nil {
		healthData["active_conversations"] = s.activeMailboxes()
	}

	if !healthy {
		healthData["status"] = "degraded"
		respond(w, http.StatusServiceUnavailable, models.APIResponse{
			Status:  string(models.APIStatusError),
			Message: "One or more dependencies are unavailable",
			Result:  healthData,
		})
		return
	}
	respond(w, http.StatusOK, models.Success(healthData))
}

// appointmentsHandler lists completed appointment records, newest first.
// An optional sender query parameter restricts the list to one sender.
func (s *Server) appointmentsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	if s.records == nil {
		respond(w, http.StatusNotImplemented, models.Error(store.ErrRecordsUnsupported.Error()))
		return
	}

	rows, err := s.records.GetRecords(r.Context())
	if errors.Is(err, store.ErrRecordsUnsupported) {
		respond(w, http.StatusNotImplemented, models.Error(err.Error()))
		return
	}
	if err != nil {
		slog.Error("Server.appointmentsHandler: failed to load records", "error", err)
		respond(w, http.StatusInternalServerError, models.Error("Failed to load appointment records"))
		return
	}

	sender := r.URL.Query().Get("sender")
	records := make([]models.AppointmentRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := models.AppointmentRecordFromValues(row)
		if err != nil {
			slog.Warn("Server.appointmentsHandler: skipping malformed record", "row", i, "error", err)
			continue
		}
		if sender != "" && rec.SenderID != sender {
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CompletedAt.After(records[j].CompletedAt)
	})

	slog.Debug("Server.appointmentsHandler: records listed", "count", len(records), "sender", sender)
	respond(w, http.StatusOK, models.SuccessWithMessage(strconv.Itoa(len(records))+" appointment records", records))
}

// statusRecorder captures the status code written by a wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// countWebhook records each webhook request by transport and response status.
func (s *Server) countWebhook(transport string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordWebhook(transport, strconv.Itoa(rec.status))
	})
}
