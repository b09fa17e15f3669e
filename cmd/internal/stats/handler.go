package stats

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"carads/cmd/internal/auth"
	v1 "carads/contracts/realtime/v1"
)

const maxViewBytes = 4 << 10

// Handler serves the stats endpoints.
//
// POST /api/stats/views is called by the listing service and requires an admin bearer.
type Handler struct {
	tracker  *Tracker
	verifier *auth.Verifier
	log      *slog.Logger
}

// NewHandler returns the HTTP surface of t. A nil verifier disables view recording over HTTP.
func NewHandler(t *Tracker, verifier *auth.Verifier, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{tracker: t, verifier: verifier, log: log}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/stats/today-views", h.handleTodayViews)
	mux.HandleFunc("/api/stats/views", h.handleRecordView)
}

func (h *Handler) handleTodayViews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	n, err := h.tracker.TodayCount(r.Context())
	if err != nil {
		h.log.Error("stats.today.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not count views")
		return
	}
	writeJSON(w, http.StatusOK, v1.CountPayload{Count: n})
}

func (h *Handler) handleRecordView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := h.verifier.RequireAdmin(r, time.Now()); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "valid bearer required")
		return
	}

	var v View
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxViewBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	n, err := h.tracker.RecordView(r.Context(), v)
	if err != nil {
		if errors.Is(err, ErrInvalidView) {
			writeError(w, http.StatusBadRequest, "invalid_view", "ad_id must be positive")
			return
		}
		h.log.Error("stats.view.fail", "ad_id", v.ListingID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not record view")
		return
	}
	writeJSON(w, http.StatusOK, v1.CountPayload{Count: n})
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}
