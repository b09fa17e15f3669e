package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"carads/cmd/internal/auth"
	v1 "carads/contracts/realtime/v1"
)

const (
	maxDomainEventBytes = 64 << 10

	audienceAdmin = "admin"
)

// DomainEvent is a change reported by the listing or bio service.
// Audience "admin" sends Event to admin connections only, whatever its name.
type DomainEvent struct {
	Event    string          `json:"event"`
	Audience string          `json:"audience,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
	AdID     int64           `json:"ad_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Handler serves the HTTP side of the realtime layer: the online counter and the
// admin-only domain event ingress.
type Handler struct {
	hub      *Hub
	notifier *Notifier
	verifier *auth.Verifier
	log      *slog.Logger
}

// NewHandler returns the HTTP surface of hub.
func NewHandler(hub *Hub, verifier *auth.Verifier, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{hub: hub, notifier: NewNotifier(hub), verifier: verifier, log: log}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/realtime/online", h.handleOnline)
	mux.HandleFunc("/api/realtime/events", h.handleEvent)
}

func (h *Handler) handleOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, v1.OnlineCountPayload{Count: h.hub.Online()})
}

type deliveredResponse struct {
	Delivered int `json:"delivered"`
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	caller, err := h.verifier.RequireAdmin(r, time.Now())
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "valid bearer required")
		return
	}

	var ev DomainEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDomainEventBytes)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	n, err := h.dispatch(ev)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	h.log.Info("realtime.event.pushed", "event", ev.Event, "user_id", ev.UserID, "by", caller.UserID, "delivered", n)
	writeJSON(w, http.StatusOK, deliveredResponse{Delivered: n})
}

func (h *Handler) dispatch(ev DomainEvent) (int, error) {
	payload := any(ev.Payload)
	if len(ev.Payload) == 0 {
		payload = struct{}{}
	}

	needUser := func() error {
		if !validTopicID(ev.UserID) {
			return errors.New("user_id is required")
		}
		return nil
	}

	if ev.Audience == audienceAdmin {
		if strings.TrimSpace(ev.Event) == "" {
			return 0, errors.New("event is required")
		}
		return h.notifier.AdminEvent(ev.Event, payload), nil
	}

	switch ev.Event {
	case v1.TypeCarAdApproved:
		return h.notifier.ListingApproved(payload), nil
	case v1.TypeCarAdCreatedForUser:
		if err := needUser(); err != nil {
			return 0, err
		}
		return h.notifier.ListingCreatedForUser(ev.UserID, payload), nil
	case v1.TypeCarAdUpdated:
		return h.notifier.ListingUpdated(ev.UserID, payload), nil
	case v1.TypeCarAdDeleted:
		if ev.AdID <= 0 {
			return 0, errors.New("ad_id is required")
		}
		return h.notifier.ListingDeleted(ev.AdID, ev.UserID), nil
	case v1.TypeBioItemAdded, v1.TypeBioItemUpdated, v1.TypeBioItemDeleted:
		if err := needUser(); err != nil {
			return 0, err
		}
		return h.notifier.bio(ev.UserID, ev.Event, payload), nil
	default:
		return 0, errors.New("unsupported event")
	}
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
