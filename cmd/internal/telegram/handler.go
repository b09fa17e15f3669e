package telegram

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carads/cmd/internal/retention"
	v1 "carads/contracts/realtime/v1"
)

const (
	// SecretHeader carries the secret configured with setWebhook.
	SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

	maxUpdateBytes = 1 << 20
)

// Handler serves the webhook and the read endpoints of the message feed.
type Handler struct {
	gw    *Gateway
	store retention.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewHandler returns the HTTP surface for gw.
func NewHandler(gw *Gateway, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{gw: gw, store: gw.store, log: log, now: gw.cfg.Now}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/telegram/webhook", h.handleWebhook)
	mux.HandleFunc("/api/telegram/latest", h.handleLatest)
	mux.HandleFunc("/api/telegram/today", h.handleToday)
}

type ackResponse struct {
	OK bool `json:"ok"`
}

// handleWebhook always answers 200: Telegram redelivers on any other status.
// Non-POST requests are acknowledged and counted as rejections without reading the body.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.gw.reject(ReasonMethod, nil, "method", r.Method)
		writeJSON(w, http.StatusOK, ackResponse{OK: true})
		return
	}

	if !h.gw.Authorized(r.Header.Get(SecretHeader)) {
		h.gw.RejectSecret()
		writeJSON(w, http.StatusOK, ackResponse{OK: true})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBytes))
	if err != nil {
		h.gw.reject(ReasonMalformed, nil, "read_err", err.Error())
		writeJSON(w, http.StatusOK, ackResponse{OK: true})
		return
	}

	h.gw.Ingest(r.Context(), body)
	writeJSON(w, http.StatusOK, ackResponse{OK: true})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	take := h.store.Capacity()
	if raw := strings.TrimSpace(r.URL.Query().Get("take")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_take", "take must be an integer")
			return
		}
		take = n
	}

	recs, err := h.store.Latest(r.Context(), h.gw.AllowedChatID(), take)
	if err != nil {
		h.log.Error("telegram.latest.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, payloads(recs))
}

func (h *Handler) handleToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	from := retention.StartOfDay(h.now(), time.UTC)
	recs, err := h.store.Since(r.Context(), h.gw.AllowedChatID(), from)
	if err != nil {
		h.log.Error("telegram.today.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, payloads(recs))
}

func payloads(recs []retention.Record) []v1.TelegramMessagePayload {
	out := make([]v1.TelegramMessagePayload, 0, len(recs))
	for _, rec := range recs {
		out = append(out, MessagePayload(rec))
	}
	return out
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
