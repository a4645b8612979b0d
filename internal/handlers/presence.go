package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/middleware"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/ws"
)

const healthTimeout = 2 * time.Second

func (h *ChatHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.callerID(w, r); !ok {
		return
	}

	record, err := h.Presence.Presence(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ServeWs upgrades an authenticated request to a websocket session.
func (h *ChatHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.callerID(w, r)
		return
	}
	ws.ServeWs(h.Hub, h.Chat, id, w, r)
}

// Healthz reports whether the database answers.
func (h *ChatHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.Chat.Ping(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
