// Package handlers exposes the chat service over HTTP.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/chat"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/middleware"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/presence"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/ws"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

type ChatHandler struct {
	Chat     *chat.Service
	Presence *presence.Channel
	Hub      *ws.Hub
	Logger   *slog.Logger
}

// Routes registers every authenticated endpoint on r.
func (h *ChatHandler) Routes(r *mux.Router) {
	r.HandleFunc("/messages", h.SendMessage).Methods("POST")
	r.HandleFunc("/messages/{messageID}/reactions", h.ToggleReaction).Methods("POST")
	r.HandleFunc("/messages/{messageID}/reactions", h.ListReactions).Methods("GET")

	r.HandleFunc("/conversations/direct", h.DirectConversations).Methods("GET")
	r.HandleFunc("/conversations/groups", h.GroupConversations).Methods("GET")

	r.HandleFunc("/direct/{peerID}/messages", h.DirectThread).Methods("GET")
	r.HandleFunc("/direct/{peerID}/read", h.MarkRead).Methods("POST")

	r.HandleFunc("/groups", h.CreateGroup).Methods("POST")
	r.HandleFunc("/groups/{chatID}", h.GetGroup).Methods("GET")
	r.HandleFunc("/groups/{chatID}", h.UpdateGroup).Methods("PATCH")
	r.HandleFunc("/groups/{chatID}/messages", h.GroupThread).Methods("GET")
	r.HandleFunc("/groups/{chatID}/members", h.ListMembers).Methods("GET")
	r.HandleFunc("/groups/{chatID}/members", h.AddMembers).Methods("POST")
	r.HandleFunc("/groups/{chatID}/members/{userID}", h.RemoveMember).Methods("DELETE")
	r.HandleFunc("/groups/{chatID}/members/{userID}/mute", h.MuteMember).Methods("POST")
	r.HandleFunc("/groups/{chatID}/members/{userID}/unmute", h.UnmuteMember).Methods("POST")
	r.HandleFunc("/groups/{chatID}/members/{userID}/approve", h.ApproveMember).Methods("POST")
	r.HandleFunc("/groups/{chatID}/members/{userID}/role", h.SetRole).Methods("PUT")
	r.HandleFunc("/groups/{chatID}/leave", h.LeaveGroup).Methods("POST")
	r.HandleFunc("/groups/{chatID}/join", h.RequestJoin).Methods("POST")
	r.HandleFunc("/groups/{chatID}/seen", h.MarkGroupSeen).Methods("POST")

	r.HandleFunc("/presence/{userID}", h.GetPresence).Methods("GET")
	r.HandleFunc("/ws", h.ServeWs).Methods("GET")
}

func (h *ChatHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// callerID returns the authenticated user or writes a 401.
func (h *ChatHandler) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, r, apperrors.Unauthenticated("missing identity"))
		return "", false
	}
	return id.UserID, true
}

// decode rejects bodies with fields the request type does not know.
func (h *ChatHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return h.decodeBody(w, r, v, true)
}

// decodeAttrs drops unknown fields, so only the whitelisted group
// attributes are ever applied.
func (h *ChatHandler) decodeAttrs(w http.ResponseWriter, r *http.Request, attrs *models.GroupAttrs) bool {
	return h.decodeBody(w, r, attrs, false)
}

func (h *ChatHandler) decodeBody(w http.ResponseWriter, r *http.Request, v any, strict bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, apperrors.InvalidArg("malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *ChatHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeUnknown {
		code = apperrors.CodeInternal
	}
	writeJSON(w, status, apperrors.AppError{Code: code, Message: apperrors.Public(err)})
}
