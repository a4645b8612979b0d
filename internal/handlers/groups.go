package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

type AddMembersRequest struct {
	UserIDs []string `json:"user_ids"`
}

type SetRoleRequest struct {
	Role models.Role `json:"role"`
}

func (h *ChatHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var attrs models.GroupAttrs
	if !h.decodeAttrs(w, r, &attrs) {
		return
	}

	group, err := h.Chat.CreateGroup(r.Context(), userID, attrs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *ChatHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	group, err := h.Chat.GetGroup(r.Context(), mux.Vars(r)["chatID"], userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *ChatHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var attrs models.GroupAttrs
	if !h.decodeAttrs(w, r, &attrs) {
		return
	}

	group, err := h.Chat.UpdateGroup(r.Context(), mux.Vars(r)["chatID"], userID, attrs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *ChatHandler) GroupThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	messages, err := h.Chat.GetGroupThread(r.Context(), mux.Vars(r)["chatID"], userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	members, err := h.Chat.ListMembers(r.Context(), mux.Vars(r)["chatID"], userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *ChatHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req AddMembersRequest
	if !h.decode(w, r, &req) {
		return
	}

	results, err := h.Chat.AddMembers(r.Context(), mux.Vars(r)["chatID"], userID, req.UserIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *ChatHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, h.Chat.RemoveMember)
}

func (h *ChatHandler) MuteMember(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, h.Chat.MuteMember)
}

func (h *ChatHandler) UnmuteMember(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, h.Chat.UnmuteMember)
}

func (h *ChatHandler) ApproveMember(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, h.Chat.ApproveMember)
}

func (h *ChatHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req SetRoleRequest
	if !h.decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	if err := h.Chat.SetRole(r.Context(), vars["chatID"], userID, vars["userID"], req.Role); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	if err := h.Chat.LeaveGroup(r.Context(), mux.Vars(r)["chatID"], userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) RequestJoin(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	member, err := h.Chat.RequestJoin(r.Context(), mux.Vars(r)["chatID"], userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *ChatHandler) MarkGroupSeen(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	if err := h.Chat.MarkGroupSeen(r.Context(), mux.Vars(r)["chatID"], userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memberFunc func(ctx context.Context, chatID, callerID, targetID string) error

func (h *ChatHandler) memberAction(w http.ResponseWriter, r *http.Request, action memberFunc) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	if err := action(r.Context(), vars["chatID"], userID, vars["userID"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
