package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/chat"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

type SendMessageRequest struct {
	RecipientID string             `json:"recipient_id,omitempty"`
	ChatID      string             `json:"chat_id,omitempty"`
	Content     *string            `json:"content,omitempty"`
	MediaURL    *string            `json:"media_url,omitempty"`
	Type        models.MessageType `json:"type,omitempty"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

type ReactionResponse struct {
	Added     bool                   `json:"added"`
	Reactions []models.ReactionCount `json:"reactions"`
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	dest := models.Destination{RecipientID: req.RecipientID, ChatID: req.ChatID}
	msg, err := h.Chat.Send(r.Context(), userID, dest, chat.MessageInput{
		Content:  req.Content,
		MediaURL: req.MediaURL,
		Type:     req.Type,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) DirectConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	conversations, err := h.Chat.ListDirectConversations(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (h *ChatHandler) GroupConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	conversations, err := h.Chat.ListGroupConversations(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (h *ChatHandler) DirectThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	messages, err := h.Chat.GetDirectThread(r.Context(), userID, mux.Vars(r)["peerID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	n, err := h.Chat.MarkRead(r.Context(), userID, mux.Vars(r)["peerID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *ChatHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req ReactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	messageID := mux.Vars(r)["messageID"]
	added, err := h.Chat.ToggleReaction(r.Context(), messageID, userID, req.Emoji)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	counts, err := h.Chat.ListReactions(r.Context(), messageID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReactionResponse{Added: added, Reactions: counts})
}

func (h *ChatHandler) ListReactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	counts, err := h.Chat.ListReactions(r.Context(), mux.Vars(r)["messageID"], userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
