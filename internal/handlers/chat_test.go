package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/auth"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/chat"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/clock"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/middleware"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/presence"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/store/sqlstore"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/ws"
)

type testServer struct {
	handler  *ChatHandler
	router   *mux.Router
	verifier *auth.Verifier
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p, err := presence.New(context.Background(), presence.NewMemoryBackend(), presence.DefaultConfig(), clock.Real(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	hub := ws.NewHub(p, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	svc := chat.NewService(store, chat.WithNotifier(hub), chat.WithTyping(p), chat.WithLogger(quietLogger()))
	verifier, err := auth.NewVerifier([]byte("handler-secret"), "")
	require.NoError(t, err)

	handler := &ChatHandler{Chat: svc, Presence: p, Hub: hub, Logger: quietLogger()}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handler.Healthz).Methods("GET")
	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(verifier))
	handler.Routes(api)

	return &testServer{handler: handler, router: r, verifier: verifier}
}

// do sends a request as userID (no token when userID is empty) and returns
// the recorder.
func (s *testServer) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		token, err := s.verifier.Sign(models.Identity{UserID: userID}, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[map[string]string](t, rr)
	return body["code"]
}

func (s *testServer) createGroup(t *testing.T, creator string, members ...string) string {
	t.Helper()
	rr := s.do(t, creator, "POST", "/groups", map[string]any{"name": "Study Group"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	group := decodeBody[models.GroupChat](t, rr)
	if len(members) > 0 {
		rr = s.do(t, creator, "POST", "/groups/"+group.ID+"/members", AddMembersRequest{UserIDs: members})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	return group.ID
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, "", "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rr)["status"])
}

func TestRequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, "", "GET", "/conversations/direct", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDirectMessaging(t *testing.T) {
	s := newTestServer(t)

	text := "hey bob"
	rr := s.do(t, "alice", "POST", "/messages", SendMessageRequest{RecipientID: "bob", Content: &text})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sent := decodeBody[models.Message](t, rr)
	assert.Equal(t, "alice", sent.SenderID)
	assert.Equal(t, models.MessageText, sent.Type)

	rr = s.do(t, "bob", "GET", "/conversations/direct", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	conversations := decodeBody[[]models.DirectConversation](t, rr)
	require.Len(t, conversations, 1)
	assert.Equal(t, "alice", conversations[0].PeerID)
	assert.Equal(t, 1, conversations[0].Unread)

	rr = s.do(t, "bob", "GET", "/direct/alice/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	thread := decodeBody[[]models.Message](t, rr)
	require.Len(t, thread, 1)
	assert.Equal(t, sent.ID, thread[0].ID)

	rr = s.do(t, "bob", "POST", "/direct/alice/read", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(1), decodeBody[map[string]int64](t, rr)["count"])

	rr = s.do(t, "bob", "GET", "/conversations/direct", nil)
	conversations = decodeBody[[]models.DirectConversation](t, rr)
	require.Len(t, conversations, 1)
	assert.Zero(t, conversations[0].Unread)
}

func TestSendValidation(t *testing.T) {
	s := newTestServer(t)
	text := "hello"

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"no destination", SendMessageRequest{Content: &text}, http.StatusBadRequest, "INVALID_DESTINATION"},
		{"both destinations", SendMessageRequest{RecipientID: "bob", ChatID: "c1", Content: &text}, http.StatusBadRequest, "INVALID_DESTINATION"},
		{"self", SendMessageRequest{RecipientID: "alice", Content: &text}, http.StatusBadRequest, "INVALID_DESTINATION"},
		{"empty body", SendMessageRequest{RecipientID: "bob"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown type", SendMessageRequest{RecipientID: "bob", Content: &text, Type: "sticker"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown field", map[string]string{"recipient_id": "bob", "body": "hi"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing group", SendMessageRequest{ChatID: "nope", Content: &text}, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, "alice", "POST", "/messages", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rr))
		})
	}
}

func TestGroupLifecycle(t *testing.T) {
	s := newTestServer(t)
	chatID := s.createGroup(t, "alice", "bob", "carol")

	rr := s.do(t, "bob", "GET", "/groups/"+chatID+"/members", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]models.GroupMembership](t, rr), 3)

	text := "welcome"
	rr = s.do(t, "alice", "POST", "/messages", SendMessageRequest{ChatID: chatID, Content: &text})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	// Members cannot moderate.
	rr = s.do(t, "bob", "POST", "/groups/"+chatID+"/members/carol/mute", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "alice", "POST", "/groups/"+chatID+"/members/carol/mute", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "carol", "POST", "/messages", SendMessageRequest{ChatID: chatID, Content: &text})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "alice", "POST", "/groups/"+chatID+"/members/carol/unmute", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "alice", "PUT", "/groups/"+chatID+"/members/bob/role", SetRoleRequest{Role: models.RoleAdmin})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "bob", "DELETE", "/groups/"+chatID+"/members/carol", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "carol", "GET", "/groups/"+chatID+"/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]models.Message](t, rr), 1)

	rr = s.do(t, "alice", "POST", "/groups/"+chatID+"/leave", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "bob", "POST", "/groups/"+chatID+"/leave", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "bob", "GET", "/conversations/groups", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody[[]models.GroupConversation](t, rr))
}

func TestUpdateGroupAndFlags(t *testing.T) {
	s := newTestServer(t)
	chatID := s.createGroup(t, "alice", "bob")

	rr := s.do(t, "bob", "PATCH", "/groups/"+chatID, map[string]any{"allow_media": false})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "alice", "PATCH", "/groups/"+chatID, map[string]any{"allow_media": false, "name": "Renamed"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	group := decodeBody[models.GroupChat](t, rr)
	assert.False(t, group.AllowMedia)
	require.NotNil(t, group.Name)
	assert.Equal(t, "Renamed", *group.Name)

	url := "https://cdn.example/cat.png"
	rr = s.do(t, "bob", "POST", "/messages", SendMessageRequest{ChatID: chatID, MediaURL: &url, Type: models.MessageImage})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "carol", "GET", "/groups/"+chatID, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestUpdateGroupIgnoresUnknownFields(t *testing.T) {
	s := newTestServer(t)
	chatID := s.createGroup(t, "alice", "bob")

	rr := s.do(t, "alice", "PATCH", "/groups/"+chatID, map[string]any{"name": "Renamed", "creator_id": "mallory", "id": "other"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	group := decodeBody[models.GroupChat](t, rr)
	require.NotNil(t, group.Name)
	assert.Equal(t, "Renamed", *group.Name)
	assert.Equal(t, "alice", group.CreatorID)
	assert.Equal(t, chatID, group.ID)

	rr = s.do(t, "bob", "GET", "/groups/"+chatID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", decodeBody[models.GroupChat](t, rr).CreatorID)

	rr = s.do(t, "alice", "POST", "/groups", map[string]any{"name": "Second", "creator_id": "mallory"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "alice", decodeBody[models.GroupChat](t, rr).CreatorID)
}

func TestJoinAndApprove(t *testing.T) {
	s := newTestServer(t)
	chatID := s.createGroup(t, "alice")

	rr := s.do(t, "dave", "POST", "/groups/"+chatID+"/join", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.StatusPending, decodeBody[models.GroupMembership](t, rr).Status)

	rr = s.do(t, "dave", "GET", "/groups/"+chatID+"/messages", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "alice", "POST", "/groups/"+chatID+"/members/dave/approve", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "alice", "POST", "/groups/"+chatID+"/members/dave/approve", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, "dave", "POST", "/groups/"+chatID+"/seen", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestReactions(t *testing.T) {
	s := newTestServer(t)
	text := "lunch?"
	rr := s.do(t, "alice", "POST", "/messages", SendMessageRequest{RecipientID: "bob", Content: &text})
	require.Equal(t, http.StatusCreated, rr.Code)
	msg := decodeBody[models.Message](t, rr)

	rr = s.do(t, "bob", "POST", "/messages/"+msg.ID+"/reactions", ReactionRequest{Emoji: "👍"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeBody[ReactionResponse](t, rr)
	assert.True(t, resp.Added)
	assert.Equal(t, []models.ReactionCount{{Emoji: "👍", Count: 1}}, resp.Reactions)

	rr = s.do(t, "bob", "POST", "/messages/"+msg.ID+"/reactions", ReactionRequest{Emoji: "👍"})
	require.Equal(t, http.StatusOK, rr.Code)
	resp = decodeBody[ReactionResponse](t, rr)
	assert.False(t, resp.Added)
	assert.Empty(t, resp.Reactions)

	rr = s.do(t, "mallory", "GET", "/messages/"+msg.ID+"/reactions", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPresenceEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.handler.Presence.Heartbeat(context.Background(), "bob"))

	rr := s.do(t, "alice", "GET", "/presence/bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	record := decodeBody[models.PresenceRecord](t, rr)
	assert.Equal(t, "bob", record.UserID)
	assert.True(t, record.Online)

	rr = s.do(t, "alice", "GET", "/presence/nobody", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[models.PresenceRecord](t, rr).Online)
}
