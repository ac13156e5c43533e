package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/iridiumtao/NYU-Marketplace/internal/middleware"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"github.com/iridiumtao/NYU-Marketplace/internal/repository"
	"github.com/iridiumtao/NYU-Marketplace/internal/service"
	"github.com/iridiumtao/NYU-Marketplace/internal/ws"
	"github.com/iridiumtao/NYU-Marketplace/pkg/auth"
)

type testAPI struct {
	router *gin.Engine
	db     *gorm.DB
	jwt    *auth.JWTManager
	hub    *ws.Hub
	chat   *service.ChatService
}

// setupTestAPI wires the full stack the way the server binary does,
// against an in-memory database and an in-process hub.
func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.ConversationParticipant{},
		&model.Message{},
	))

	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	hub := ws.NewHub(nil)

	chatService := service.NewChatService(
		repository.NewConversationRepository(db),
		repository.NewMessageRepository(db),
		repository.NewUserRepository(db),
	)
	chatHandler := NewChatHandler(chatService, hub)
	wsHandler := NewWSHandler(hub, chatService, jwtManager)

	router := gin.New()
	protected := router.Group("/api/v1")
	protected.Use(middleware.AuthMiddleware(jwtManager))
	{
		protected.POST("/conversations/direct", chatHandler.GetOrCreateDirect)
		protected.GET("/conversations", chatHandler.GetConversations)
		protected.GET("/conversations/:id", chatHandler.GetConversation)
		protected.GET("/conversations/:id/messages", chatHandler.GetMessages)
		protected.POST("/conversations/:id/send", chatHandler.SendMessage)
		protected.POST("/conversations/:id/read", chatHandler.MarkAsRead)
	}
	router.GET("/ws/conversations/:id", wsHandler.HandleConversation)

	return &testAPI{
		router: router,
		db:     db,
		jwt:    jwtManager,
		hub:    hub,
		chat:   chatService,
	}
}

func (a *testAPI) createUser(t *testing.T, netID string) *model.User {
	t.Helper()
	user := &model.User{
		NetID: netID,
		Email: fmt.Sprintf("%s@nyu.edu", netID),
		Name:  netID,
	}
	require.NoError(t, a.db.Create(user).Error)
	return user
}

func (a *testAPI) tokenFor(t *testing.T, user *model.User) string {
	t.Helper()
	token, err := a.jwt.GenerateToken(user.ID, user.NetID, user.Email)
	require.NoError(t, err)
	return token
}

// request performs one authenticated JSON request against the router.
func (a *testAPI) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestAuthRequired(t *testing.T) {
	api := setupTestAPI(t)

	rec := api.request(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.request(t, http.MethodGet, "/api/v1/conversations", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDirectCreateStatusCodes(t *testing.T) {
	api := setupTestAPI(t)
	alice := api.createUser(t, "ab1234")
	bob := api.createUser(t, "cd5678")
	token := api.tokenFor(t, alice)

	body := model.DirectCreateRequest{PeerID: bob.ID.String()}

	rec := api.request(t, http.MethodPost, "/api/v1/conversations/direct", token, body)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var first model.ConversationDetail
	decodeJSON(t, rec, &first)
	assert.Len(t, first.Participants, 2)

	// Opening it again returns the same conversation with 200.
	rec = api.request(t, http.MethodPost, "/api/v1/conversations/direct", token, body)
	assert.Equal(t, http.StatusOK, rec.Code)

	var second model.ConversationDetail
	decodeJSON(t, rec, &second)
	assert.Equal(t, first.ID, second.ID)
}

func TestDirectCreateValidation(t *testing.T) {
	api := setupTestAPI(t)
	alice := api.createUser(t, "ab1234")
	token := api.tokenFor(t, alice)

	rec := api.request(t, http.MethodPost, "/api/v1/conversations/direct", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.request(t, http.MethodPost, "/api/v1/conversations/direct", token,
		model.DirectCreateRequest{PeerID: "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Chatting with yourself is rejected.
	rec = api.request(t, http.MethodPost, "/api/v1/conversations/direct", token,
		model.DirectCreateRequest{PeerID: alice.ID.String()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// An unknown peer is a 404.
	rec = api.request(t, http.MethodPost, "/api/v1/conversations/direct", token,
		model.DirectCreateRequest{PeerID: "00000000-0000-0000-0000-000000000001"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNonMemberSeesNotFound(t *testing.T) {
	api := setupTestAPI(t)
	alice := api.createUser(t, "ab1234")
	bob := api.createUser(t, "cd5678")
	carol := api.createUser(t, "ef9012")

	rec := api.request(t, http.MethodPost, "/api/v1/conversations/direct", api.tokenFor(t, alice),
		model.DirectCreateRequest{PeerID: bob.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv model.ConversationDetail
	decodeJSON(t, rec, &conv)

	carolToken := api.tokenFor(t, carol)
	base := "/api/v1/conversations/" + conv.ID.String()

	// Every endpoint hides the conversation from outsiders the same way.
	assert.Equal(t, http.StatusNotFound, api.request(t, http.MethodGet, base, carolToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.request(t, http.MethodGet, base+"/messages", carolToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.request(t, http.MethodPost, base+"/send", carolToken,
		model.SendMessageRequest{Text: "hi"}).Code)
	assert.Equal(t, http.StatusNotFound, api.request(t, http.MethodPost, base+"/read", carolToken,
		model.MarkReadRequest{MessageID: "00000000-0000-0000-0000-000000000001"}).Code)

	// The body must not tip off that the conversation exists: the
	// response for someone else's conversation and for one that does
	// not exist at all are byte-for-byte the same.
	denied := api.request(t, http.MethodGet, base, carolToken, nil)
	missing := api.request(t, http.MethodGet, "/api/v1/conversations/"+uuid.NewString(), carolToken, nil)
	assert.Equal(t, missing.Code, denied.Code)
	assert.JSONEq(t, missing.Body.String(), denied.Body.String())

	var body model.ErrorResponse
	decodeJSON(t, denied, &body)
	assert.Equal(t, "NOT_FOUND", body.Error)
}

func TestSendAndListMessages(t *testing.T) {
	api := setupTestAPI(t)
	alice := api.createUser(t, "ab1234")
	bob := api.createUser(t, "cd5678")
	aliceToken := api.tokenFor(t, alice)
	bobToken := api.tokenFor(t, bob)

	rec := api.request(t, http.MethodPost, "/api/v1/conversations/direct", aliceToken,
		model.DirectCreateRequest{PeerID: bob.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv model.ConversationDetail
	decodeJSON(t, rec, &conv)
	base := "/api/v1/conversations/" + conv.ID.String()

	rec = api.request(t, http.MethodPost, base+"/send", aliceToken,
		model.SendMessageRequest{Text: "hey, is the desk still available?"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sent model.MessagePayload
	decodeJSON(t, rec, &sent)
	assert.Equal(t, alice.ID.String(), sent.Sender)
	assert.Equal(t, conv.ID.String(), sent.Conversation)

	rec = api.request(t, http.MethodPost, base+"/send", bobToken,
		model.SendMessageRequest{Text: "yes! pick it up anytime"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Blank text is a 400.
	rec = api.request(t, http.MethodPost, base+"/send", bobToken,
		model.SendMessageRequest{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.request(t, http.MethodGet, base+"/messages", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page model.MessagePage
	decodeJSON(t, rec, &page)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "yes! pick it up anytime", page.Results[0].Text)
	assert.Equal(t, "hey, is the desk still available?", page.Results[1].Text)
	require.NotNil(t, page.NextBefore)

	// The cursor pages strictly older history.
	rec = api.request(t, http.MethodGet, base+"/messages?before="+url.QueryEscape(*page.NextBefore), aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var older model.MessagePage
	decodeJSON(t, rec, &older)
	assert.Empty(t, older.Results)

	rec = api.request(t, http.MethodGet, base+"/messages?before=garbage", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkAsReadFlow(t *testing.T) {
	api := setupTestAPI(t)
	alice := api.createUser(t, "ab1234")
	bob := api.createUser(t, "cd5678")
	aliceToken := api.tokenFor(t, alice)
	bobToken := api.tokenFor(t, bob)

	rec := api.request(t, http.MethodPost, "/api/v1/conversations/direct", aliceToken,
		model.DirectCreateRequest{PeerID: bob.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv model.ConversationDetail
	decodeJSON(t, rec, &conv)
	base := "/api/v1/conversations/" + conv.ID.String()

	rec = api.request(t, http.MethodPost, base+"/send", aliceToken,
		model.SendMessageRequest{Text: "ping"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg model.MessagePayload
	decodeJSON(t, rec, &msg)

	// Bob's inbox shows one unread message.
	rec = api.request(t, http.MethodGet, "/api/v1/conversations", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inbox []model.ConversationListItem
	decodeJSON(t, rec, &inbox)
	require.Len(t, inbox, 1)
	assert.EqualValues(t, 1, inbox[0].UnreadCount)
	require.NotNil(t, inbox[0].OtherParticipant)
	assert.Equal(t, alice.ID, inbox[0].OtherParticipant.ID)

	rec = api.request(t, http.MethodPost, base+"/read", bobToken,
		model.MarkReadRequest{MessageID: msg.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var readResp model.MarkReadResponse
	decodeJSON(t, rec, &readResp)
	assert.True(t, readResp.OK)
	assert.Equal(t, msg.ID, readResp.LastReadMessage)

	rec = api.request(t, http.MethodGet, "/api/v1/conversations", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &inbox)
	assert.EqualValues(t, 0, inbox[0].UnreadCount)

	// An unknown message ID cannot move the cursor.
	rec = api.request(t, http.MethodPost, base+"/read", bobToken,
		model.MarkReadRequest{MessageID: "00000000-0000-0000-0000-000000000001"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
