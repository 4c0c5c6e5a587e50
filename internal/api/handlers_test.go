package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"lexchat/internal/apperr"
	"lexchat/internal/auth"
	"lexchat/internal/config"
	"lexchat/internal/models"
	"lexchat/internal/objectstore"
	"lexchat/internal/service/ai"
	"lexchat/internal/service/content"
	"lexchat/internal/service/conversation"
	"lexchat/internal/service/upload"
	"lexchat/internal/storage"
	"lexchat/internal/worker"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	env := newTestServer(t, Options{})
	authHeader := registerAndLogin(t, env.router, "flow@example.com")

	chatResp := doJSONRequest(t, env.router, http.MethodPost, "/api/chats", nil, authHeader)
	assertStatus(t, chatResp, http.StatusCreated)
	var chat models.Chat
	decodeJSON(t, chatResp.Body.Bytes(), &chat)
	if chat.ID == "" || chat.Title != models.DefaultChatTitle {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	sendResp := doJSONRequest(t, env.router, http.MethodPost,
		fmt.Sprintf("/api/chats/%s/messages", chat.ID),
		map[string]string{"content": "Can my landlord keep my deposit?"},
		authHeader)
	assertStatus(t, sendResp, http.StatusCreated)
	var sendBody struct {
		UserMessage models.Message `json:"user_message"`
		AIMessage   models.Message `json:"ai_message"`
		ChatName    string         `json:"chat_name"`
	}
	decodeJSON(t, sendResp.Body.Bytes(), &sendBody)
	if sendBody.UserMessage.Role != models.RoleUser || sendBody.AIMessage.Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", sendBody)
	}
	if sendBody.AIMessage.Content != "Mock legal answer." {
		t.Fatalf("unexpected reply %q", sendBody.AIMessage.Content)
	}
	if sendBody.ChatName != "Deposit Dispute" {
		t.Fatalf("expected chat_name in first exchange, got %q", sendBody.ChatName)
	}

	listResp := doJSONRequest(t, env.router, http.MethodGet,
		fmt.Sprintf("/api/chats/%s/messages", chat.ID), nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(listBody.Messages))
	}

	chatGet := doJSONRequest(t, env.router, http.MethodGet, "/api/chats/"+chat.ID, nil, authHeader)
	assertStatus(t, chatGet, http.StatusOK)
	decodeJSON(t, chatGet.Body.Bytes(), &chat)
	if chat.Title != "Deposit Dispute" {
		t.Fatalf("expected auto title to persist, got %q", chat.Title)
	}

	usageResp := doJSONRequest(t, env.router, http.MethodGet, "/api/usage", nil, authHeader)
	assertStatus(t, usageResp, http.StatusOK)
	var usageBody struct {
		Usage   []models.AIUsage    `json:"usage"`
		Summary models.UsageSummary `json:"summary"`
	}
	decodeJSON(t, usageResp.Body.Bytes(), &usageBody)
	if usageBody.Summary.Requests != 2 || len(usageBody.Usage) != 2 {
		t.Fatalf("expected chat and title usage rows, got %+v", usageBody.Summary)
	}

	renameResp := doJSONRequest(t, env.router, http.MethodPatch, "/api/chats/"+chat.ID,
		map[string]string{"title": "Tenancy"}, authHeader)
	assertStatus(t, renameResp, http.StatusOK)

	deleteResp := doJSONRequest(t, env.router, http.MethodDelete, "/api/chats/"+chat.ID, nil, authHeader)
	assertStatus(t, deleteResp, http.StatusNoContent)
	missing := doJSONRequest(t, env.router, http.MethodGet, "/api/chats/"+chat.ID, nil, authHeader)
	assertStatus(t, missing, http.StatusNotFound)

	logoutResp := doJSONRequest(t, env.router, http.MethodPost, "/api/auth/logout", nil, authHeader)
	assertStatus(t, logoutResp, http.StatusNoContent)
	afterLogout := doJSONRequest(t, env.router, http.MethodGet, "/api/chats", nil, authHeader)
	assertStatus(t, afterLogout, http.StatusUnauthorized)
}

func TestStreamMessageSSE(t *testing.T) {
	env := newTestServer(t, Options{})
	authHeader := registerAndLogin(t, env.router, "stream@example.com")
	chatID := createChat(t, env.router, authHeader)

	resp := postSSE(t, env.router, fmt.Sprintf("/api/chats/%s/messages/stream", chatID),
		map[string]string{"content": "Explain adverse possession"}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := parseSSE(t, resp.Body.String())
	var names []string
	var streamed strings.Builder
	for _, evt := range events {
		names = append(names, evt.Name)
		if evt.Name == string(conversation.EventContentDelta) {
			var payload conversation.Event
			decodeJSON(t, []byte(evt.Data), &payload)
			streamed.WriteString(payload.Content)
		}
	}
	want := []string{
		"user_message", "ai_message_start",
		"content_delta", "content_delta",
		"ai_message_complete", "chat_name", "stream_complete",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected SSE sequence: %v", names)
	}
	if streamed.String() != "Mock legal answer." {
		t.Fatalf("unexpected streamed content %q", streamed.String())
	}
}

func TestStreamMessageRejectedBeforeStreaming(t *testing.T) {
	env := newTestServer(t, Options{})
	authHeader := registerAndLogin(t, env.router, "reject@example.com")

	resp := postSSE(t, env.router, "/api/chats/does-not-exist/messages/stream",
		map[string]string{"content": "hello"}, authHeader)
	assertStatus(t, resp, http.StatusNotFound)
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON error before streaming, got %q", ct)
	}
}

func TestStreamMessageProviderError(t *testing.T) {
	env := newTestServer(t, Options{})
	authHeader := registerAndLogin(t, env.router, "streamfail@example.com")
	chatID := createChat(t, env.router, authHeader)
	env.gateway.setErr(fmt.Errorf("%w: upstream exploded", apperr.ErrGeneration))

	resp := postSSE(t, env.router, fmt.Sprintf("/api/chats/%s/messages/stream", chatID),
		map[string]string{"content": "hello"}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected user_message, ai_message_start and error, got %#v", events)
	}
	last := events[len(events)-1]
	if last.Name != "error" {
		t.Fatalf("expected trailing error event, got %#v", events)
	}
	if strings.Contains(last.Data, "upstream exploded") {
		t.Fatalf("error event leaked cause: %s", last.Data)
	}
}

func TestSendMessageErrors(t *testing.T) {
	env := newTestServer(t, Options{})
	authHeader := registerAndLogin(t, env.router, "errors@example.com")
	chatID := createChat(t, env.router, authHeader)
	path := fmt.Sprintf("/api/chats/%s/messages", chatID)

	blank := doJSONRequest(t, env.router, http.MethodPost, path, map[string]string{}, authHeader)
	assertStatus(t, blank, http.StatusBadRequest)
	if !strings.Contains(blank.Body.String(), "content is required") {
		t.Fatalf("expected field message, got %s", blank.Body.String())
	}

	spaces := doJSONRequest(t, env.router, http.MethodPost, path, map[string]string{"content": "   "}, authHeader)
	assertStatus(t, spaces, http.StatusBadRequest)

	env.gateway.setErr(fmt.Errorf("%w: provider down", apperr.ErrGeneration))
	failed := doJSONRequest(t, env.router, http.MethodPost, path, map[string]string{"content": "hello"}, authHeader)
	assertStatus(t, failed, http.StatusBadGateway)
	if strings.Contains(failed.Body.String(), "provider down") {
		t.Fatalf("response leaked cause: %s", failed.Body.String())
	}

	other := registerAndLogin(t, env.router, "intruder@example.com")
	foreign := doJSONRequest(t, env.router, http.MethodPost, path, map[string]string{"content": "hello"}, other)
	assertStatus(t, foreign, http.StatusNotFound)
}

func TestSendMessageRateLimited(t *testing.T) {
	env := newTestServer(t, Options{SendRate: rate.Every(time.Hour), SendBurst: 1})
	authHeader := registerAndLogin(t, env.router, "limited@example.com")
	chatID := createChat(t, env.router, authHeader)
	path := fmt.Sprintf("/api/chats/%s/messages", chatID)

	first := doJSONRequest(t, env.router, http.MethodPost, path, map[string]string{"content": "one"}, authHeader)
	assertStatus(t, first, http.StatusCreated)
	second := doJSONRequest(t, env.router, http.MethodPost, path, map[string]string{"content": "two"}, authHeader)
	assertStatus(t, second, http.StatusTooManyRequests)
}

func TestRegisterAndLoginValidation(t *testing.T) {
	env := newTestServer(t, Options{})

	bad := doJSONRequest(t, env.router, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     "Ann",
		"email":    "not-an-email",
		"password": "short",
	}, nil)
	assertStatus(t, bad, http.StatusBadRequest)
	var body struct {
		Details []string `json:"details"`
	}
	decodeJSON(t, bad.Body.Bytes(), &body)
	joined := strings.Join(body.Details, "|")
	if !strings.Contains(joined, "email must be a valid email address") ||
		!strings.Contains(joined, "password must be at least 8 characters") {
		t.Fatalf("unexpected details: %v", body.Details)
	}

	registerAndLogin(t, env.router, "dup@example.com")
	dup := doJSONRequest(t, env.router, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     "Again",
		"email":    "dup@example.com",
		"password": "password123",
	}, nil)
	assertStatus(t, dup, http.StatusConflict)

	wrong := doJSONRequest(t, env.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "dup@example.com",
		"password": "wrong-password",
	}, nil)
	assertStatus(t, wrong, http.StatusUnauthorized)
}

func TestCookieSessionRequiresCSRF(t *testing.T) {
	env := newTestServer(t, Options{})
	registerUser(t, env.router, "cookie@example.com")

	loginResp := doJSONRequest(t, env.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "cookie@example.com",
		"password": "password123",
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var sessionCookie, csrfCookie *http.Cookie
	for _, ck := range loginResp.Result().Cookies() {
		switch ck.Name {
		case env.handler.auth.AuthCookieName():
			sessionCookie = ck
		case env.handler.auth.CSRFCookieName():
			csrfCookie = ck
		}
	}
	if sessionCookie == nil || csrfCookie == nil {
		t.Fatalf("expected session and csrf cookies")
	}
	cookieHeader := map[string]string{
		"Cookie": fmt.Sprintf("%s=%s; %s=%s", sessionCookie.Name, sessionCookie.Value, csrfCookie.Name, csrfCookie.Value),
	}

	reads := doJSONRequest(t, env.router, http.MethodGet, "/api/users/me", nil, cookieHeader)
	assertStatus(t, reads, http.StatusOK)

	noHeader := doJSONRequest(t, env.router, http.MethodPost, "/api/chats", nil, cookieHeader)
	assertStatus(t, noHeader, http.StatusForbidden)

	cookieHeader[env.handler.auth.CSRFHeaderName()] = csrfCookie.Value
	withHeader := doJSONRequest(t, env.router, http.MethodPost, "/api/chats", nil, cookieHeader)
	assertStatus(t, withHeader, http.StatusCreated)
}

func TestUploadListAndDeleteFile(t *testing.T) {
	env := newTestServer(t, Options{})
	authHeader := registerAndLogin(t, env.router, "files@example.com")

	resp := uploadFile(t, env.router, "lease.txt", []byte("Term: twelve months.\n"), authHeader)
	assertStatus(t, resp, http.StatusCreated)
	var file models.File
	decodeJSON(t, resp.Body.Bytes(), &file)
	if !file.Processed || file.Text() != "Term: twelve months." {
		t.Fatalf("unexpected file: %+v", file)
	}
	if _, err := os.Stat(filepath.Join(env.objectsDir, filepath.FromSlash(file.FilePath))); err != nil {
		t.Fatalf("expected stored object: %v", err)
	}

	served := doJSONRequest(t, env.router, http.MethodGet, file.FileURL, nil, authHeader)
	assertStatus(t, served, http.StatusOK)
	if served.Body.String() != "Term: twelve months.\n" {
		t.Fatalf("unexpected served body %q", served.Body.String())
	}
	other := registerAndLogin(t, env.router, "snoop@example.com")
	hidden := doJSONRequest(t, env.router, http.MethodGet, file.FileURL, nil, other)
	assertStatus(t, hidden, http.StatusNotFound)

	bad := uploadFile(t, env.router, "tool.exe", []byte("MZ"), authHeader)
	assertStatus(t, bad, http.StatusBadRequest)

	listResp := doJSONRequest(t, env.router, http.MethodGet, "/api/files", nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Files []models.File `json:"files"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Files) != 1 || listBody.Files[0].ID != file.ID {
		t.Fatalf("unexpected files: %+v", listBody.Files)
	}

	delResp := doJSONRequest(t, env.router, http.MethodDelete, "/api/files/"+file.ID, nil, authHeader)
	assertStatus(t, delResp, http.StatusNoContent)
	again := doJSONRequest(t, env.router, http.MethodDelete, "/api/files/"+file.ID, nil, authHeader)
	assertStatus(t, again, http.StatusNotFound)
	if _, err := os.Stat(filepath.Join(env.objectsDir, filepath.FromSlash(file.FilePath))); !os.IsNotExist(err) {
		t.Fatalf("expected object removed, stat err=%v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	env := newTestServer(t, Options{})
	authHeader := registerAndLogin(t, env.router, "gone@example.com")
	createChat(t, env.router, authHeader)
	resp := uploadFile(t, env.router, "notes.txt", []byte("private notes"), authHeader)
	assertStatus(t, resp, http.StatusCreated)
	var file models.File
	decodeJSON(t, resp.Body.Bytes(), &file)

	rename := doJSONRequest(t, env.router, http.MethodPatch, "/api/users/me", map[string]string{"name": "Renamed"}, authHeader)
	assertStatus(t, rename, http.StatusOK)

	del := doJSONRequest(t, env.router, http.MethodDelete, "/api/users/me", nil, authHeader)
	assertStatus(t, del, http.StatusNoContent)

	me := doJSONRequest(t, env.router, http.MethodGet, "/api/users/me", nil, authHeader)
	assertStatus(t, me, http.StatusUnauthorized)
	if _, err := os.Stat(filepath.Join(env.objectsDir, filepath.FromSlash(file.FilePath))); !os.IsNotExist(err) {
		t.Fatalf("expected object removed with account, stat err=%v", err)
	}
	login := doJSONRequest(t, env.router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "gone@example.com",
		"password": "password123",
	}, nil)
	assertStatus(t, login, http.StatusUnauthorized)
}

func TestWebsocketMessages(t *testing.T) {
	env := newTestServer(t, Options{})
	authHeader := registerAndLogin(t, env.router, "ws@example.com")
	chatID := createChat(t, env.router, authHeader)

	srv := httptest.NewServer(env.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chats/" + chatID + "/messages/ws"
	header := http.Header{}
	for k, v := range authHeader {
		header.Set(k, v)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v (resp=%v)", err, resp)
	}
	defer conn.Close()

	readUntilDone := func() []conversation.Event {
		var events []conversation.Event
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var evt conversation.Event
			if err := conn.ReadJSON(&evt); err != nil {
				t.Fatalf("read event: %v", err)
			}
			events = append(events, evt)
			if evt.Type == conversation.EventStreamComplete || evt.Type == conversation.EventError {
				return events
			}
		}
	}

	if err := conn.WriteJSON(map[string]string{"content": ""}); err != nil {
		t.Fatalf("write: %v", err)
	}
	invalid := readUntilDone()
	if len(invalid) != 1 || invalid[0].Type != conversation.EventError {
		t.Fatalf("expected a single error event, got %+v", invalid)
	}

	if err := conn.WriteJSON(map[string]string{"content": "What is consideration?"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	events := readUntilDone()
	if events[0].Type != conversation.EventUserMessage || events[len(events)-1].Type != conversation.EventStreamComplete {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
	var complete *conversation.Event
	for i := range events {
		if events[i].Type == conversation.EventAIMessageComplete {
			complete = &events[i]
		}
	}
	if complete == nil || complete.Message == nil || complete.Message.Content != "Mock legal answer." {
		t.Fatalf("missing completed message: %+v", events)
	}
}

func TestHealth(t *testing.T) {
	env := newTestServer(t, Options{})
	resp := doJSONRequest(t, env.router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Status  string         `json:"status"`
		Workers map[string]int `json:"workers"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Status != "ok" {
		t.Fatalf("unexpected status %q", body.Status)
	}
	if _, ok := body.Workers["pending"]; !ok {
		t.Fatalf("expected worker stats, got %+v", body.Workers)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: chat", apperr.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: bad", apperr.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: dup", apperr.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: nope", apperr.ErrUnauthorized), http.StatusUnauthorized},
		{fmt.Errorf("%w: boom", apperr.ErrGeneration), http.StatusBadGateway},
		{worker.ErrDispatcherBusy, http.StatusTooManyRequests},
		{errRateLimited, http.StatusTooManyRequests},
		{worker.ErrJobCancelled, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, msg := statusFor(tc.err)
		if status != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, status)
		}
		if status == http.StatusInternalServerError && msg != "internal server error" {
			t.Fatalf("500 leaked cause: %q", msg)
		}
	}
	if _, msg := statusFor(fmt.Errorf("%w: title cannot be empty", apperr.ErrValidation)); msg != "title cannot be empty" {
		t.Fatalf("unexpected validation message %q", msg)
	}
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Content":  "content",
		"FileName": "file_name",
		"FileURL":  "file_url",
		"ID":       "id",
	}
	for in, want := range cases {
		if got := snakeCase(in); got != want {
			t.Fatalf("snakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

type testEnv struct {
	router     *gin.Engine
	handler    *Handler
	gateway    *mockGateway
	objectsDir string
}

func newTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	contentSvc := content.NewService(db, content.Options{BcryptCost: bcrypt.MinCost})
	authSvc := auth.NewService(auth.NewSQLStore(db), auth.Options{TTL: time.Hour})
	gateway := &mockGateway{}
	conversations := conversation.New(contentSvc, gateway, conversation.Options{})

	objectsDir := t.TempDir()
	objects, err := objectstore.NewLocal(objectsDir, "/files")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	uploads := upload.New(contentSvc, objects, upload.Options{})

	dispatcher := worker.NewDispatcher(worker.Config{MinWorkers: 1, MaxWorkers: 4, IdleTimeout: time.Minute})
	t.Cleanup(dispatcher.Close)

	if opts.SendRate == 0 {
		opts.SendRate = rate.Inf
	}
	opts.LocalFilesDir = objectsDir
	handler := NewHandler(contentSvc, authSvc, conversations, uploads, dispatcher, opts)
	router := gin.New()
	handler.RegisterRoutes(router)
	return &testEnv{router: router, handler: handler, gateway: gateway, objectsDir: objectsDir}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postSSE(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, router, http.MethodPost, path, body, headers)
}

func uploadFile(t *testing.T, router *gin.Engine, name string, data []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func registerUser(t *testing.T, router *gin.Engine, email string) {
	t.Helper()
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     "Tester",
		"email":    email,
		"password": "password123",
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
}

func registerAndLogin(t *testing.T, router *gin.Engine, email string) map[string]string {
	t.Helper()
	registerUser(t, router, email)
	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": "password123",
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		Token     string `json:"token"`
		CSRFToken string `json:"csrf_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.Token == "" || loginBody.CSRFToken == "" {
		t.Fatalf("expected tokens after login")
	}
	return map[string]string{"Authorization": fmt.Sprintf("Bearer %s", loginBody.Token)}
}

func createChat(t *testing.T, router *gin.Engine, headers map[string]string) string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/chats", nil, headers)
	assertStatus(t, resp, http.StatusCreated)
	var chat models.Chat
	decodeJSON(t, resp.Body.Bytes(), &chat)
	return chat.ID
}

type mockGateway struct {
	mu  sync.Mutex
	err error
}

func (m *mockGateway) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockGateway) takeErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.err
	m.err = nil
	return err
}

func (m *mockGateway) ModelName() string { return "mock-model" }

func (m *mockGateway) GenerateReply(ctx context.Context, req ai.ReplyRequest) (*ai.Reply, error) {
	if err := m.takeErr(); err != nil {
		return nil, err
	}
	return &ai.Reply{Content: "Mock legal answer.", Model: "mock-model", PromptTokens: 10, CompletionTokens: 4}, nil
}

func (m *mockGateway) StreamReply(ctx context.Context, req ai.ReplyRequest, onDelta func(string) error) (*ai.Reply, error) {
	reply := &ai.Reply{Model: "mock-model", PromptTokens: 10, CompletionTokens: 4}
	if err := m.takeErr(); err != nil {
		return reply, err
	}
	for _, chunk := range []string{"Mock legal ", "answer."} {
		if err := onDelta(chunk); err != nil {
			return reply, err
		}
		reply.Content += chunk
	}
	return reply, nil
}

func (m *mockGateway) SuggestTitle(ctx context.Context, req ai.TitleRequest) ai.TitleSuggestion {
	return ai.TitleSuggestion{Title: "Deposit Dispute", Model: "mock-model", PromptTokens: 3, CompletionTokens: 2}
}
