package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/instalite-chat/internal/config"
	"github.com/vovakirdan/instalite-chat/internal/core"
	"github.com/vovakirdan/instalite-chat/internal/proto"
	"github.com/vovakirdan/instalite-chat/internal/service/messages"
	"github.com/vovakirdan/instalite-chat/internal/store"
	"github.com/vovakirdan/instalite-chat/internal/upload"
)

func doJSON(t *testing.T, env *testEnv, method, path, token, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, env.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	env := startTestEnv(t, nil)

	resp := doJSON(t, env, http.MethodPost, "/api/auth/register", "", `{"username":"alice","email":"alice@example.com","password":"password123"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	var registered AuthResponse
	decodeBody(t, resp, &registered)
	if registered.Token == "" || registered.User.Username != "alice" || registered.User.ID == 0 {
		t.Fatalf("unexpected register response: %+v", registered)
	}

	resp = doJSON(t, env, http.MethodPost, "/api/auth/register", "", `{"username":"alice","email":"other@example.com","password":"password123"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.StatusCode)
	}

	resp = doJSON(t, env, http.MethodPost, "/api/auth/register", "", `{"username":"bob"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("incomplete register: expected 400, got %d", resp.StatusCode)
	}

	resp = doJSON(t, env, http.MethodPost, "/api/auth/login", "", `{"emailOrUsername":"alice@example.com","password":"password123"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	var loggedIn AuthResponse
	decodeBody(t, resp, &loggedIn)
	if loggedIn.User.ID != registered.User.ID {
		t.Fatalf("login returned user %d, want %d", loggedIn.User.ID, registered.User.ID)
	}

	resp = doJSON(t, env, http.MethodPost, "/api/auth/login", "", `{"emailOrUsername":"alice","password":"wrong-password"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", resp.StatusCode)
	}
}

func TestMeAndSearch(t *testing.T) {
	env := startTestEnv(t, nil)
	token, uid := registerUser(t, env, "alice")
	registerUser(t, env, "alan")
	registerUser(t, env, "bob")

	if resp := doJSON(t, env, http.MethodGet, "/api/users/me", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me without token: expected 401, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, env, http.MethodGet, "/api/users/me", "not-a-jwt", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me with bad token: expected 401, got %d", resp.StatusCode)
	}

	resp := doJSON(t, env, http.MethodGet, "/api/users/me", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", resp.StatusCode)
	}
	var me UserResponse
	decodeBody(t, resp, &me)
	if me.ID != uid || me.Username != "alice" || me.Email != "alice@example.com" {
		t.Fatalf("unexpected me: %+v", me)
	}

	resp = doJSON(t, env, http.MethodGet, "/api/users/search?q=al", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", resp.StatusCode)
	}
	var found []UserResponse
	decodeBody(t, resp, &found)
	if len(found) != 1 || found[0].Username != "alan" || found[0].Email != "" {
		t.Fatalf("search should return only alan without email, got %+v", found)
	}

	resp = doJSON(t, env, http.MethodGet, "/api/users/search?q=%20", token, "")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("blank search: expected 200 [], got %d %s", resp.StatusCode, body)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := startTestEnv(t, nil)
	token, _ := registerUser(t, env, "alice")

	if resp := doJSON(t, env, http.MethodGet, "/api/messages/u1_u2", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("history without token: expected 401, got %d", resp.StatusCode)
	}

	resp := doJSON(t, env, http.MethodGet, "/api/messages/u1_u2", token, "")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("empty history: expected 200 [], got %d %s", resp.StatusCode, body)
	}

	ctx := context.Background()
	for _, text := range []string{"first", "second", "third"} {
		if _, err := env.messages.Append(ctx, core.Message{Room: "u1_u2", Sender: "alice", Text: text}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := env.messages.Append(ctx, core.Message{Room: "global", Sender: "bob", Text: "elsewhere"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	resp = doJSON(t, env, http.MethodGet, "/api/messages/u1_u2", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", resp.StatusCode)
	}
	var history []proto.MessageData
	decodeBody(t, resp, &history)
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i, want := range []string{"first", "second", "third"} {
		if history[i].Text != want || history[i].RoomID != "u1_u2" {
			t.Fatalf("index %d: unexpected message %+v", i, history[i])
		}
	}
}

type brokenMessages struct{}

func (brokenMessages) SaveMessage(context.Context, *store.Message) error {
	return errors.New("disk on fire")
}

func (brokenMessages) ListRecentMessages(context.Context, string, int) ([]*store.Message, error) {
	return nil, errors.New("disk on fire")
}

func (brokenMessages) Close() error { return nil }

func TestHistoryStorageFailure(t *testing.T) {
	env := startTestEnv(t, nil)
	token, _ := registerUser(t, env, "alice")

	uploads, err := upload.New(t.TempDir(), "/uploads", 1<<10)
	if err != nil {
		t.Fatalf("upload store: %v", err)
	}
	logger := zerolog.Nop()
	cfg := env.cfg
	server := NewServer(Deps{
		Hub:      env.hub,
		Auth:     env.auth,
		Users:    env.store,
		Messages: messages.New(brokenMessages{}),
		Uploads:  uploads,
	}, &cfg, &logger)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/u1_u2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
		t.Fatalf("expected error body, got %q", rec.Body.String())
	}
}

func multipartBody(t *testing.T, field, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func postUpload(t *testing.T, env *testEnv, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/upload", body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestUploadAndServe(t *testing.T) {
	env := startTestEnv(t, nil)
	token, _ := registerUser(t, env, "alice")

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("hello attachment"))
	resp := postUpload(t, env, token, body, contentType)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", resp.StatusCode)
	}
	var file upload.File
	decodeBody(t, resp, &file)
	if file.OriginalName != "notes.txt" || !strings.HasPrefix(file.URL, "/uploads/") || !strings.HasPrefix(file.ContentType, "text/plain") {
		t.Fatalf("unexpected upload response: %+v", file)
	}

	served, err := env.server.Client().Get(env.server.URL + file.URL)
	if err != nil {
		t.Fatalf("fetch upload: %v", err)
	}
	defer served.Body.Close()
	content, _ := io.ReadAll(served.Body)
	if served.StatusCode != http.StatusOK || string(content) != "hello attachment" {
		t.Fatalf("unexpected served file: %d %q", served.StatusCode, content)
	}
}

func TestUploadRejections(t *testing.T) {
	env := startTestEnv(t, func(cfg *config.Config) { cfg.MaxUploadBytes = 16 })
	token, _ := registerUser(t, env, "alice")

	body, contentType := multipartBody(t, "other", "notes.txt", []byte("x"))
	if resp := postUpload(t, env, token, body, contentType); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing file: expected 400, got %d", resp.StatusCode)
	}

	body, contentType = multipartBody(t, "file", "big.txt", bytes.Repeat([]byte("a"), 64))
	if resp := postUpload(t, env, token, body, contentType); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized file: expected 413, got %d", resp.StatusCode)
	}

	body, contentType = multipartBody(t, "file", "x.txt", []byte("x"))
	if resp := postUpload(t, env, "", body, contentType); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous upload: expected 401, got %d", resp.StatusCode)
	}
}
