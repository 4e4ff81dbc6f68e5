package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vovakirdan/instalite-chat/internal/proto"
)

// User is a user as returned by the REST API.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// AuthResult is the body of a successful register or login.
type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// APIError is a non-2xx REST response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// API is a REST client for the chat server.
type API struct {
	base  string
	http  *http.Client
	token string
}

// NewAPI creates a client for the server at baseURL (e.g.
// http://localhost:8080). A nil httpClient uses a 10s timeout client.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &API{base: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

// Token returns the bearer token in use.
func (a *API) Token() string {
	return a.token
}

// SetToken sets the bearer token sent with authenticated requests.
func (a *API) SetToken(token string) {
	a.token = token
}

// Register creates an account and keeps its token.
func (a *API) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	var res AuthResult
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := a.doJSON(ctx, http.MethodPost, "/api/auth/register", body, &res); err != nil {
		return nil, err
	}
	a.token = res.Token
	return &res, nil
}

// Login signs in by username or email and keeps the token.
func (a *API) Login(ctx context.Context, login, password string) (*AuthResult, error) {
	var res AuthResult
	body := map[string]string{"emailOrUsername": login, "password": password}
	if err := a.doJSON(ctx, http.MethodPost, "/api/auth/login", body, &res); err != nil {
		return nil, err
	}
	a.token = res.Token
	return &res, nil
}

// Me returns the signed-in user.
func (a *API) Me(ctx context.Context) (*User, error) {
	var u User
	if err := a.doJSON(ctx, http.MethodGet, "/api/users/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchUsers finds other users by username fragment.
func (a *API) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	path := "/api/users/search?q=" + url.QueryEscape(query)
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// History returns the recent messages of roomID, oldest first.
func (a *API) History(ctx context.Context, roomID string) ([]proto.MessageData, error) {
	msgs := []proto.MessageData{}
	if err := a.doJSON(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(roomID), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UploadFile uploads the file at path and returns a reference ready for
// Session.Attach.
func (a *API) UploadFile(ctx context.Context, path string) (*Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return a.Upload(ctx, filepath.Base(path), f)
}

// Upload sends r as a multipart file named name.
func (a *API) Upload(ctx context.Context, name string, r io.Reader) (*Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/api/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res struct {
		FileURL      string `json:"fileUrl"`
		OriginalName string `json:"originalName"`
	}
	if err := a.do(req, &res); err != nil {
		return nil, err
	}
	return &Attachment{URL: res.FileURL, Name: res.OriginalName}, nil
}

func (a *API) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.do(req, out)
}

func (a *API) do(req *http.Request, out any) error {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
