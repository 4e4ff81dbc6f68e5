package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/instalite-chat/internal/auth"
	"github.com/vovakirdan/instalite-chat/internal/config"
	"github.com/vovakirdan/instalite-chat/internal/core"
	"github.com/vovakirdan/instalite-chat/internal/service/messages"
	"github.com/vovakirdan/instalite-chat/internal/store/sqlite"
	"github.com/vovakirdan/instalite-chat/internal/upload"
)

const testJWTSecret = "test-secret-value"

// testEnv is a running server backed by in-memory storage.
type testEnv struct {
	server   *httptest.Server
	auth     *auth.Service
	store    *sqlite.SQLiteStore
	messages *messages.Service
	hub      core.Hub
	cfg      config.Config
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.server.URL, "http", "ws", 1) + "/ws"
}

// testConfig returns defaults suitable for tests; mutate adjusts them.
func testConfig(t *testing.T, mutate func(*config.Config)) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	cfg.JWTSecret = testJWTSecret
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	cfg.UploadDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

// startTestEnv wires the full HTTP stack the way the app does.
func startTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig(t, mutate)

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := createTestAuthService(t, st, cfg)
	msgService := messages.New(st, messages.WithHistoryLimit(cfg.HistoryLimit))

	uploads, err := upload.New(cfg.UploadDir, "/uploads", cfg.MaxUploadBytes)
	if err != nil {
		t.Fatalf("failed to create upload store: %v", err)
	}

	logger := zerolog.Nop()
	hub := core.NewHub(msgService, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	server := NewServer(Deps{
		Hub:      hub,
		Auth:     authService,
		Users:    st,
		Messages: msgService,
		Uploads:  uploads,
	}, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, auth: authService, store: st, messages: msgService, hub: hub, cfg: cfg}
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st *sqlite.SQLiteStore, cfg config.Config) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}

	return auth.NewService(st, jwtConfig)
}

// registerUser creates a user and returns its token and id.
func registerUser(t *testing.T, env *testEnv, username string) (string, int64) {
	t.Helper()

	token, user, err := env.auth.Register(context.Background(), username, username+"@example.com", "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return token, user.ID
}
