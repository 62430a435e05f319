package routes

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk/zapdesk-backend/internal/dashboard"
	"github.com/zapdesk/zapdesk-backend/internal/metrics"
	"github.com/zapdesk/zapdesk-backend/internal/storage"
	"github.com/zapdesk/zapdesk-backend/internal/whatsapp"
	"github.com/zapdesk/zapdesk-backend/internal/ws"
)

func newRoutedApp(t *testing.T) *fiber.App {
	t.Helper()

	store := storage.NewMemoryStore()
	registry := whatsapp.NewRegistry()
	hub := ws.NewHub()
	recorder := metrics.NewRecorder(store)
	emitter := dashboard.NewEmitter(store, hub, registry)
	media := whatsapp.NewMediaStore(t.TempDir(), "http://localhost:8080")
	router := whatsapp.NewRouter(store, recorder, emitter, media, nil, t.TempDir())
	manager := whatsapp.NewManager(registry, router, recorder, emitter, hub, t.TempDir())

	app := fiber.New()
	SetupRoutes(app, Deps{
		Store:    store,
		Registry: registry,
		Manager:  manager,
		Router:   router,
		Media:    media,
		Emitter:  emitter,
		Recorder: recorder,
		Hub:      hub,
		FAQDir:   t.TempDir(),
	})
	return app
}

func TestHealthRoute(t *testing.T) {
	app := newRoutedApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestSessionRoutesRegistered(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	app := newRoutedApp(t)

	// Registered paths answer 401 without a token, never 404
	for _, path := range []string{
		"/api/whatsapp/connect",
		"/api/whatsapp/request-pairing-code",
		"/api/whatsapp/logout",
		"/api/whatsapp/upload-media",
	} {
		resp, err := app.Test(httptest.NewRequest("POST", path, nil))
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode, path)
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/api/whatsapp/unknown", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode) // auth middleware runs before routing depth

	resp, err = app.Test(httptest.NewRequest("POST", "/whatsapp/connect", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestTicketRoutesRegistered(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	app := newRoutedApp(t)

	for method, path := range map[string]string{
		"GET":    "/api/tickets",
		"PATCH":  "/api/tickets/111",
		"DELETE": "/api/tickets/111",
	} {
		resp, err := app.Test(httptest.NewRequest(method, path, nil))
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode, method+" "+path)
	}
}
