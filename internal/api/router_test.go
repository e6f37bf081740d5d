package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ws "nhooyr.io/websocket"

	"highwayhub/voice/internal/auth"
	"highwayhub/voice/internal/daily"
	"highwayhub/voice/internal/hub"
	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/store"
	"highwayhub/voice/internal/types"
)

type testEnv struct {
	router *Router
	issuer *auth.Issuer
	events *store.EventLog
	hub    *hub.Hub
}

func setupRouter(t *testing.T, tokensPerMin int) *testEnv {
	gin.SetMode(gin.TestMode)

	clock := clockwork.NewFakeClock()
	issuer, err := auth.NewIssuer("api-secret", time.Minute, clock)
	require.NoError(t, err)
	events := store.NewEventLog(50, 100, 0, clock)
	h := hub.New(issuer, hub.NewRegistry(clock, time.Second, log.NewNop()), events, clock, log.NewNop(), hub.Options{})

	router := NewRouter(Deps{
		Rooms:       store.NewMemory(64, time.Hour),
		Events:      events,
		Provider:    &HubProvider{Issuer: issuer, PublicWSURL: "wss://voice.example"},
		Hub:         h,
		Limiter:     NewLimiter(tokensPerMin, 64),
		RoomPrefix:  "hub-voice-",
		CORSOrigins: []string{"https://app.example"},
		Logger:      log.NewNop(),
	})
	return &testEnv{router: router, issuer: issuer, events: events, hub: h}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	e.router.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	env := setupRouter(t, 0)
	w := env.do("GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestMetrics(t *testing.T) {
	env := setupRouter(t, 0)
	env.do("GET", "/healthz", nil)

	w := env.do("GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api_requests_total")
}

func TestCreateRoom(t *testing.T) {
	t.Run("Idempotent", func(t *testing.T) {
		env := setupRouter(t, 0)

		w := env.do("POST", "/voice/room", types.RoomRequest{UserID: "user-a"})
		require.Equal(t, http.StatusOK, w.Code)
		first := decode[types.RoomResponse](t, w)
		assert.True(t, strings.HasPrefix(first.RoomID, "hub-voice-"))

		w = env.do("POST", "/voice/room", types.RoomRequest{UserID: "user-a"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, first.RoomID, decode[types.RoomResponse](t, w).RoomID)

		w = env.do("POST", "/voice/room", types.RoomRequest{UserID: "user-b"})
		assert.NotEqual(t, first.RoomID, decode[types.RoomResponse](t, w).RoomID)

		evs := env.events.List(first.RoomID)
		require.Len(t, evs, 1)
		assert.Equal(t, "room_created", evs[0].Type)
	})

	t.Run("ValidationFailed", func(t *testing.T) {
		env := setupRouter(t, 0)

		w := env.do("POST", "/voice/room", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode[map[string]any](t, w)
		assert.Equal(t, "Validation failed", resp["error"])
		details := resp["details"].([]any)
		assert.Equal(t, "UserID", details[0].(map[string]any)["field"])
	})

	t.Run("MalformedBody", func(t *testing.T) {
		env := setupRouter(t, 0)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/voice/room", strings.NewReader("{"))
		env.router.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid JSON body", decode[map[string]any](t, w)["error"])
	})

	t.Run("StoreDown", func(t *testing.T) {
		env := setupRouter(t, 0)
		env.router.deps.Rooms = failingRooms{}

		w := env.do("POST", "/voice/room", types.RoomRequest{UserID: "user-a"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestIssueToken(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		env := setupRouter(t, 0)
		room := decode[types.RoomResponse](t, env.do("POST", "/voice/room", types.RoomRequest{UserID: "user-a"})).RoomID

		w := env.do("POST", "/voice/token", types.TokenRequest{
			RoomID:      room,
			UserID:      "user-a",
			DisplayName: "Dusty",
			IsOwner:     true,
		})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[types.TokenResponse](t, w)
		assert.Equal(t, "wss://voice.example/ws/rooms/"+room, resp.RoomURL)
		assert.False(t, resp.ExpiresAt.IsZero())

		claims, err := env.issuer.Verify(resp.JoinToken, room)
		require.NoError(t, err)
		assert.Equal(t, "Dusty", claims.DisplayName)
		assert.True(t, claims.IsOwner)

		evs := env.events.List(room)
		require.Len(t, evs, 2)
		assert.Equal(t, "token_issued", evs[1].Type)
	})

	t.Run("UnknownRoom", func(t *testing.T) {
		env := setupRouter(t, 0)
		w := env.do("POST", "/voice/token", types.TokenRequest{RoomID: "nope", UserID: "user-a", DisplayName: "Dusty"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("ValidationFailed", func(t *testing.T) {
		env := setupRouter(t, 0)
		w := env.do("POST", "/voice/token", types.TokenRequest{RoomID: "r", UserID: "user-a", DisplayName: strings.Repeat("x", 65)})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("RateLimited", func(t *testing.T) {
		env := setupRouter(t, 2)
		room := decode[types.RoomResponse](t, env.do("POST", "/voice/room", types.RoomRequest{UserID: "user-a"})).RoomID
		req := types.TokenRequest{RoomID: room, UserID: "user-a", DisplayName: "Dusty"}

		assert.Equal(t, http.StatusOK, env.do("POST", "/voice/token", req).Code)
		assert.Equal(t, http.StatusOK, env.do("POST", "/voice/token", req).Code)
		assert.Equal(t, http.StatusTooManyRequests, env.do("POST", "/voice/token", req).Code)

		// other users have their own bucket
		req.UserID = "user-b"
		assert.Equal(t, http.StatusOK, env.do("POST", "/voice/token", req).Code)
	})

	t.Run("DailyProvider", func(t *testing.T) {
		env := setupRouter(t, 0)
		d := &fakeDaily{token: "meeting-token"}
		env.router.deps.Provider = &DailyProvider{
			Client:   d,
			Domain:   "highway.daily.co",
			Privacy:  "private",
			RoomTTL:  time.Hour,
			TokenTTL: 10 * time.Minute,
			Clock:    clockwork.NewFakeClock(),
		}
		room := decode[types.RoomResponse](t, env.do("POST", "/voice/room", types.RoomRequest{UserID: "user-a"})).RoomID

		w := env.do("POST", "/voice/token", types.TokenRequest{RoomID: room, UserID: "user-a", DisplayName: "Dusty", IsOwner: true})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[types.TokenResponse](t, w)
		assert.Equal(t, "https://highway.daily.co/"+room, resp.RoomURL)
		assert.Equal(t, "meeting-token", resp.JoinToken)
		assert.Equal(t, []string{room}, d.rooms)
		assert.True(t, d.lastToken.IsOwner)
		assert.Equal(t, "Dusty", d.lastToken.UserName)
	})

	t.Run("DailyFailure", func(t *testing.T) {
		env := setupRouter(t, 0)
		env.router.deps.Provider = &DailyProvider{
			Client: &fakeDaily{err: errors.New("daily down")},
			Clock:  clockwork.NewFakeClock(),
		}
		room := decode[types.RoomResponse](t, env.do("POST", "/voice/room", types.RoomRequest{UserID: "user-a"})).RoomID

		w := env.do("POST", "/voice/token", types.TokenRequest{RoomID: room, UserID: "user-a", DisplayName: "Dusty"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestRoomViews(t *testing.T) {
	env := setupRouter(t, 0)

	w := env.do("GET", "/voice/rooms/room-1/participants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, "room-1", resp["room_id"])
	assert.Empty(t, resp["participants"])

	env.events.Append("room-1", "room_created", nil)
	w = env.do("GET", "/voice/rooms/room-1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string]any](t, w)["events"], 1)

	env.router.deps.Hub = nil
	assert.Equal(t, http.StatusNotImplemented, env.do("GET", "/voice/rooms/room-1/participants", nil).Code)
}

func TestCORS(t *testing.T) {
	env := setupRouter(t, 0)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("OPTIONS", "/voice/room", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	env.router.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebsocketRoute(t *testing.T) {
	env := setupRouter(t, 0)
	srv := httptest.NewServer(env.router.Handler())
	defer srv.Close()

	tok, _, err := env.issuer.Issue("room-1", "user-a", "Dusty", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/room-1?token=" + tok
	c, _, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer c.Close(ws.StatusNormalClosure, "")

	assert.Eventually(t, func() bool { return len(env.hub.Members("room-1")) == 1 }, 2*time.Second, 5*time.Millisecond)
}

type failingRooms struct{}

func (failingRooms) Assign(context.Context, string, string) (string, bool, error) {
	return "", false, store.ErrStore
}

func (failingRooms) Known(context.Context, string) (bool, error) { return false, store.ErrStore }

type fakeDaily struct {
	token     string
	err       error
	rooms     []string
	lastToken daily.TokenRequest
}

func (f *fakeDaily) CreateRoom(_ context.Context, name, _ string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.rooms = append(f.rooms, name)
	return nil
}

func (f *fakeDaily) CreateMeetingToken(_ context.Context, req daily.TokenRequest) (string, error) {
	f.lastToken = req
	return f.token, f.err
}
