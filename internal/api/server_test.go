package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthlab/hearth-core/internal/bus"
	"github.com/hearthlab/hearth-core/internal/infrastructure/config"
	"github.com/hearthlab/hearth-core/internal/infrastructure/logging"
	"github.com/hearthlab/hearth-core/internal/recorder"
	"github.com/hearthlab/hearth-core/internal/state"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

// newTestServer builds an unstarted server over a fresh bus and store.
func newTestServer(t *testing.T, history HistoryReader) (*Server, *state.Store, *bus.Bus) {
	t.Helper()

	b := bus.New()
	t.Cleanup(b.Close)
	store := state.NewStore(b)

	s, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 8123},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Logger:   testLogger(),
		Store:    store,
		Bus:      b,
		History:  history,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, store, b
}

func authToken(t *testing.T) string {
	t.Helper()
	token, err := IssueToken(testSecret, "tester", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

// doRequest runs one request through the full router.
func doRequest(t *testing.T, s *Server, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNoAuth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage token", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodGet, "/api/states", tt.token, "")
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("GET /api/states status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestAuthWrongSecret(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	token, err := IssueToken("wrong-secret-wrong-secret-wrong!", "tester", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/states", token, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthExpiredToken(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	token, err := IssueToken(testSecret, "tester", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/states", token, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestListStates(t *testing.T) {
	s, store, _ := newTestServer(t, nil)
	token := authToken(t)

	for _, id := range []string{"light.kitchen", "sensor.temp"} {
		if _, err := store.Set(id, "on", nil, bus.NewContext()); err != nil {
			t.Fatalf("Set(%s) error = %v", id, err)
		}
	}

	rec := doRequest(t, s, http.MethodGet, "/api/states", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var states []state.State
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(states) != 2 {
		t.Errorf("returned %d states, want 2", len(states))
	}
}

func TestGetState(t *testing.T) {
	s, store, _ := newTestServer(t, nil)
	token := authToken(t)

	if _, err := store.Set("light.kitchen", "on", map[string]any{"brightness": 180}, bus.NewContext()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/states/light.kitchen", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var st state.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if st.EntityID != "light.kitchen" || st.Value != "on" {
		t.Errorf("got %s=%s, want light.kitchen=on", st.EntityID, st.Value)
	}
}

func TestGetStateNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/states/light.ghost", authToken(t), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSetState(t *testing.T) {
	s, store, _ := newTestServer(t, nil)
	token := authToken(t)

	rec := doRequest(t, s, http.MethodPost, "/api/states/light.kitchen", token,
		`{"state":"on","attributes":{"brightness":128}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first write status = %d, want 201", rec.Code)
	}

	st := store.Get("light.kitchen")
	if st == nil || st.Value != "on" {
		t.Fatalf("store state after write = %+v", st)
	}
	if st.Context.UserID != "tester" {
		t.Errorf("Context.UserID = %q, want tester", st.Context.UserID)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/states/light.kitchen", token, `{"state":"off"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("second write status = %d, want 200", rec.Code)
	}
}

func TestSetStateInvalid(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	token := authToken(t)

	rec := doRequest(t, s, http.MethodPost, "/api/states/notanentity", token, `{"state":"on"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid entity status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/states/light.kitchen", token, `{bad json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", rec.Code)
	}
}

// fakeHistory is a HistoryReader returning canned entries.
type fakeHistory struct {
	entries  []recorder.HistoryEntry
	err      error
	gotStart time.Time
	gotEnd   time.Time
}

func (f *fakeHistory) StatesBetween(_ context.Context, _ string, start, end time.Time) ([]recorder.HistoryEntry, error) {
	f.gotStart, f.gotEnd = start, end
	return f.entries, f.err
}

func TestHistory(t *testing.T) {
	fake := &fakeHistory{entries: []recorder.HistoryEntry{
		{EventID: 1, EntityID: "sensor.temp", Value: "21.5"},
		{EventID: 2, EntityID: "sensor.temp", Value: "22.0"},
	}}
	s, _, _ := newTestServer(t, fake)
	token := authToken(t)

	rec := doRequest(t, s, http.MethodGet,
		"/api/history/sensor.temp?start=2026-08-29T00:00:00Z&end=2026-08-29T06:00:00Z", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var entries []recorder.HistoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("returned %d entries, want 2", len(entries))
	}

	wantStart := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	if !fake.gotStart.Equal(wantStart) {
		t.Errorf("start passed to reader = %v, want %v", fake.gotStart, wantStart)
	}
}

func TestHistoryBadRequests(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeHistory{})
	token := authToken(t)

	tests := []struct {
		name string
		path string
	}{
		{"bad start", "/api/history/sensor.temp?start=yesterday"},
		{"bad end", "/api/history/sensor.temp?end=later"},
		{"start after end", "/api/history/sensor.temp?start=2026-08-29T06:00:00Z&end=2026-08-29T00:00:00Z"},
		{"invalid entity", "/api/history/notanentity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodGet, tt.path, token, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHistoryDisabled(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/history/sensor.temp", authToken(t), "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// startWSServer wires the hub and bus relay around an httptest server.
func startWSServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(ctx)
	s.subscribeBusEvents()

	ts := httptest.NewServer(s.buildRouter())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

func TestWebSocketRequiresToken(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	ts := startWSServer(t, s)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake status = %v, want 401", resp)
	}
}

func TestWebSocketStateStream(t *testing.T) {
	s, store, _ := newTestServer(t, nil)
	ts := startWSServer(t, s)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + authToken(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{"state_changed"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON() response error = %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	if _, err := store.Set("light.kitchen", "on", nil, bus.NewContext()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	//nolint:errcheck // Deadline guards the blocking read below
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt WSMessage
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("ReadJSON() event error = %v", err)
	}
	if evt.Type != WSTypeEvent || evt.EventType != "state_changed" {
		t.Errorf("event = %+v, want state_changed event", evt)
	}

	payload, ok := evt.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", evt.Payload)
	}
	if id, _ := payload["entity_id"].(string); id != "light.kitchen" {
		t.Errorf("entity_id = %v, want light.kitchen", payload["entity_id"])
	}
	if payload["old_state"] != nil {
		t.Errorf("old_state = %v, want nil for a first write", payload["old_state"])
	}
	newState, _ := payload["new_state"].(map[string]any)
	if v, _ := newState["state"].(string); v != "on" {
		t.Errorf("new_state.state = %v, want on", newState["state"])
	}
}

// An entity filter on the subscription narrows the state stream to the
// named entities.
func TestWebSocketEntityFilter(t *testing.T) {
	s, store, _ := newTestServer(t, nil)
	ts := startWSServer(t, s)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + authToken(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	sub := WSMessage{
		Type: WSTypeSubscribe,
		ID:   "1",
		Payload: WSSubscribePayload{
			Channels:  []string{"state_changed"},
			EntityIDs: []string{"sensor.hall_temp"},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON() response error = %v", err)
	}

	// A write outside the filter, then one inside it. Only the second
	// may arrive.
	if _, err := store.Set("light.kitchen", "on", nil, bus.NewContext()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := store.Set("sensor.hall_temp", "19.5", nil, bus.NewContext()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	//nolint:errcheck // Deadline guards the blocking read below
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt WSMessage
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("ReadJSON() event error = %v", err)
	}
	payload, _ := evt.Payload.(map[string]any)
	if id, _ := payload["entity_id"].(string); id != "sensor.hall_temp" {
		t.Errorf("entity_id = %v, want sensor.hall_temp (filtered)", payload["entity_id"])
	}
}
