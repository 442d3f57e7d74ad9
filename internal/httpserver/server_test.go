package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/language"

	"github.com/robalobadob/realeffort/internal/config"
	"github.com/robalobadob/realeffort/internal/payout"
	"github.com/robalobadob/realeffort/internal/session"
	"github.com/robalobadob/realeffort/internal/store"
	"github.com/robalobadob/realeffort/internal/task"
)

const adminPassword = "let-me-in"

type testServer struct {
	*httptest.Server
	srv   *Server
	store store.Store
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.DBDriver = "memory"
	cfg.AdminPasswordHash = string(hash)
	cfg.Experiment.TaskVariant = task.TranscriptionName
	cfg.Experiment.Task.RetryDelay = 0
	cfg.Experiment.Task.PuzzleDelay = 0
	for _, m := range mutate {
		m(&cfg)
	}

	st := store.NewMemoryStore()
	provider, err := task.Lookup(cfg.Experiment.TaskVariant)
	require.NoError(t, err)
	money, err := payout.New(cfg.Experiment.Currency, language.English)
	require.NoError(t, err)
	proto := session.New(st, provider, cfg.SessionParams(), session.WithDebug(cfg.Debug))

	srv := New(cfg, st, proto, money)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, srv: srv, store: st}
}

// do sends a request and decodes the JSON response body into a map.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return res.StatusCode, out
}

func (ts *testServer) join(t *testing.T) (id, token string) {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, "/participants", "", map[string]any{"label": "lab-1"})
	require.Equal(t, http.StatusCreated, status)
	return body["id"].(string), body["token"].(string)
}

func (ts *testServer) send(t *testing.T, token string, ev map[string]any) (int, map[string]any) {
	t.Helper()
	return ts.do(t, http.MethodPost, "/live", token, ev)
}

func puzzleText(t *testing.T, msg map[string]any) string {
	t.Helper()
	pz, ok := msg["puzzle"].(map[string]any)
	require.True(t, ok, "message has no puzzle: %v", msg)
	return pz["text"].(string)
}

func TestHealthAndNotFound(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	status, body = ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestCreateParticipant(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/participants", strings.NewReader(`{"more_high_wage":false}`))
	require.NoError(t, err)
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var body createParticipantRes
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.NotEmpty(t, body.ID)
	assert.NotEmpty(t, body.Token)
	assert.Contains(t, []float64{0.10, 0.05}, body.Wage)
	assert.Equal(t, "EUR", body.Currency)
	assert.Equal(t, "75%", body.PLowWage)
	assert.Equal(t, "25%", body.PHighWage)

	var cookie *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == "realeffort_token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, body.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	p, err := ts.store.Player(req.Context(), body.ID)
	require.NoError(t, err)
	assert.False(t, p.MoreHighWage)
	assert.Equal(t, body.Wage, p.Wage)
}

func TestCreateParticipant_EmptyBodyDefaultsToMoreHigh(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodPost, "/participants", "", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "25%", body["p_low_wage"])

	status, body = ts.do(t, http.MethodPost, "/participants", "", "not an object")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_json", body["error"])
}

func TestRequireParticipant(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.send(t, "", map[string]any{"type": "load"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, body = ts.send(t, "garbage", map[string]any{"type": "load"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_token", body["error"])

	// a validly signed token for a player that does not exist
	tok, _, err := ts.srv.signToken("ghost")
	require.NoError(t, err)
	status, _ = ts.send(t, tok, map[string]any{"type": "load"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestTaskVars(t *testing.T) {
	ts := newTestServer(t)
	_, tok := ts.join(t)

	status, body := ts.do(t, http.MethodGet, "/task/vars", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, task.TranscriptionName, body["variant"])
	assert.Equal(t, "text", body["input_type"])
	params := body["params"].(map[string]any)
	assert.Equal(t, float64(1), params["attempts_per_puzzle"])
	assert.Equal(t, float64(10), params["max_iterations"])
}

func TestLive_HTTPFlow(t *testing.T) {
	ts := newTestServer(t)
	_, tok := ts.join(t)

	status, msg := ts.send(t, tok, map[string]any{"type": "load"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "status", msg["type"])
	assert.Nil(t, msg["puzzle"])

	status, msg = ts.send(t, tok, map[string]any{"type": "answer", "answer": "abc"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "no_puzzle", msg["error"])

	status, msg = ts.send(t, tok, map[string]any{"type": "next"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "puzzle", msg["type"])
	first := puzzleText(t, msg)

	status, msg = ts.send(t, tok, map[string]any{"type": "next"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "unanswered_puzzle", msg["error"])

	status, msg = ts.send(t, tok, map[string]any{"type": "load"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first, puzzleText(t, msg), "load re-sends the current puzzle")

	status, msg = ts.send(t, tok, map[string]any{"type": "answer", "answer": "0"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "feedback", msg["type"])
	assert.Equal(t, false, msg["is_correct"])
	assert.Equal(t, float64(0), msg["retries_left"])

	status, msg = ts.send(t, tok, map[string]any{"type": "answer", "answer": first})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "no_attempts_left", msg["error"])

	status, msg = ts.send(t, tok, map[string]any{"type": "next"})
	require.Equal(t, http.StatusOK, status)
	second := puzzleText(t, msg)

	status, msg = ts.send(t, tok, map[string]any{"type": "answer", "answer": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_answer", msg["error"])

	status, msg = ts.send(t, tok, map[string]any{"type": "answer", "answer": strings.ToUpper(second)})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, msg["is_correct"])
	progress := msg["progress"].(map[string]any)
	assert.Equal(t, float64(2), progress["num_trials"])
	assert.Equal(t, float64(1), progress["num_correct"])
	assert.Equal(t, float64(1), progress["num_incorrect"])

	status, msg = ts.send(t, tok, map[string]any{"type": "jump"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "unrecognized_event", msg["error"])

	status, msg = ts.send(t, tok, map[string]any{"type": "cheat"})
	assert.Equal(t, http.StatusConflict, status, "cheat is off outside debug")
	assert.Equal(t, "unrecognized_event", msg["error"])
}

func TestLive_BadJSON(t *testing.T) {
	ts := newTestServer(t)
	_, tok := ts.join(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/live", strings.NewReader(`{"type":`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestLive_CheatInDebug(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Debug = true })
	_, tok := ts.join(t)

	_, msg := ts.send(t, tok, map[string]any{"type": "next"})
	text := puzzleText(t, msg)

	status, msg := ts.send(t, tok, map[string]any{"type": "cheat"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "solution", msg["type"])
	assert.Equal(t, text, msg["solution"])
}

func TestLive_Exhaustion(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Experiment.Task.MaxIterations = 2 })
	_, tok := ts.join(t)

	for i := 0; i < 2; i++ {
		_, msg := ts.send(t, tok, map[string]any{"type": "next"})
		_, msg = ts.send(t, tok, map[string]any{"type": "answer", "answer": puzzleText(t, msg)})
		require.Equal(t, true, msg["is_correct"])
	}

	status, msg := ts.send(t, tok, map[string]any{"type": "next"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "status", msg["type"])
	assert.Equal(t, float64(0), msg["iterations_left"])
}

func TestResults_FinishStampsOnce(t *testing.T) {
	ts := newTestServer(t)
	id, tok := ts.join(t)

	var (
		mu  sync.Mutex
		now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	)
	ts.srv.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	_, msg := ts.send(t, tok, map[string]any{"type": "next"})
	ts.send(t, tok, map[string]any{"type": "answer", "answer": puzzleText(t, msg)})

	status, body := ts.do(t, http.MethodGet, "/results", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, body["finished_at"])

	p, err := ts.store.Player(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, p.Wage, body["earning"])
	assert.Equal(t, "EUR", body["currency"])
	assert.Contains(t, body["earning_display"], "€")

	status, body = ts.do(t, http.MethodPost, "/results", tok, nil)
	require.Equal(t, http.StatusOK, status)
	firstStamp := body["finished_at"]
	require.NotNil(t, firstStamp)

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	_, body = ts.do(t, http.MethodPost, "/results", tok, nil)
	assert.Equal(t, firstStamp, body["finished_at"])
}

func TestAdminPuzzles(t *testing.T) {
	ts := newTestServer(t)
	id, tok := ts.join(t)
	_, msg := ts.send(t, tok, map[string]any{"type": "next"})
	text := puzzleText(t, msg)
	ts.send(t, tok, map[string]any{"type": "answer", "answer": text})

	get := func(user, pw, pid string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/admin/players/"+pid+"/puzzles", nil)
		require.NoError(t, err)
		if user != "" {
			req.SetBasicAuth(user, pw)
		}
		res, err := ts.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { res.Body.Close() })
		return res
	}

	assert.Equal(t, http.StatusUnauthorized, get("", "", id).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("admin", "wrong", id).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("root", adminPassword, id).StatusCode)
	assert.Equal(t, http.StatusNotFound, get("admin", adminPassword, "missing").StatusCode)

	res := get("admin", adminPassword, id)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var entries []session.AuditEntry
	require.NoError(t, json.NewDecoder(res.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Iteration)
	assert.Equal(t, text, entries[0].Solution)
	require.NotNil(t, entries[0].IsCorrect)
	assert.True(t, *entries[0].IsCorrect)
}

func TestAdminPuzzles_ClosedWithoutHash(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.AdminPasswordHash = "" })
	id, _ := ts.join(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/admin/players/"+id+"/puzzles", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "")
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLive_WebSocket(t *testing.T) {
	ts := newTestServer(t)
	_, tok := ts.join(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live?token=" + tok
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	res.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	roundTrip := func(v any) map[string]any {
		t.Helper()
		switch m := v.(type) {
		case string:
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
		default:
			require.NoError(t, conn.WriteJSON(m))
		}
		var out map[string]any
		require.NoError(t, conn.ReadJSON(&out))
		return out
	}

	msg := roundTrip(map[string]any{"type": "load"})
	assert.Equal(t, "status", msg["type"])

	msg = roundTrip(`{"type":`)
	assert.Equal(t, "bad_json", msg["error"], "connection survives malformed input")

	msg = roundTrip(map[string]any{"type": "next"})
	require.Equal(t, "puzzle", msg["type"])
	text := puzzleText(t, msg)

	msg = roundTrip(map[string]any{"type": "next"})
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "unanswered_puzzle", msg["error"])

	msg = roundTrip(map[string]any{"type": "answer", "answer": text})
	assert.Equal(t, "feedback", msg["type"])
	assert.Equal(t, true, msg["is_correct"])
}

func TestLive_WebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live"
	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
