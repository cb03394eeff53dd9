package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/auth"
	"github.com/talkmate/companion/internal/convert"
	"github.com/talkmate/companion/internal/errs"
	"github.com/talkmate/companion/internal/limiter"
	"github.com/talkmate/companion/internal/model"
	"github.com/talkmate/companion/internal/repository"
	"github.com/talkmate/companion/internal/repository/memory"
	"github.com/talkmate/companion/internal/service"
)

const testPollerKey = "poll-secret"

type env struct {
	srv *httptest.Server
	gw  repository.Gateway
	tm  *auth.Manager
}

// newEnv wires real services over the in-memory gateway.
func newEnv(t *testing.T, gw repository.Gateway) *env {
	t.Helper()
	tm, err := auth.NewManager([]byte("http-test-key"), "HS256", time.Hour, gw)
	require.NoError(t, err)
	log := zap.NewNop()
	s := New(
		service.NewAuthService(gw, tm, limiter.NewMemory(limiter.Settings{MaxFails: 3}), log),
		service.NewMemoryService(gw, log),
		service.NewReminderService(gw, log),
		gw,
		testPollerKey,
		log,
	)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &env{srv: srv, gw: gw, tm: tm}
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func (e *env) register(t *testing.T, user, pwd string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/register", "", convert.Credentials{Username: user, Password: pwd})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func (e *env) login(t *testing.T, user, pwd string) string {
	t.Helper()
	form := url.Values{"username": {user}, "password": {pwd}}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, body := send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var tok convert.TokenResponse
	require.NoError(t, json.Unmarshal(body, &tok))
	require.Equal(t, "bearer", tok.TokenType)
	return tok.AccessToken
}

func requireUnauthorized(t *testing.T, resp *http.Response, body []byte) {
	t.Helper()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	require.JSONEq(t, `{"detail":"Could not validate credentials"}`, string(body))
}

func TestRegisterLoginMe(t *testing.T) {
	e := newEnv(t, memory.New())

	e.register(t, "alice", "wonderland")

	resp, body := e.do(t, http.MethodPost, "/register", "", convert.Credentials{Username: "alice", Password: "x"})
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, _ = e.do(t, http.MethodPost, "/register", "", convert.Credentials{Username: "al", Password: "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	token := e.login(t, "alice", "wonderland")

	// JSON login works as well.
	resp, body = e.do(t, http.MethodPost, "/token", "", convert.Credentials{Username: "alice", Password: "wonderland"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = e.do(t, http.MethodGet, "/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"username":"alice"}`, string(body))
}

func TestToken_BadCredentialsAndRateLimit(t *testing.T) {
	e := newEnv(t, memory.New())
	e.register(t, "bob", "builder")

	resp, body := e.do(t, http.MethodPost, "/token", "", convert.Credentials{Username: "ghost", Password: "x"})
	requireUnauthorized(t, resp, body)

	resp, body = e.do(t, http.MethodPost, "/token", "", convert.Credentials{Username: "bob"})
	requireUnauthorized(t, resp, body)

	for i := 0; i < 2; i++ {
		resp, body = e.do(t, http.MethodPost, "/token", "", convert.Credentials{Username: "bob", Password: "wrong"})
		requireUnauthorized(t, resp, body)
	}
	resp, _ = e.do(t, http.MethodPost, "/token", "", convert.Credentials{Username: "bob", Password: "wrong"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestProtectedRoutes_UniformUnauthorized(t *testing.T) {
	gw := memory.New()
	e := newEnv(t, gw)
	e.register(t, "carol", "pw")
	good := e.login(t, "carol", "pw")

	stale, err := e.tm.IssueToken(claimsFor("carol"), -time.Minute)
	require.NoError(t, err)
	orphan, err := e.tm.Issue("nobody")
	require.NoError(t, err)
	otherKey, err := auth.NewManager([]byte("another-key"), "HS256", time.Hour, gw)
	require.NoError(t, err)
	forged, err := otherKey.Issue("carol")
	require.NoError(t, err)

	cases := map[string]func(*http.Request){
		"missing header":  func(*http.Request) {},
		"wrong scheme":    func(r *http.Request) { r.Header.Set("Authorization", "Basic "+good) },
		"empty bearer":    func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") },
		"garbage":         func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") },
		"expired":         func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+stale.AccessToken) },
		"unknown subject": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+orphan.AccessToken) },
		"wrong key":       func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+forged.AccessToken) },
		"tampered":        func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tamper(good)) },
	}
	for name, setup := range cases {
		for _, path := range []string{"/users/me", "/conversations", "/reminders", "/conversations/context"} {
			req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
			require.NoError(t, err)
			setup(req)
			resp, body := send(t, req)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("%s %s: status %d body %s", name, path, resp.StatusCode, body)
			}
			requireUnauthorized(t, resp, body)
		}
	}
}

// tamper flips one character in the payload segment.
func tamper(token string) string {
	b := []byte(token)
	i := strings.IndexByte(token, '.') + 2
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func claimsFor(sub string) auth.Claims {
	var c auth.Claims
	c.Subject = sub
	return c
}

func TestConversations(t *testing.T) {
	e := newEnv(t, memory.New())
	e.register(t, "dora", "explorer")
	token := e.login(t, "dora", "explorer")

	for _, s := range []string{"one", "two", "three"} {
		resp, body := e.do(t, http.MethodPost, "/conversations", token, convert.SaveConversationRequest{
			Messages: []model.Message{{Role: "user", Content: s}, {Role: "assistant", Content: s + "!"}},
			Summary:  "talked about " + s,
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))
		time.Sleep(2 * time.Millisecond)
	}
	resp, _ := e.do(t, http.MethodPost, "/conversations", token, convert.SaveConversationRequest{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := e.do(t, http.MethodGet, "/conversations/context?limit=2", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"context":"user: two\nassistant: two!\nuser: three\nassistant: three!\n"}`, string(body))

	resp, body = e.do(t, http.MethodGet, "/conversations", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist []convert.ConversationSummary
	require.NoError(t, json.Unmarshal(body, &hist))
	require.Len(t, hist, 3)
	require.Equal(t, "talked about three", hist[0].Summary)
	_, err := time.Parse(time.RFC3339Nano, hist[0].Timestamp)
	require.NoError(t, err)

	resp, _ = e.do(t, http.MethodGet, "/conversations?limit=zero", token, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/conversations", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = send(t, req)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReminders_UserAndPollerFlow(t *testing.T) {
	e := newEnv(t, memory.New())
	e.register(t, "erin", "pw1234")
	token := e.login(t, "erin", "pw1234")
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	resp, body := e.do(t, http.MethodPost, "/reminders", token, convert.ScheduleReminderRequest{Type: "sms", RemindTime: past, Message: "drink water"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	require.JSONEq(t, `{"ok":true}`, string(body))
	resp, _ = e.do(t, http.MethodPost, "/reminders", token, convert.ScheduleReminderRequest{Type: "call", RemindTime: future, Message: "call back"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/reminders", token, convert.ScheduleReminderRequest{Type: "sms", RemindTime: "tomorrow-ish", Message: "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = e.do(t, http.MethodGet, "/reminders", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mine []convert.Reminder
	require.NoError(t, json.Unmarshal(body, &mine))
	require.Len(t, mine, 2)
	require.Equal(t, "call back", mine[0].Message)

	// Poller: wrong key, then the real one.
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/internal/reminders/due", nil)
	require.NoError(t, err)
	req.Header.Set(PollerKeyHeader, "nope")
	resp, _ = send(t, req)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req.Header.Set(PollerKeyHeader, testPollerKey)
	resp, body = send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var due []convert.Reminder
	require.NoError(t, json.Unmarshal(body, &due))
	require.Len(t, due, 1)
	require.Equal(t, "drink water", due[0].Message)

	mark := func(id, status string) int {
		req, err := http.NewRequest(http.MethodPut, e.srv.URL+"/internal/reminders/"+id+"/status",
			strings.NewReader(`{"status":"`+status+`"}`))
		require.NoError(t, err)
		req.Header.Set(PollerKeyHeader, testPollerKey)
		resp, _ := send(t, req)
		return resp.StatusCode
	}
	require.Equal(t, http.StatusBadRequest, mark(due[0].ID, "archived"))
	require.Equal(t, http.StatusNoContent, mark(due[0].ID, "sent"))

	resp, body = send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[]`, string(body))
}

func TestInternalRoutes_UnmountedWithoutKey(t *testing.T) {
	gw := memory.New()
	tm, err := auth.NewManager([]byte("k"), "", 0, gw)
	require.NoError(t, err)
	s := New(service.NewAuthService(gw, tm, limiter.NewMemory(limiter.Settings{}), zap.NewNop()),
		service.NewMemoryService(gw, zap.NewNop()), service.NewReminderService(gw, zap.NewNop()), gw, "", zap.NewNop())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/reminders/due", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	gw := memory.New()
	e := newEnv(t, gw)

	resp, body := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ok":true}`, string(body))

	require.NoError(t, gw.Close(context.Background()))
	resp, body = e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.JSONEq(t, `{"ok":false}`, string(body))
}

/************ failure paths with fakes ************/

type fakeAuth struct{ err error }

func (f fakeAuth) Register(context.Context, string, string) (string, error) { return "", f.err }
func (f fakeAuth) Login(context.Context, string, string, string) (model.Tokens, error) {
	return model.Tokens{}, f.err
}
func (f fakeAuth) Authenticate(context.Context, string) (model.Identity, error) {
	if f.err != nil {
		return model.Identity{}, f.err
	}
	return model.Identity{Username: "frank"}, nil
}

var _ service.AuthService = fakeAuth{}

type failingReminders struct{ service.ReminderService }

func (failingReminders) Schedule(context.Context, string, string, string, string) (bool, error) {
	return false, nil
}

type panickingMemory struct{ service.MemoryService }

func (panickingMemory) History(context.Context, string, int) []model.ConversationSummary {
	panic("boom")
}

func TestStorageFailures(t *testing.T) {
	log := zap.NewNop()
	gw := memory.New()

	s := New(fakeAuth{err: errors.New("auth: resolve subject: db down")}, nil, nil, gw, "", log)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer x")
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	s = New(fakeAuth{err: errs.ErrStorageUnavailable}, nil, nil, gw, "", log)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = New(fakeAuth{}, panickingMemory{}, failingReminders{}, gw, "", log)
	rec = httptest.NewRecorder()
	body := `{"type":"sms","remind_time":"2030-01-01T00:00:00Z","message":"x"}`
	req = httptest.NewRequest(http.MethodPost, "/reminders", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer x")
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"ok":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer x")
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
