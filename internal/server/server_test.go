package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a-essam23/chatrelay/internal/auth"
	"github.com/a-essam23/chatrelay/internal/events"
	"github.com/a-essam23/chatrelay/internal/server/middleware"
	"github.com/a-essam23/chatrelay/internal/testutil"
	"github.com/a-essam23/chatrelay/pkg/config"
	"github.com/a-essam23/chatrelay/pkg/logging"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

const (
	jwtSecret     = "test-secret"
	internalToken = "internal-secret"
)

type testEnv struct {
	app    *App
	dir    *testutil.Directory
	server *httptest.Server
}

func newEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Auth:            config.AuthConfig{JWTSecret: jwtSecret, TokenParam: "token"},
			InternalToken:   internalToken,
			ConnectionLimit: config.ConnectionLimitConfig{Mode: "reject"},
		},
		Transport: config.TransportConfig{
			PingInterval:   5 * time.Second,
			WriteTimeout:   time.Second,
			SendBuffer:     16,
			MaxMessageSize: 64 << 10,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	dir := testutil.NewDirectory()
	dir.AddUser(1, "Ann")
	dir.AddUser(2, "Bob")
	app := NewApp(context.Background(), logging.Discard(), cfg, dir, auth.NewJWTVerifier(jwtSecret))
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		app.closeAll()
		srv.Close()
	})
	return &testEnv{app: app, dir: dir, server: srv}
}

func (e *testEnv) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws" + query
}

func (e *testEnv) dialAs(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	token, err := auth.Sign(jwtSecret, userID, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	before := e.app.registry.Count(userID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, e.wsURL("?token="+token), nil)
	if err != nil {
		t.Fatalf("dial as %d: %v", userID, err)
	}
	t.Cleanup(func() { c.CloseNow() })
	waitFor(t, func() bool { return e.app.registry.Count(userID) == before+1 })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	if err := c.Write(context.Background(), websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEvent(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

// expectSilence closes c as a side effect: coder/websocket tears the
// connection down when a read is cancelled.
func expectSilence(t *testing.T, c *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, data, err := c.Read(ctx); err == nil {
		t.Errorf("expected no event, got %s", data)
	}
}

func TestUnauthorizedHandshakeIsClosed(t *testing.T) {
	e := newEnv(t, nil)
	expired, _ := auth.Sign(jwtSecret, 1, -time.Minute)

	for name, query := range map[string]string{
		"missing": "",
		"garbage": "?token=abc",
		"expired": "?token=" + expired,
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			c, _, err := websocket.Dial(ctx, e.wsURL(query), nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer c.CloseNow()

			_, _, err = c.Read(ctx)
			if code := websocket.CloseStatus(err); code != middleware.StatusUnauthorized {
				t.Errorf("expected close code %d, got %d (%v)", middleware.StatusUnauthorized, code, err)
			}
			if e.app.registry.Connections() != 0 || e.app.registry.Users() != 0 {
				t.Error("unauthorized handshake must not touch the registry")
			}
		})
	}
}

func TestBearerHeaderIsAccepted(t *testing.T) {
	e := newEnv(t, nil)
	token, _ := auth.Sign(jwtSecret, 2, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, e.wsURL(""), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()
	waitFor(t, func() bool { return e.app.registry.Count(2) == 1 })
}

func TestTypingReachesEveryDevice(t *testing.T) {
	e := newEnv(t, nil)
	annPhone := e.dialAs(t, 1)
	annLaptop := e.dialAs(t, 1)
	bob := e.dialAs(t, 2)

	send(t, bob, `{"type":"typing","toUserId":1}`)

	for name, c := range map[string]*websocket.Conn{"phone": annPhone, "laptop": annLaptop} {
		ev := readEvent(t, c)
		if ev["type"] != events.TypeTyping || ev["fromUserId"] != float64(2) || ev["displayName"] != "Bob" {
			t.Errorf("%s: unexpected event %v", name, ev)
		}
	}
	expectSilence(t, bob)
}

func TestClosingOneDeviceKeepsTheOther(t *testing.T) {
	e := newEnv(t, nil)
	annPhone := e.dialAs(t, 1)
	annLaptop := e.dialAs(t, 1)
	bob := e.dialAs(t, 2)

	annPhone.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return e.app.registry.Count(1) == 1 })

	send(t, bob, `{"type":"typing","toUserId":1}`)
	if ev := readEvent(t, annLaptop); ev["type"] != events.TypeTyping {
		t.Errorf("unexpected event %v", ev)
	}

	annLaptop.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return e.app.registry.Count(1) == 0 })
	if e.app.registry.Users() != 1 {
		t.Errorf("expected only bob online, got %d users", e.app.registry.Users())
	}
}

func TestBadFramesDoNotCloseConnection(t *testing.T) {
	e := newEnv(t, nil)
	ann := e.dialAs(t, 1)
	bob := e.dialAs(t, 2)

	send(t, bob, `garbage`)
	send(t, bob, `{"type":"teleport"}`)
	send(t, bob, `{"type":"typing","toUserId":-1}`)
	send(t, bob, `{"type":"typing","toUserId":1}`)

	if ev := readEvent(t, ann); ev["type"] != events.TypeTyping {
		t.Errorf("unexpected event %v", ev)
	}
}

func TestRejectDeliversMissedCallToBoth(t *testing.T) {
	e := newEnv(t, nil)
	ann := e.dialAs(t, 1)
	bob := e.dialAs(t, 2)

	// Bob rejects Ann's call
	send(t, bob, `{"type":"call_signal","toUserId":1,"signal":"reject"}`)

	first, second := readEvent(t, ann), readEvent(t, ann)
	if first["type"] != events.TypeNewMessage || second["type"] != events.TypeCallSignal {
		t.Fatalf("caller expected new_message then call_signal, got %v / %v", first["type"], second["type"])
	}
	if first["message"].(map[string]any)["is_mine"] != true {
		t.Error("caller should see the missed call as its own")
	}
	in := readEvent(t, bob)
	if in["type"] != events.TypeNewMessage || in["message"].(map[string]any)["is_mine"] != false {
		t.Errorf("callee expected incoming missed call, got %v", in)
	}
	if e.dir.MissedCallCount() != 1 {
		t.Errorf("expected 1 missed call row, got %d", e.dir.MissedCallCount())
	}
}

func TestConnectionLimitCycle(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) {
		cfg.Server.ConnectionLimit = config.ConnectionLimitConfig{MaxPerUser: 1, Mode: "cycle"}
	})
	old := e.dialAs(t, 1)
	oldID := e.app.registry.Get(1)[0].ID()
	// answer the server's close handshake
	closed := make(chan error, 1)
	go func() {
		_, _, err := old.Read(context.Background())
		closed <- err
	}()

	token, _ := auth.Sign(jwtSecret, 1, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, e.wsURL("?token="+token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	select {
	case err := <-closed:
		if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
			t.Errorf("expected policy violation close, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("oldest connection was not cycled")
	}
	waitFor(t, func() bool {
		conns := e.app.registry.Get(1)
		return len(conns) == 1 && conns[0].ID() != oldID
	})
}

func TestConnectionLimitReject(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) {
		cfg.Server.ConnectionLimit = config.ConnectionLimitConfig{MaxPerUser: 1, Mode: "reject"}
	})
	e.dialAs(t, 1)

	token, _ := auth.Sign(jwtSecret, 1, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, e.wsURL("?token="+token), nil)
	if err == nil {
		t.Fatal("expected second connection to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %v", resp)
	}
}

func TestShutdownClosesWithGoingAway(t *testing.T) {
	e := newEnv(t, nil)
	ann := e.dialAs(t, 1)
	closed := make(chan error, 1)
	go func() {
		_, _, err := ann.Read(context.Background())
		closed <- err
	}()

	if err := e.app.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-closed:
		if websocket.CloseStatus(err) != websocket.StatusGoingAway {
			t.Errorf("expected going away, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("connection not closed on shutdown")
	}
	if e.app.registry.Connections() != 0 {
		t.Error("registry should be empty after shutdown")
	}
}

func TestShutdownDoesNotSerializeStalledPeers(t *testing.T) {
	e := newEnv(t, nil)
	// None of these clients read, so none answers the close handshake.
	for _, id := range []int64{1, 1, 2, 2} {
		e.dialAs(t, id)
	}

	start := time.Now()
	if err := e.app.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 9*time.Second {
		t.Errorf("shutdown took %v with four stalled peers", elapsed)
	}
	if e.app.registry.Connections() != 0 {
		t.Error("registry should be empty after shutdown")
	}
}

func TestNotifyAPI(t *testing.T) {
	e := newEnv(t, nil)
	bob := e.dialAs(t, 2)

	post := func(kind, token, body string) int {
		req, _ := http.NewRequest(http.MethodPost, e.server.URL+"/internal/notify/"+kind, strings.NewReader(body))
		if token != "" {
			req.Header.Set(internalTokenHeader, token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("message", "", `{}`); code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", code)
	}
	if code := post("poll", internalToken, `{}`); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown kind, got %d", code)
	}
	if code := post("reaction", internalToken, `{"messageId":0}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid body, got %d", code)
	}

	code := post("message", internalToken, `{"id":10,"sender_id":1,"receiver_id":2,"content":"hi","message_type":"text","sender_display_name":"Ann","is_mine":true}`)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	ev := readEvent(t, bob)
	msg := ev["message"].(map[string]any)
	if ev["type"] != events.TypeNewMessage || msg["content"] != "hi" || msg["is_mine"] != false {
		t.Errorf("unexpected event %v", ev)
	}

	code = post("message-deleted", internalToken, `{"recipientId":2,"peerId":1,"messageId":10}`)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if ev := readEvent(t, bob); ev["type"] != events.TypeMessageDeleted || ev["peerId"] != float64(1) {
		t.Errorf("unexpected event %v", ev)
	}
}

func TestNotifyAPIDisabledWithoutToken(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) { cfg.Server.InternalToken = "" })
	resp, err := http.Post(e.server.URL+"/internal/notify/message", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 when disabled, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil)
	e.dialAs(t, 1)
	e.dialAs(t, 1)

	resp, err := http.Get(e.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Users != 1 || body.Connections != 2 {
		t.Errorf("unexpected health %+v", body)
	}
}

func TestBroadcasterAccessor(t *testing.T) {
	e := newEnv(t, nil)
	ann := e.dialAs(t, 1)
	e.app.Broadcaster().NotifyMessageDeleted(1, 2, 5, 0)
	if ev := readEvent(t, ann); ev["type"] != events.TypeMessageDeleted {
		t.Errorf("unexpected event %v", ev)
	}
}
