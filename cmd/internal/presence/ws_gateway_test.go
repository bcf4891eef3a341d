package presence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type stubGate struct {
	identities map[string]string
	revoked    map[string]bool
}

func (s *stubGate) ResolveIdentity(token string) (string, error) {
	if id, ok := s.identities[token]; ok {
		return id, nil
	}
	return "", errors.New("unknown credential")
}

func (s *stubGate) IsRevoked(_ context.Context, token string) bool {
	return s.revoked[token]
}

func newTestGateway(t *testing.T, gate CredentialGate) (*WSGateway, *Hub) {
	t.Helper()

	t.Setenv("BEACON_WS_ORIGIN_REQUIRED", "false")

	h := NewHub(testLogger())
	d := NewDispatcher(testLogger(), h)
	return NewWSGateway(testLogger(), h, d, gate), h
}

func startWSTestServer(t *testing.T, gw *WSGateway) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/{ws_id}", gw.HandleWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server, wsID, token string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + wsID
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Cookie", wsDefaultAuthCookie+"="+token)
	}

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: hdr})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn
}

func readWireEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return obj
}

func waitHubLen(t *testing.T, h *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h.Len() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hub len=%d want=%d", h.Len(), want)
}

func TestWSGateway_ValidConnect_WelcomeRosterAndJoin(t *testing.T) {
	gate := &stubGate{identities: map[string]string{"tok-1": "u1", "tok-2": "u2"}}
	gw, h := newTestGateway(t, gate)
	ts := startWSTestServer(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := dialWS(t, ctx, ts, "u1", "tok-1")
	defer a.Close(websocket.StatusNormalClosure, "")

	welcome := readWireEvent(t, ctx, a)
	if welcome["event"] != EventSendPosition {
		t.Fatalf("first frame=%v want %s", welcome["event"], EventSendPosition)
	}
	if welcome["user_id"] != "u1" {
		t.Fatalf("welcome user_id=%v", welcome["user_id"])
	}
	if welcome["online_users_count"] != float64(1) {
		t.Fatalf("welcome online_users_count=%v", welcome["online_users_count"])
	}
	waitHubLen(t, h, 1)

	b := dialWS(t, ctx, ts, "u2", "tok-2")
	defer b.Close(websocket.StatusNormalClosure, "")

	// The late joiner reconstructs presence from the roster replay.
	bWelcome := readWireEvent(t, ctx, b)
	if bWelcome["event"] != EventSendPosition || bWelcome["online_users_count"] != float64(2) {
		t.Fatalf("b welcome=%v", bWelcome)
	}
	roster := readWireEvent(t, ctx, b)
	if roster["event"] != EventLogin || roster["player_id"] != "u1" {
		t.Fatalf("b roster=%v", roster)
	}

	// Existing sessions are told about the newcomer.
	join := readWireEvent(t, ctx, a)
	if join["event"] != EventLogin || join["player_id"] != "u2" {
		t.Fatalf("a join=%v", join)
	}
}

func TestWSGateway_NoCredential_ClosedUnauthorized(t *testing.T) {
	gate := &stubGate{identities: map[string]string{"tok-1": "u1"}}
	gw, h := newTestGateway(t, gate)
	ts := startWSTestServer(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, "u1", "")
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatalf("expected close, got a frame")
	}
	if got := websocket.CloseStatus(err); got != StatusUnauthorized {
		t.Fatalf("close status=%v want %v", got, StatusUnauthorized)
	}

	// A rejected session never appears in the registry.
	if h.Len() != 0 {
		t.Fatalf("hub len=%d want 0", h.Len())
	}
}

func TestWSGateway_RevokedCredential_ClosedUnauthorized(t *testing.T) {
	gate := &stubGate{
		identities: map[string]string{"tok-1": "u1"},
		revoked:    map[string]bool{"tok-1": true},
	}
	gw, h := newTestGateway(t, gate)
	ts := startWSTestServer(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, "u1", "tok-1")
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != StatusUnauthorized {
		t.Fatalf("close status=%v want %v", got, StatusUnauthorized)
	}
	if h.Len() != 0 {
		t.Fatalf("hub len=%d want 0", h.Len())
	}
}

func TestWSGateway_DuplicateIdentity_Superseded(t *testing.T) {
	gate := &stubGate{identities: map[string]string{"tok-1": "u1"}}
	gw, h := newTestGateway(t, gate)
	ts := startWSTestServer(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := dialWS(t, ctx, ts, "u1", "tok-1")
	defer first.Close(websocket.StatusNormalClosure, "")
	readWireEvent(t, ctx, first) // welcome
	waitHubLen(t, h, 1)

	second := dialWS(t, ctx, ts, "u1", "tok-1")
	defer second.Close(websocket.StatusNormalClosure, "")

	// The first connection is notified, then closed with the superseded code.
	notice := readWireEvent(t, ctx, first)
	if notice["event"] != EventConnectionReplaced {
		t.Fatalf("notice=%v want %s", notice["event"], EventConnectionReplaced)
	}
	_, _, err := first.Read(ctx)
	if got := websocket.CloseStatus(err); got != StatusSuperseded {
		t.Fatalf("close status=%v want %v", got, StatusSuperseded)
	}

	// Exactly one live session remains: the second connection's.
	welcome := readWireEvent(t, ctx, second)
	if welcome["event"] != EventSendPosition || welcome["user_id"] != "u1" {
		t.Fatalf("second welcome=%v", welcome)
	}
	waitHubLen(t, h, 1)
}

func TestWSGateway_MalformedFrame_SessionSurvives(t *testing.T) {
	gate := &stubGate{identities: map[string]string{"tok-1": "u1", "tok-2": "u2"}}
	gw, _ := newTestGateway(t, gate)
	ts := startWSTestServer(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := dialWS(t, ctx, ts, "u1", "tok-1")
	defer a.Close(websocket.StatusNormalClosure, "")
	readWireEvent(t, ctx, a) // welcome

	b := dialWS(t, ctx, ts, "u2", "tok-2")
	defer b.Close(websocket.StatusNormalClosure, "")
	readWireEvent(t, ctx, b) // welcome
	readWireEvent(t, ctx, b) // roster login for u1
	readWireEvent(t, ctx, a) // join for u2

	// One bad message must not terminate the session.
	if err := a.Write(ctx, websocket.MessageText, []byte("this is not json")); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	if err := a.Write(ctx, websocket.MessageText, []byte(`{"event":"position","x":1,"y":2}`)); err != nil {
		t.Fatalf("write valid: %v", err)
	}

	// The next valid frame still flows to peers, proving the session survived.
	got := readWireEvent(t, ctx, b)
	if got["event"] != EventPosition {
		t.Fatalf("b got %v want %s", got["event"], EventPosition)
	}
}

func TestWSGateway_Disconnect_BroadcastsLogout(t *testing.T) {
	gate := &stubGate{identities: map[string]string{"tok-1": "u1", "tok-2": "u2"}}
	gw, h := newTestGateway(t, gate)
	ts := startWSTestServer(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := dialWS(t, ctx, ts, "u1", "tok-1")
	readWireEvent(t, ctx, a) // welcome

	b := dialWS(t, ctx, ts, "u2", "tok-2")
	defer b.Close(websocket.StatusNormalClosure, "")
	readWireEvent(t, ctx, b) // welcome
	readWireEvent(t, ctx, b) // roster login for u1
	readWireEvent(t, ctx, a) // join for u2

	if err := a.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("close a: %v", err)
	}

	leave := readWireEvent(t, ctx, b)
	if leave["event"] != EventLogout || leave["player_id"] != "u1" {
		t.Fatalf("leave=%v", leave)
	}
	waitHubLen(t, h, 1)
}
