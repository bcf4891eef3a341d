// Package main provides a CI-friendly WebSocket smoke test for Beacon presence.
//
// It validates:
//   - handshake with a signed credential cookie
//   - welcome frame with online user count
//   - roster replay to a late joiner
//   - login fanout to existing sessions
//   - position event fanout
//   - duplicate-identity arbitration (replaced notice + 4002 close)
//   - logout fanout on disconnect
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan map[string]any
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket base URL; /<identity> is appended")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		secret  = flag.String("secret", os.Getenv("BEACON_JWT_SECRET"), "HS256 signing secret (defaults to BEACON_JWT_SECRET)")
		userA   = flag.String("user-a", "smoke-a", "first identity")
		userB   = flag.String("user-b", "smoke-b", "second identity")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*secret) == "" {
		fatalf("missing -secret (or BEACON_JWT_SECRET)")
	}

	root := context.Background()

	tokA := mustSign(*secret, *userA)
	tokB := mustSign(*secret, *userB)

	a := mustConnect(root, "A", *baseURL, *origin, *userA, tokA, *timeout)
	defer closeWS(a.conn)

	welcomeA := a.mustReadType(root, "send_position", *timeout)
	if welcomeA["user_id"] != *userA {
		fatalf("welcome user_id mismatch: got=%v want=%q", welcomeA["user_id"], *userA)
	}

	b := mustConnect(root, "B", *baseURL, *origin, *userB, tokB, *timeout)
	defer closeWS(b.conn)

	welcomeB := b.mustReadType(root, "send_position", *timeout)
	if welcomeB["online_users_count"] != float64(2) {
		fatalf("welcome online_users_count mismatch: got=%v want=2", welcomeB["online_users_count"])
	}

	roster := b.mustReadType(root, "login", *timeout)
	if roster["player_id"] != *userA {
		fatalf("roster player_id mismatch: got=%v want=%q", roster["player_id"], *userA)
	}

	join := a.mustReadType(root, "login", *timeout)
	if join["player_id"] != *userB {
		fatalf("join fanout player_id mismatch: got=%v want=%q", join["player_id"], *userB)
	}

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", *userA, *userB, *origin)
	}

	mustWriteWithTimeout(root, a.conn, map[string]any{"event": "position", "x": 13, "y": 37}, *timeout)

	pos := b.mustReadType(root, "position", *timeout)
	if pos["x"] != float64(13) || pos["y"] != float64(37) {
		fatalf("position payload mismatch: %v", pos)
	}

	// Second connection for the same identity must win the slot.
	a2 := mustConnect(root, "A2", *baseURL, *origin, *userA, tokA, *timeout)
	defer closeWS(a2.conn)

	a.mustReadType(root, "connection_replaced", *timeout)
	a.mustReadClose(root, 4002, *timeout)

	welcomeA2 := a2.mustReadType(root, "send_position", *timeout)
	if welcomeA2["user_id"] != *userA {
		fatalf("replacement welcome user_id mismatch: got=%v", welcomeA2["user_id"])
	}
	a2.mustReadType(root, "login", *timeout) // roster replay for userB

	closeWS(b.conn)

	leave := a2.mustReadType(root, "logout", *timeout)
	if leave["player_id"] != *userB {
		fatalf("logout player_id mismatch: got=%v want=%q", leave["player_id"], *userB)
	}

	fmt.Printf("OK: A=%s B=%s arbitration + fanout verified\n", *userA, *userB)
}

func mustSign(secret, subject string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		fatalf("sign credential for %q: %v", subject, err)
	}
	return signed
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, baseURL, origin, identity, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Cookie", "access_token="+token)

	conn, resp, err := websocket.Dial(ctx, strings.TrimRight(baseURL, "/")+"/"+identity, &websocket.DialOptions{
		HTTPHeader: h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan map[string]any, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var obj map[string]any
			if err := json.Unmarshal(data, &obj); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- obj:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadType(parent context.Context, wantType string, stepTimeout time.Duration) map[string]any {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case obj, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if obj["event"] == wantType {
				return obj
			}
			fatalf("unexpected event (%s): got=%v want=%q", c.name, obj["event"], wantType)
		}
	}
}

func (c *smokeClient) mustReadClose(parent context.Context, wantCode int, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for close %d (%s): %v", wantCode, c.name, ctx.Err())
		case err := <-c.errCh:
			if got := websocket.CloseStatus(err); int(got) != wantCode {
				fatalf("close code mismatch (%s): got=%d want=%d (%v)", c.name, got, wantCode, err)
			}
			return
		case obj, ok := <-c.inbox:
			if !ok {
				continue
			}
			fatalf("unexpected event while waiting for close (%s): %v", c.name, obj["event"])
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, obj map[string]any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(obj)
	if err != nil {
		fatalf("marshal event: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
