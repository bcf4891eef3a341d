package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"beacon/cmd/internal/ids"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Credential source: the cookie is the only location consulted. The name
	// matches the one the issuing collaborator sets at login.
	wsDefaultAuthCookie = "access_token"

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// CredentialGate is what the gateway needs from the auth layer: resolve an
// identity from a bearer credential, and answer whether the credential has
// been revoked. Both are consulted once, at connection time.
type CredentialGate interface {
	ResolveIdentity(token string) (string, error)
	IsRevoked(ctx context.Context, token string) bool
}

// WSGateway is the WebSocket entrypoint for Beacon presence.
//
// Per connection it runs the full session lifecycle: authenticate, register
// with the Hub (which arbitrates duplicates), announce the join, pump the
// receive loop into the Dispatcher, and on any exit path broadcast the leave
// and deregister.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	dispatch *Dispatcher
	gate     CredentialGate

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	authCookie string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, hub *Hub, dispatch *Dispatcher, gate CredentialGate) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if dispatch == nil {
		dispatch = NewDispatcher(log, hub)
	}

	g := &WSGateway{log: log, hub: hub, dispatch: dispatch, gate: gate}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("BEACON_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("BEACON_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("BEACON_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.authCookie = envStringWS("BEACON_WS_AUTH_COOKIE", wsDefaultAuthCookie)

	g.writeTimeout = envDurationWS("BEACON_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("BEACON_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("BEACON_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("BEACON_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("BEACON_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("BEACON_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("BEACON_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the
// presence lifecycle. The route must carry a {ws_id} path segment; ws_id is
// the identity the session registers under.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	identity := strings.TrimSpace(r.PathValue("ws_id"))
	if identity == "" {
		http.Error(w, "missing ws_id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Authenticate before anything touches the registry: a rejected session
	// must never appear there, even transiently.
	if reason, ok := g.authenticate(ctx, r); !ok {
		g.log.Info("ws.reject.auth", "identity", identity, "reason", reason, "remote", r.RemoteAddr)
		metricSessionsRejected.Inc()
		_ = conn.Close(StatusUnauthorized, "unauthorized")
		return
	}

	sessionID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}

	client := NewClient(identity, sessionID, g.sendQueueSize)

	// Arbitration hook: when a newer connection for the same identity
	// registers, the hub uses this to notify this peer and close its
	// transport. The write is direct (not via the send queue) so the notice
	// reliably precedes the close.
	client.evict = func(notice Event) {
		_ = writeFrame(ctx, conn, notice, g.writeTimeout)
		_ = conn.Close(StatusSuperseded, "connection replaced")
	}

	var closeOnce sync.Once

	// shutdown is the unconditional cleanup path: every exit (peer close,
	// transport fault, heartbeat failure, policy violation) funnels here
	// exactly once. The leave announcement is suppressed when this session
	// was superseded, because the identity is still present on the newer
	// connection.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if g.hub.IsCurrent(identity, client) {
				g.hub.BroadcastExcept(NewEvent(EventLogout, map[string]any{
					"player_id": identity,
				}), identity)
			}
			g.hub.Unregister(identity, client)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	if !g.hub.Register(identity, client) {
		g.log.Error("ws.register.fail", "identity", identity)
		_ = conn.Close(websocket.StatusInternalError, "register failed")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case ev := <-client.Send:
				if err := writeFrame(ctx, conn, ev, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	g.announceJoin(identity, client)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			case readErrNotText:
				// Recoverable protocol fault: skip the frame, keep the session.
				g.log.Info("ws.read.non_text", "session_id", sessionID)
				metricFramesMalformed.Inc()
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now().UTC()) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		ev, perr := ParseEvent(data)
		if perr != nil {
			// One bad message must not terminate the session.
			g.log.Info("ws.read.malformed", "session_id", sessionID, "err", perr)
			metricFramesMalformed.Inc()
			continue readLoop
		}

		g.dispatch.Handle(ctx, client, ev)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// authenticate extracts the credential from the canonical cookie and runs it
// through the gate. It returns a log-friendly reason on failure.
func (g *WSGateway) authenticate(ctx context.Context, r *http.Request) (reason string, ok bool) {
	if g.gate == nil {
		return "no gate configured", false
	}

	ck, err := r.Cookie(g.authCookie)
	if err != nil || strings.TrimSpace(ck.Value) == "" {
		return "missing credential", false
	}
	token := strings.TrimSpace(ck.Value)

	if g.gate.IsRevoked(ctx, token) {
		return "credential revoked", false
	}
	if _, err := g.gate.ResolveIdentity(token); err != nil {
		return "credential invalid: " + err.Error(), false
	}
	return "", true
}

// announceJoin sends the welcome to the new session, replays the current
// roster to it as synthetic join events, and announces the join to peers.
// The roster replay is what lets a late joiner reconstruct presence without
// the hub persisting any history.
func (g *WSGateway) announceJoin(identity string, client *Client) {
	client.TrySend(NewEvent(EventSendPosition, map[string]any{
		"message":            "connection established",
		"user_id":            identity,
		"online_users_count": g.hub.Len(),
	}))

	for _, peer := range g.hub.Identities() {
		if peer == identity {
			continue
		}
		client.TrySend(NewEvent(EventLogin, map[string]any{"player_id": peer}))
	}

	g.hub.BroadcastExcept(NewEvent(EventLogin, map[string]any{"player_id": identity}), identity)
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText {
		return nil, errNonTextFrame
	}
	return data, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, ev Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, ev.Bytes())
}

// ---- read error classification ----

var errNonTextFrame = errors.New("non-text frame")

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrNotText
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errNonTextFrame) {
		return readErrNotText
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return errors.New("origin not allowed: " + origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envStringWS(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
