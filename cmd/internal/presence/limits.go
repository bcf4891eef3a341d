package presence

import (
	"time"

	"github.com/coder/websocket"
)

// Application close codes. These are a wire contract with clients:
// 4002 means "a newer connection for your identity replaced you",
// 4003 means "your credential did not pass the gate".
const (
	StatusSuperseded   websocket.StatusCode = 4002
	StatusUnauthorized websocket.StatusCode = 4003
)

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
