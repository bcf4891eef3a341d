// Package credential verifies signed bearer credentials and extracts the
// identity claim Beacon sessions are keyed by.
//
// Design goals:
//   - Pure verification: no I/O beyond reading the signing secret at startup.
//   - A closed failure taxonomy (malformed / expired / bad signature) so the
//     gateway can reject without inspecting library error strings.
//   - Missing secret or algorithm is a startup error, never a per-request one.
//
// Environment:
//   - BEACON_JWT_SECRET: HMAC signing secret (required).
//   - BEACON_JWT_ALGORITHM: HS256, HS384 or HS512 (required).
package credential
