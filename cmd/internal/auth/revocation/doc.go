// Package revocation implements a time-bounded denylist of invalidated
// bearer credentials.
//
// Entries age out at the credential's own expiry (decoded without
// verification) or, when the token cannot be decoded, after a fallback TTL,
// so the denylist never grows without bound. Expired entries are reclaimed
// both lazily on lookup and by a periodic sweep for entries that are never
// looked up again.
//
// Credentials are stored as SHA-256 digests; plaintext bearer tokens never
// sit in memory maps or database rows.
package revocation
