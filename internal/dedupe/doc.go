// Package dedupe provides a TTL cache for suppressing duplicates within a
// configurable window. The plant client uses it to drop redelivered casts and
// the auth package uses it to reject replayed handshake nonces.
package dedupe
