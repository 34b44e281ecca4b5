// Package session implements the Redis-backed session registry: one hash
// per session plus a per-user index set for bulk revocation.
//
// # Rotation
//
// Refresh rotation runs inside a Lua script so the compare-and-swap of the
// stored refresh hash is atomic under concurrent refresh attempts. A hash
// mismatch is treated as token replay: the script revokes the session in the
// same round trip, so the losing caller can never retry into a success.
//
// # Revocation and GC
//
// Revocation writes a soft marker instead of deleting the key; the record
// survives for the configured retention window so audit entries referencing
// the session keep resolving. Redis key expiry performs the eventual purge.
//
// # What this package must NOT do
//
//   - Mint or verify tokens — that is jwt's and the Engine's job.
//   - Decide permissions or write audit entries.
package session
