// Package authcore implements the authentication and access-control core for
// the Halcyon healthcare platform: argon2id credential verification with
// account lockout, JWT access tokens, rotating opaque refresh tokens,
// TOTP-based multi-factor authentication with single-use backup codes,
// Redis-backed session revocation, a deny-by-default role/resource/action
// permission matrix, and HIPAA-grade synchronous audit logging.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. The engine holds no cross-request mutable state beyond the
// atomically swapped permission snapshot and Redis-side counters.
//
// Every access decision made by [Engine.VerifyAccess] is written to the audit
// store before the caller observes the outcome; if the audit write fails, the
// guarded operation fails with it. Surrounding services treat this core as
// the single authority for allow/deny decisions and present only bearer
// tokens; HTTP bindings live in the httpapi and middleware packages and are
// deliberately thin.
package authcore
