// Package rate implements the Redis-backed failed-login lockout counter and
// the per-IP login throttle. Counters use atomic INCR so concurrent failures
// against one account cannot lose updates; the lockout window is the key's
// TTL, so expiry of the window and reset of the counter are the same event.
package rate
