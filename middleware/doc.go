// Package middleware provides framework-free net/http middleware over the
// authcore engine for embedders that do not use the bundled HTTP API.
package middleware
