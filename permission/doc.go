// Package permission implements the role/resource/action access matrix.
//
// # Model
//
// A [Permission] is a (resource, action) pair. The [Matrix] maps roles to
// permission sets and answers Has(role, resource, action) by pure lookup.
// Anything not explicitly granted is denied: the matrix is a whitelist.
//
// # Concurrency
//
// Reads are lock-free against an immutable snapshot held in an
// atomic.Pointer. Admin mutations rebuild the snapshot under a writer mutex
// and swap it in whole, so the permission check on the request hot path
// never takes a lock.
//
// # What this package must NOT do
//
//   - Perform I/O or talk to a store — seeding is the caller's concern.
//   - Record audit entries — the Engine audits decisions.
package permission
