// Package audit defines the append-only audit trail required for HIPAA PHI
// accounting: the entry model, the store contract, an in-memory store for
// tests, and a PostgreSQL store for production.
//
// # Invariants
//
// Entries are immutable once appended; no store method mutates or rewrites
// them. Deletion is not part of the store contract — [PGStore.Purge] exists
// for explicit administrative retirement and refuses anything newer than the
// retention floor.
//
// # What this package must NOT do
//
//   - Decide whether an access is allowed.
//   - Drop or buffer writes — Append is synchronous; durability ordering is
//     the Engine's fail-closed contract.
package audit
