// Package password implements credential hashing with Argon2id and the
// registration-time strength policy.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification recomputes the hash with the parameters embedded in the
// stored string and compares in constant time, so cost upgrades roll out
// without invalidating existing credentials.
//
// # Architecture boundaries
//
// This package owns hashing, verification, and the strength policy. Lockout
// counting, reuse prevention, and storage are the Engine's concern. Nothing
// here logs or retains plaintext.
package password
