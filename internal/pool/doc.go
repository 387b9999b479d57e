// Package pool owns the health table of scraping identities.
//
// Workers never touch account state directly. They lease an account with
// Acquire or Wait, use it for one topic scan, and hand it back with Release
// and the outcome of the scan. The pool applies the rotation policy:
//
//   - accounts are handed out round-robin, skipping leased, expired and
//     cooling-down ones
//   - a rate limit doubles the account's cooldown up to MaxCooldown
//   - an auth failure quarantines the account for the rest of the process
//     and reports it to the account source
//   - repeated transient failures bench the account for a doubled cooldown
//
// A lease is exclusive, so at most one scan uses an account at a time.
package pool
