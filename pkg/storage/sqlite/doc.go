// Package sqlite is the embedded storage.Backend, built on the pure-Go
// modernc.org/sqlite driver so the binary needs no cgo.
//
// The database runs in WAL mode with a single open connection; CommitPage
// holds that connection for the whole transaction, so commits are serialized.
package sqlite
