// Package checkpoint owns per-topic resume state.
//
// A checkpoint records where a topic scan should resume (an opaque cursor),
// the newest post seen so far, and bookkeeping such as the number of
// consecutive empty pages. Checkpoints move only through Commit, which
// stores a page of posts and the advanced checkpoint in one backend
// transaction, or through an explicit Reset.
//
// Every write bumps Version. A commit names the version it was built on and
// fails with ErrStaleCheckpoint if another writer got there first, so a
// cursor can never move backwards under a concurrent reset or a second
// process. The newest-post watermark only moves forward except on reset.
//
// WriteSnapshot and ReadSnapshot export checkpoints to a JSON file, written
// atomically via a temporary file and rename.
package checkpoint
