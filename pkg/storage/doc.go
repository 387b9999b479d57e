// Package storage is the deduplicated persistence layer.
//
// Backend describes the durable store: posts unique by external id,
// checkpoints unique by topic, and an append-only run log. Three engines
// implement it: MemoryBackend here, and the sqlite and postgres
// subpackages. All of them share one contract for a page commit:
//
//   - each post is inserted with insert-or-ignore semantics, so re-ingesting
//     a known id is a no-op that still counts as seen;
//   - the topic checkpoint advances in the same transaction, after the posts;
//   - a failed commit writes nothing.
//
// Manager.StoreAndAdvance is the entry point used by scan workers.
package storage
