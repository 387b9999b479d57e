// Package postgres is the storage.Backend for shared deployments, built on a
// pgx connection pool. Each page commit locks the topic's checkpoint row with
// SELECT ... FOR UPDATE, so concurrent writers to one topic serialize and the
// loser sees a stale version.
package postgres
