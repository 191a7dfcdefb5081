// Package db owns the SQLite database shared by every bucket: the
// connection pools, the DDL for the shared tables and small helpers used
// by the index engine and the reindexer.
package db

// CreateObjectsTableSQL creates the canonical document table. Each
// (bucket, key) pair holds exactly one encoded payload.
const CreateObjectsTableSQL = `
CREATE TABLE IF NOT EXISTS objects (
    bucket TEXT NOT NULL,
    key TEXT NOT NULL,
    data BLOB,
    UNIQUE (bucket, key)
)`

// CreateIndexesTableSQL creates the entity-attribute-value index table.
// value is untyped so that integers, reals and text compare with SQLite's
// native affinity rules.
const CreateIndexesTableSQL = `
CREATE TABLE IF NOT EXISTS indexes (
    bucket TEXT NOT NULL,
    key TEXT NOT NULL,
    name TEXT NOT NULL,
    value
)`

// CreateReindexQueueTableSQL creates the durable queue of keys waiting to
// be re-indexed.
const CreateReindexQueueTableSQL = `
CREATE TABLE IF NOT EXISTS reindex_queue (
    bucket TEXT NOT NULL,
    key TEXT NOT NULL
)`

// CreateIndexesSQL creates the secondary indexes on the shared tables.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_objects_key ON objects(key)`,

	// The query compiler joins on (bucket, key, name) and filters on value
	`CREATE INDEX IF NOT EXISTS idx_indexes_name ON indexes(bucket, key, name)`,
	`CREATE INDEX IF NOT EXISTS idx_indexes_value ON indexes(bucket, key, value)`,
	`CREATE INDEX IF NOT EXISTS idx_indexes_key ON indexes(bucket, key)`,

	`CREATE INDEX IF NOT EXISTS idx_reindex_queue_bucket ON reindex_queue(bucket)`,
	`CREATE INDEX IF NOT EXISTS idx_reindex_queue_key ON reindex_queue(key)`,
}

// AllSchemaSQL returns all schema creation statements in order.
func AllSchemaSQL() []string {
	statements := []string{
		CreateObjectsTableSQL,
		CreateIndexesTableSQL,
		CreateReindexQueueTableSQL,
	}
	statements = append(statements, CreateIndexesSQL...)
	return statements
}
