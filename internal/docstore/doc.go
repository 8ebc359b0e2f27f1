// Package docstore persists sermon documents and their processing status.
//
// The pipeline only ever merges into a document's status object so keys
// written by other systems (upload state and the like) survive every write.
// SQLite (modernc) and PostgreSQL (pgx) share one implementation; the
// dialect supplies the JSON merge (json_patch or jsonb ||) and goose applies
// the embedded migrations for each.
package docstore
