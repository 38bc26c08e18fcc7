// Package checksum persists the id -> checksum table that lets ingestion
// skip documents whose indexed content has not changed.
//
// Records are msgpack-encoded and stored in Badger. Search never reads this
// store; only the ingestion pipeline does.
package checksum
