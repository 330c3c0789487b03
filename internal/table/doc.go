// Package table implements the in-memory table engine of the state store.
//
// # Overview
//
// [MemoryTable] layers a mutable write overlay on top of rows fetched from a
// backing [Storage]. The overlay has two parts: the base cache, rows
// materialized from storage and addressed by an internal sequence id that is
// never reused, and the pending entries, rows inserted during the current
// block that storage has not assigned an id yet.
//
// Writes are validated against the table's [TableInfo] before they touch the
// overlay. Removal is a soft delete: the row stays in the overlay with status
// [StatusDeleted] so that [MemoryTable.Dump] can export it, while
// [MemoryTable.Select] and [MemoryTable.Hash] ignore it.
//
// # Conditions
//
// A [Condition] is a conjunction of clauses. Equality operators compare raw
// strings; ordering operators compare integers, an empty operand counting as
// "0". A clause that cannot be parsed as an integer makes the row a
// non-match and is logged; it is never returned to the caller.
//
// # Concurrency
//
// A MemoryTable is safe for concurrent use. Readers hold a read lock while they
// clone rows, so they never observe a half-applied update. Writers to the same
// key are serialized by a per-key lock; writers to different keys only share
// the short structural write lock. Cache population for a key is deduplicated
// across goroutines and runs without holding the structural lock.
//
// # Digest
//
// [MemoryTable.Hash] is a Keccak-256 over live rows grouped by key, with
// fields serialized in schema order, so that two nodes applying the same
// operations compute the same digest.
package table
