// Package storage provides backing stores for table.MemoryTable.
//
// [Memory] keeps committed rows in memory. [File] persists one JSONL file
// per table, appends every committed block to a block log and can version
// the directory with git. [Throttled] rate limits cache population against
// any of them.
//
// Stores return every row of a key, deleted rows included, so that row ids
// stay stable across blocks.
package storage
