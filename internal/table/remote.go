package table

import "context"

// Storage is the backing store behind a MemoryTable.
//
// Select returns every row stored for key, deleted rows included; the table
// applies conditions itself. Commit persists the dumps of a block and
// returns the number of rows written. MemoryTable only calls Select; Commit
// is driven by the block layer once the overlay is final.
type Storage interface {
	Select(ctx context.Context, info *TableInfo, key string, cond *Condition) (*Entries, error)
	Commit(ctx context.Context, blockHash Hash, blockNum int64, data []*TableData) (int, error)
}

// KeyLister is implemented by storages that can enumerate the keys of a
// table.
type KeyLister interface {
	Keys(ctx context.Context, info *TableInfo) ([]string, error)
}
