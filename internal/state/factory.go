// Package state binds the tables of one block to a backing store and folds
// their digests into the block's state root.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/maruel/statedb/internal/errors"
	"github.com/maruel/statedb/internal/table"
)

// ErrTableNotFound is returned when a table is not part of the schema set.
var ErrTableNotFound = errors.New(errors.NotFound, "table not found")

// Factory opens the tables of a single block.
//
// Tables are created on first use and cached for the life of the factory,
// so every caller of OpenTable during a block sees the same overlay.
type Factory struct {
	remote    table.Storage
	schemas   map[string]*table.TableInfo
	blockHash table.Hash
	blockNum  int64

	mu     sync.Mutex
	tables map[string]*table.MemoryTable
}

// NewFactory returns a factory for block blockNum. Every schema is validated.
func NewFactory(remote table.Storage, schemas []*table.TableInfo, blockHash table.Hash, blockNum int64) (*Factory, error) {
	f := &Factory{
		remote:    remote,
		schemas:   make(map[string]*table.TableInfo, len(schemas)),
		blockHash: blockHash,
		blockNum:  blockNum,
		tables:    make(map[string]*table.MemoryTable),
	}
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, ok := f.schemas[s.Name]; ok {
			return nil, fmt.Errorf("duplicate table %s", s.Name)
		}
		f.schemas[s.Name] = s.Clone()
	}
	return f, nil
}

// BlockNum returns the block number.
func (f *Factory) BlockNum() int64 {
	return f.blockNum
}

// OpenTable returns the overlay of the named table for this block.
func (f *Factory) OpenTable(name string) (*table.MemoryTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[name]; ok {
		return t, nil
	}
	info, ok := f.schemas[name]
	if !ok {
		return nil, ErrTableNotFound.With("table", name)
	}
	t := table.NewMemoryTable(info, f.remote)
	t.SetBlockHash(f.blockHash)
	t.SetBlockNum(f.blockNum)
	f.tables[name] = t
	return t, nil
}

// Tables returns the names of the opened tables, sorted.
func (f *Factory) Tables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.tables))
	for name := range f.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// TableHash is the digest of one table.
type TableHash struct {
	Table string     `json:"table"`
	Hash  table.Hash `json:"hash"`
}

// Hashes returns the digest of every opened table, sorted by table name.
// Tables are hashed concurrently.
func (f *Factory) Hashes(ctx context.Context) ([]TableHash, error) {
	names := f.Tables()
	out := make([]TableHash, len(names))
	eg, _ := errgroup.WithContext(ctx)
	for i, name := range names {
		t, err := f.OpenTable(name)
		if err != nil {
			return nil, err
		}
		eg.Go(func() error {
			out[i] = TableHash{Table: name, Hash: t.Hash()}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Hash folds the digests of the opened tables into the state root: the
// Keccak-256 of name and digest of every table with live rows, by table
// name. A block without live rows has the zero root.
func (f *Factory) Hash(ctx context.Context) (table.Hash, error) {
	hashes, err := f.Hashes(ctx)
	if err != nil {
		return table.Hash{}, err
	}
	var parts [][]byte
	for _, th := range hashes {
		if th.Hash.IsZero() {
			continue
		}
		parts = append(parts, []byte(th.Table), th.Hash[:])
	}
	if len(parts) == 0 {
		return table.Hash{}, nil
	}
	return table.Keccak256(parts...), nil
}

// Dump returns the export of every opened table, sorted by table name.
func (f *Factory) Dump(ctx context.Context) ([]*table.TableData, error) {
	names := f.Tables()
	out := make([]*table.TableData, len(names))
	eg, _ := errgroup.WithContext(ctx)
	for i, name := range names {
		t, err := f.OpenTable(name)
		if err != nil {
			return nil, err
		}
		eg.Go(func() error {
			out[i] = t.Dump()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Commit hands the dumps of every opened table to the backing store and
// returns the number of rows written.
func (f *Factory) Commit(ctx context.Context) (int, error) {
	data, err := f.Dump(ctx)
	if err != nil {
		return 0, err
	}
	n, err := f.remote.Commit(ctx, f.blockHash, f.blockNum, data)
	if err != nil {
		return 0, fmt.Errorf("commit block %d: %w", f.blockNum, err)
	}
	slog.DebugContext(ctx, "Block committed", "num", f.blockNum, "tables", len(data), "rows", n)
	return n, nil
}

// LoadAll populates every schema's table with all the keys the backing store
// holds, so that Hash covers the whole committed state. The store must
// implement table.KeyLister.
func (f *Factory) LoadAll(ctx context.Context) error {
	kl, ok := f.remote.(table.KeyLister)
	if !ok {
		return errors.New(errors.Internal, "storage cannot list keys")
	}
	names := make([]string, 0, len(f.schemas))
	for name := range f.schemas {
		names = append(names, name)
	}
	slices.Sort(names)
	eg, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		t, err := f.OpenTable(name)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			keys, err := kl.Keys(ctx, t.TableInfo())
			if err != nil {
				return err
			}
			t.Preload(ctx, keys...)
			return nil
		})
	}
	return eg.Wait()
}
