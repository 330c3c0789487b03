// Implements an in-memory Storage.

package storage

import (
	"context"
	"sync"

	"github.com/maruel/statedb/internal/table"
)

// Memory is a Storage keeping committed rows in memory. It is meant for
// tests and dry runs.
type Memory struct {
	mu        sync.RWMutex
	tables    map[string]*tableRows
	blockNum  int64
	blockHash table.Hash
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*tableRows)}
}

// Select implements table.Storage.
func (m *Memory) Select(ctx context.Context, info *table.TableInfo, key string, cond *table.Condition) (*table.Entries, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[info.Name]
	if !ok {
		return table.NewEntries(), nil
	}
	return t.selectKey(ctx, key, cond), nil
}

// Keys implements table.KeyLister.
func (m *Memory) Keys(_ context.Context, info *table.TableInfo) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[info.Name]
	if !ok {
		return nil, nil
	}
	return t.keys(), nil
}

// Commit implements table.Storage. The commit is all or nothing: a failing
// table leaves every table untouched.
func (m *Memory) Commit(_ context.Context, blockHash table.Hash, blockNum int64, data []*table.TableData) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := make(map[string]*tableRows, len(data))
	total := 0
	for _, d := range data {
		t, ok := staged[d.Info.Name]
		if !ok {
			t = m.cloneTable(d.Info)
			staged[d.Info.Name] = t
		}
		n, err := t.apply(d)
		if err != nil {
			return 0, err
		}
		total += n
	}
	for name, t := range staged {
		m.tables[name] = t
	}
	m.blockNum = blockNum
	m.blockHash = blockHash
	return total, nil
}

// LastBlock returns the number and hash of the last committed block.
func (m *Memory) LastBlock() (int64, table.Hash) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blockNum, m.blockHash
}

func (m *Memory) cloneTable(info *table.TableInfo) *tableRows {
	t, ok := m.tables[info.Name]
	if !ok {
		return newTableRows(info, nil)
	}
	rows := make([]*table.Entry, len(t.rows))
	for i, e := range t.rows {
		rows[i] = e.Clone()
	}
	return newTableRows(t.info, rows)
}
