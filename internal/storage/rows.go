// Holds the committed rows of one table and applies block dumps to them.

package storage

import (
	"context"
	"slices"

	"github.com/maruel/statedb/internal/errors"
	"github.com/maruel/statedb/internal/table"
)

// ErrSchemaMismatch is returned when a commit's schema disagrees with the
// stored one on the key field.
var ErrSchemaMismatch = errors.New(errors.InvalidArgument, "schema key mismatch")

// tableRows is the committed content of a table, sorted by row id.
// Not concurrent-safe; owners guard it.
type tableRows struct {
	info   *table.TableInfo
	rows   []*table.Entry
	nextID uint64
}

func newTableRows(info *table.TableInfo, rows []*table.Entry) *tableRows {
	t := &tableRows{info: info.Clone(), rows: rows}
	slices.SortStableFunc(t.rows, func(a, b *table.Entry) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})
	for _, e := range t.rows {
		t.nextID = max(t.nextID, e.ID())
	}
	return t
}

// selectKey returns clones of the rows of key matching cond, by ascending id.
func (t *tableRows) selectKey(ctx context.Context, key string, cond *table.Condition) *table.Entries {
	var group []*table.Entry
	for _, e := range t.rows {
		if e.Field(t.info.Key) == key {
			group = append(group, e)
		}
	}
	out := table.NewEntries()
	for _, p := range table.MatchingPositions(ctx, t.info.Name, group, cond) {
		out.Add(group[p].Clone())
	}
	return out
}

// keys returns the distinct keys, ascending.
func (t *tableRows) keys() []string {
	out := make([]string, 0, len(t.rows))
	for _, e := range t.rows {
		out = append(out, e.Field(t.info.Key))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// apply merges a dump: dirty rows with an id replace the stored row, rows
// without an id are appended under a fresh id. Clean rows are skipped. It
// returns the number of rows written.
func (t *tableRows) apply(data *table.TableData) (int, error) {
	if data.Info.Key != t.info.Key {
		return 0, ErrSchemaMismatch.With("table", t.info.Name).With("key", data.Info.Key)
	}
	t.info = data.Info.Clone()
	byID := make(map[uint64]int, len(t.rows))
	for i, e := range t.rows {
		byID[e.ID()] = i
	}
	written := 0
	for _, e := range data.Entries.All() {
		if !e.Dirty() && e.ID() != 0 {
			continue
		}
		row := e.Clone()
		if i, ok := byID[row.ID()]; ok && row.ID() != 0 {
			t.rows[i] = row
		} else {
			t.nextID++
			row.SetID(t.nextID)
			t.rows = append(t.rows, row)
		}
		written++
	}
	return written, nil
}
