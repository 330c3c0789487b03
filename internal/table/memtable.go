// Implements MemoryTable, the write overlay over a backing Storage.

package table

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
)

// MemoryTable is a table's in-memory overlay for one block.
type MemoryTable struct {
	mu sync.RWMutex

	info   *TableInfo
	remote Storage

	// Base cache. Ids start at 1 and are never reused.
	cache  map[uint64]*Entry
	nextID uint64
	index  *keyIndex
	loaded map[string]struct{}

	newEntries *Entries

	blockHash Hash
	blockNum  int64

	keys  keyLocker
	fetch singleflight.Group
}

// slot locates a row of a key group inside the overlay.
type slot struct {
	id  uint64 // base cache id; 0 for a pending row
	pos int    // position in newEntries when id is 0
}

// NewMemoryTable returns an empty table bound to info and remote. remote may
// be nil, in which case only explicitly loaded rows are visible.
func NewMemoryTable(info *TableInfo, remote Storage) *MemoryTable {
	return &MemoryTable{
		info:       info,
		remote:     remote,
		cache:      make(map[uint64]*Entry),
		index:      newKeyIndex(),
		loaded:     make(map[string]struct{}),
		newEntries: NewEntries(),
	}
}

// SetTableInfo binds the schema.
func (t *MemoryTable) SetTableInfo(info *TableInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info = info
}

// TableInfo returns the bound schema.
func (t *MemoryTable) TableInfo() *TableInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info
}

// SetStateStorage binds the backing store.
func (t *MemoryTable) SetStateStorage(remote Storage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = remote
}

// SetBlockHash records the block this overlay belongs to.
func (t *MemoryTable) SetBlockHash(h Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blockHash = h
}

// BlockHash returns the block hash set with SetBlockHash.
func (t *MemoryTable) BlockHash() Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blockHash
}

// SetBlockNum records the block number this overlay belongs to.
func (t *MemoryTable) SetBlockNum(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blockNum = n
}

// BlockNum returns the block number set with SetBlockNum.
func (t *MemoryTable) BlockNum() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blockNum
}

// CheckAuthority reports whether origin may write to the table.
func (t *MemoryTable) CheckAuthority(origin Address) bool {
	return t.TableInfo().CheckAuthority(origin)
}

// Load adds rows fetched elsewhere to the base cache as the group of key.
// It is a no-op when key is already cached.
func (t *MemoryTable) Load(key string, rows *Entries) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked(key, rows)
}

func (t *MemoryTable) loadLocked(key string, rows *Entries) {
	if _, ok := t.loaded[key]; ok {
		return
	}
	for _, e := range rows.All() {
		row := e.Clone()
		if _, ok := row.Lookup(t.info.Key); !ok {
			row.SetField(t.info.Key, key)
		}
		row.dirty = false
		t.nextID++
		t.cache[t.nextID] = row
		t.index.add(key, t.nextID)
	}
	t.loaded[key] = struct{}{}
}

// Preload populates the base cache for each key not cached yet. It stops
// early when ctx is canceled.
func (t *MemoryTable) Preload(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := t.ensureLoaded(ctx, key); err != nil {
			return
		}
	}
}

// ensureLoaded fetches the group of key from the backing store on a cache
// miss. A failed fetch is logged and leaves key uncached so that the next
// access retries.
//
// Concurrent misses on one key share a single fetch. The fetch is detached
// from the cancellation of the caller that started it, so a canceled caller
// cannot make the others see an empty group. A caller whose own ctx ends
// while waiting gets ctx.Err().
func (t *MemoryTable) ensureLoaded(ctx context.Context, key string) error {
	t.mu.RLock()
	_, ok := t.loaded[key]
	remote := t.remote
	info := t.info
	t.mu.RUnlock()
	if ok || remote == nil {
		return nil
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := t.fetch.DoChan(key, func() (any, error) {
		t.mu.RLock()
		_, ok := t.loaded[key]
		t.mu.RUnlock()
		if ok {
			return nil, nil
		}
		rows, err := remote.Select(fetchCtx, info, key, NewCondition())
		if err != nil {
			slog.WarnContext(fetchCtx, "Remote select failed", "table", info.Name, "key", key, "err", err)
			return nil, nil
		}
		t.Load(key, rows)
		return nil, nil
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// groupLocked returns the rows of key: base cache rows by ascending id, then
// pending rows in append order.
func (t *MemoryTable) groupLocked(key string) ([]*Entry, []slot) {
	ids := t.index.ids(key)
	rows := make([]*Entry, 0, len(ids))
	slots := make([]slot, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, t.cache[id])
		slots = append(slots, slot{id: id})
	}
	for i, e := range t.newEntries.All() {
		if e.Field(t.info.Key) == key {
			rows = append(rows, e)
			slots = append(slots, slot{pos: i})
		}
	}
	return rows, slots
}

func (t *MemoryTable) storeLocked(s slot, e *Entry) {
	if s.id != 0 {
		t.cache[s.id] = e
		return
	}
	t.newEntries.set(s.pos, e)
}

// Select returns clones of the rows of key matching cond, in group order.
func (t *MemoryTable) Select(ctx context.Context, key string, cond *Condition) (*Entries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.ensureLoaded(ctx, key); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	rows, _ := t.groupLocked(key)
	out := NewEntries()
	for _, p := range MatchingPositions(ctx, t.info.Name, rows, cond) {
		out.Add(rows[p].Clone())
	}
	return out, nil
}

// Insert appends entry to the pending entries as a row of key and returns
// the number of rows inserted.
//
// The entry's key field is filled from key when absent. When needSelect is
// true, the group of key is fetched first and the insert fails with
// ErrKeyExists if it holds a live row.
func (t *MemoryTable) Insert(ctx context.Context, key string, entry *Entry, opts *AccessOptions, needSelect bool) (int, error) {
	if entry == nil {
		return 0, ErrNilEntry
	}
	info := t.TableInfo()
	if err := info.CheckField(entry); err != nil {
		slog.ErrorContext(ctx, "Field does not exist", "table", info.Name, "err", err)
		return 0, err
	}
	if v, ok := entry.Lookup(info.Key); ok && v != key {
		return 0, ErrKeyMismatch.With("key", key).With("field", v)
	}

	unlock := t.keys.lock(key)
	defer unlock()
	if needSelect {
		if err := t.ensureLoaded(ctx, key); err != nil {
			return 0, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if needSelect {
		rows, _ := t.groupLocked(key)
		for _, e := range rows {
			if e.Status() == StatusNormal {
				return 0, ErrKeyExists.With("table", info.Name).With("key", key)
			}
		}
	}
	row := entry.Clone()
	row.id = 0
	row.status = StatusNormal
	if _, ok := row.Lookup(info.Key); !ok {
		row.SetField(info.Key, key)
	}
	row.dirty = true
	t.newEntries.Add(row)
	slog.DebugContext(ctx, "Insert", "table", info.Name, "key", key, "origin", origin(opts))
	return 1, nil
}

// Update overwrites the fields carried by entry on every row of key matching
// cond and returns the number of rows updated. Fields absent from entry are
// left untouched.
func (t *MemoryTable) Update(ctx context.Context, key string, entry *Entry, cond *Condition, opts *AccessOptions) (int, error) {
	if entry == nil {
		return 0, ErrNilEntry
	}
	info := t.TableInfo()
	if err := info.CheckField(entry); err != nil {
		slog.ErrorContext(ctx, "Field does not exist", "table", info.Name, "err", err)
		return 0, err
	}
	if v, ok := entry.Lookup(info.Key); ok && v != key {
		return 0, ErrKeyImmutable.With("key", key).With("field", v)
	}

	unlock := t.keys.lock(key)
	defer unlock()
	if err := t.ensureLoaded(ctx, key); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	rows, slots := t.groupLocked(key)
	positions := MatchingPositions(ctx, info.Name, rows, cond)
	for _, p := range positions {
		updated := rows[p].Clone()
		for name, value := range entry.Fields() {
			updated.SetField(name, value)
		}
		t.storeLocked(slots[p], updated)
	}
	slog.DebugContext(ctx, "Update", "table", info.Name, "key", key, "rows", len(positions), "origin", origin(opts))
	return len(positions), nil
}

// Remove soft deletes every row of key matching cond and returns the number
// of rows removed. Removed rows stay in the overlay.
func (t *MemoryTable) Remove(ctx context.Context, key string, cond *Condition, opts *AccessOptions) (int, error) {
	info := t.TableInfo()
	unlock := t.keys.lock(key)
	defer unlock()
	if err := t.ensureLoaded(ctx, key); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	rows, slots := t.groupLocked(key)
	positions := MatchingPositions(ctx, info.Name, rows, cond)
	for _, p := range positions {
		removed := rows[p].Clone()
		removed.SetStatus(StatusDeleted)
		t.storeLocked(slots[p], removed)
	}
	slog.DebugContext(ctx, "Remove", "table", info.Name, "key", key, "rows", len(positions), "origin", origin(opts))
	return len(positions), nil
}

// Clear empties the base cache. Pending entries are kept.
func (t *MemoryTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache = make(map[uint64]*Entry)
	t.index.reset()
	t.loaded = make(map[string]struct{})
}

// Empty reports whether the base cache holds no row. Pending entries are not
// considered.
func (t *MemoryTable) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cache) == 0
}

// Dump exports the whole overlay: base cache rows by ascending id, then
// pending rows in append order. Deleted rows are included.
func (t *MemoryTable) Dump() *TableData {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint64, 0, len(t.cache))
	for id := range t.cache {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	entries := NewEntries()
	for _, id := range ids {
		entries.Add(t.cache[id].Clone())
	}
	for _, e := range t.newEntries.All() {
		entries.Add(e.Clone())
	}
	return &TableData{Info: t.info.Clone(), Entries: entries}
}

// Hash returns the digest of the live rows. Rows are taken key by key in
// ascending key order, each group in base cache id order then append order.
// A table without live rows hashes to the zero digest.
func (t *MemoryTable) Hash() Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := t.index.keys()
	for _, e := range t.newEntries.All() {
		keys = append(keys, e.Field(t.info.Key))
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	d := newDigest(t.info.CanonicalFields())
	for _, key := range keys {
		rows, _ := t.groupLocked(key)
		for _, e := range rows {
			if e.Status() == StatusNormal {
				d.add(e)
			}
		}
	}
	return d.sum()
}

func origin(opts *AccessOptions) Address {
	if opts == nil {
		return ""
	}
	return opts.Origin
}
