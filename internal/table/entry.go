// Defines Entry, a single table row, and Entries, an append-only row list.

package table

import (
	"encoding/json"
	"fmt"
	"iter"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// IDField carries the storage assigned row id in serialized rows.
	IDField = "_id_"
	// StatusField carries the row status in serialized rows and in the digest.
	StatusField = "_status_"
)

// Status is the lifecycle state of a row.
type Status int

const (
	// StatusNormal marks a live row.
	StatusNormal Status = 0
	// StatusDeleted marks a soft deleted row.
	StatusDeleted Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusDeleted:
		return "deleted"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Entry is a row: an ordered mapping of field name to value plus a status.
//
// Field order is the order in which fields were first set. It is preserved
// when serializing but carries no meaning for queries or the digest.
type Entry struct {
	id     uint64
	status Status
	dirty  bool
	fields *orderedmap.OrderedMap[string, string]
}

// NewEntry returns an empty live entry.
func NewEntry() *Entry {
	return &Entry{fields: orderedmap.New[string, string]()}
}

// NewEntryFrom returns a live entry with the given field/value pairs, in
// order. It panics if kv has an odd length.
func NewEntryFrom(kv ...string) *Entry {
	if len(kv)%2 != 0 {
		panic("table: NewEntryFrom needs field/value pairs")
	}
	e := NewEntry()
	for i := 0; i < len(kv); i += 2 {
		e.SetField(kv[i], kv[i+1])
	}
	return e
}

// ID returns the storage assigned id, or 0 if the row was never committed.
func (e *Entry) ID() uint64 {
	return e.id
}

// SetID sets the storage assigned id.
func (e *Entry) SetID(id uint64) {
	e.id = id
}

// Field returns the value of name, or "" if absent.
func (e *Entry) Field(name string) string {
	v, _ := e.fields.Get(name)
	return v
}

// Lookup returns the value of name and whether it is present.
func (e *Entry) Lookup(name string) (string, bool) {
	return e.fields.Get(name)
}

// SetField sets name to value, keeping the original position when the field
// already exists.
func (e *Entry) SetField(name, value string) {
	e.fields.Set(name, value)
	e.dirty = true
}

// Fields returns an iterator over the fields in insertion order.
func (e *Entry) Fields() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for pair := e.fields.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Len returns the number of fields.
func (e *Entry) Len() int {
	return e.fields.Len()
}

// Status returns the row status.
func (e *Entry) Status() Status {
	return e.status
}

// SetStatus sets the row status.
func (e *Entry) SetStatus(s Status) {
	e.status = s
	e.dirty = true
}

// Dirty reports whether the row was modified since it was loaded.
func (e *Entry) Dirty() bool {
	return e.dirty
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := &Entry{id: e.id, status: e.status, dirty: e.dirty, fields: orderedmap.New[string, string](e.fields.Len())}
	for pair := e.fields.Oldest(); pair != nil; pair = pair.Next() {
		c.fields.Set(pair.Key, pair.Value)
	}
	return c
}

// MarshalJSON encodes the entry as a flat object of strings. The id (when
// set) and the status come first, then the fields in insertion order.
func (e *Entry) MarshalJSON() ([]byte, error) {
	m := orderedmap.New[string, string](e.fields.Len() + 2)
	if e.id != 0 {
		m.Set(IDField, strconv.FormatUint(e.id, 10))
	}
	m.Set(StatusField, strconv.Itoa(int(e.status)))
	for pair := e.fields.Oldest(); pair != nil; pair = pair.Next() {
		m.Set(pair.Key, pair.Value)
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, string]()
	if err := json.Unmarshal(data, m); err != nil {
		return err
	}
	*e = Entry{fields: orderedmap.New[string, string](m.Len())}
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		switch pair.Key {
		case IDField:
			id, err := strconv.ParseUint(pair.Value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", IDField, pair.Value, err)
			}
			e.id = id
		case StatusField:
			s, err := strconv.Atoi(pair.Value)
			if err != nil || (Status(s) != StatusNormal && Status(s) != StatusDeleted) {
				return fmt.Errorf("invalid %s %q", StatusField, pair.Value)
			}
			e.status = Status(s)
		default:
			e.fields.Set(pair.Key, pair.Value)
		}
	}
	return nil
}

// Entries is an append-only sequence of rows. A row's position is its index
// at append time and never changes.
type Entries struct {
	rows []*Entry
}

// NewEntries returns a sequence holding rows, in order.
func NewEntries(rows ...*Entry) *Entries {
	return &Entries{rows: rows}
}

// Len returns the number of rows.
func (es *Entries) Len() int {
	if es == nil {
		return 0
	}
	return len(es.rows)
}

// Get returns the row at position i.
func (es *Entries) Get(i int) *Entry {
	return es.rows[i]
}

// Add appends e and returns its position.
func (es *Entries) Add(e *Entry) int {
	es.rows = append(es.rows, e)
	return len(es.rows) - 1
}

// All returns an iterator over positions and rows.
func (es *Entries) All() iter.Seq2[int, *Entry] {
	return func(yield func(int, *Entry) bool) {
		if es == nil {
			return
		}
		for i, e := range es.rows {
			if !yield(i, e) {
				return
			}
		}
	}
}

// MarshalJSON encodes the rows as a JSON array.
func (es *Entries) MarshalJSON() ([]byte, error) {
	if es == nil || es.rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(es.rows)
}

// UnmarshalJSON decodes a JSON array of rows.
func (es *Entries) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &es.rows)
}

func (es *Entries) set(i int, e *Entry) {
	es.rows[i] = e
}
