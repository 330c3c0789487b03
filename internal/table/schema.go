// Defines the table schema and the write-time field and authority checks.

package table

import (
	"fmt"
	"slices"
	"strings"

	"github.com/maruel/statedb/internal/errors"
)

var (
	// ErrInvalidField is returned when a write carries an undeclared field.
	ErrInvalidField = errors.New(errors.InvalidArgument, "invalid key")
	// ErrKeyMismatch is returned when an inserted entry's key field differs from the key.
	ErrKeyMismatch = errors.New(errors.InvalidArgument, "key field does not match key")
	// ErrKeyImmutable is returned when an update would change the key field.
	ErrKeyImmutable = errors.New(errors.InvalidArgument, "key field cannot be updated")
	// ErrKeyExists is returned when an insert collides with a live row.
	ErrKeyExists = errors.New(errors.KeyExists, "key already exists")
	// ErrNilEntry is returned when a write is given no entry.
	ErrNilEntry = errors.New(errors.InvalidArgument, "entry is required")
)

// Address identifies a transaction sender.
type Address string

// Normalize lowercases the address and strips the 0x prefix.
func (a Address) Normalize() Address {
	s := strings.ToLower(string(a))
	return Address(strings.TrimPrefix(s, "0x"))
}

// TableInfo is a table's schema.
type TableInfo struct {
	Name string `json:"name" yaml:"name" jsonschema:"description=Table name"`
	// Key is the primary key field. It is implicitly declared.
	Key    string   `json:"key" yaml:"key" jsonschema:"description=Primary key field"`
	Fields []string `json:"fields" yaml:"fields" jsonschema:"description=Declared value fields in canonical order"`
	// AuthorizedAddress lists the addresses allowed to write. Empty means anyone.
	AuthorizedAddress []Address `json:"authorized,omitempty" yaml:"authorized,omitempty" jsonschema:"description=Addresses allowed to write; empty means unrestricted"`
}

// Validate checks that the schema is well-formed.
func (ti *TableInfo) Validate() error {
	if ti.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if ti.Key == "" {
		return fmt.Errorf("table %s: key field is required", ti.Name)
	}
	seen := map[string]bool{ti.Key: true}
	for i, f := range ti.Fields {
		if f == "" {
			return fmt.Errorf("table %s: field %d: name is required", ti.Name, i)
		}
		if f == IDField || f == StatusField {
			return fmt.Errorf("table %s: field %s is reserved", ti.Name, f)
		}
		if seen[f] && f != ti.Key {
			return fmt.Errorf("table %s: duplicate field %s", ti.Name, f)
		}
		seen[f] = true
	}
	return nil
}

// Clone returns a deep copy.
func (ti *TableInfo) Clone() *TableInfo {
	return &TableInfo{
		Name:              ti.Name,
		Key:               ti.Key,
		Fields:            slices.Clone(ti.Fields),
		AuthorizedAddress: slices.Clone(ti.AuthorizedAddress),
	}
}

// HasField reports whether name is the key or a declared field.
func (ti *TableInfo) HasField(name string) bool {
	return name == ti.Key || slices.Contains(ti.Fields, name)
}

// CanonicalFields returns the key followed by the declared fields, without
// duplicates.
func (ti *TableInfo) CanonicalFields() []string {
	out := make([]string, 0, len(ti.Fields)+1)
	if ti.Key != "" {
		out = append(out, ti.Key)
	}
	for _, f := range ti.Fields {
		if f != ti.Key {
			out = append(out, f)
		}
	}
	return out
}

// CheckField fails with ErrInvalidField when e has a field the table does not
// declare.
func (ti *TableInfo) CheckField(e *Entry) error {
	for name := range e.Fields() {
		if !ti.HasField(name) {
			return ErrInvalidField.With("table", ti.Name).With("field", name)
		}
	}
	return nil
}

// CheckAuthority reports whether origin may write to the table. It does not
// block anything by itself.
func (ti *TableInfo) CheckAuthority(origin Address) bool {
	if len(ti.AuthorizedAddress) == 0 {
		return true
	}
	o := origin.Normalize()
	for _, a := range ti.AuthorizedAddress {
		if a.Normalize() == o {
			return true
		}
	}
	return false
}

// AccessOptions travel with a write. The table logs them; enforcing Check is
// the caller's job.
type AccessOptions struct {
	Origin Address `json:"origin,omitempty"`
	Check  bool    `json:"check,omitempty"`
}

// TableData pairs a schema with a flat row list. It is the unit exchanged
// with storage.
type TableData struct {
	Info    *TableInfo `json:"info"`
	Entries *Entries   `json:"entries"`
}
