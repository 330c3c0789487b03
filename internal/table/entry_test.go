package table

import (
	"encoding/json"
	"testing"
)

func TestEntry(t *testing.T) {
	t.Run("Field", func(t *testing.T) {
		e := NewEntryFrom("name", "a")
		if got := e.Field("name"); got != "a" {
			t.Errorf("Field(name) = %q", got)
		}
		if got := e.Field("missing"); got != "" {
			t.Errorf("Field(missing) = %q, want empty", got)
		}
		if _, ok := e.Lookup("missing"); ok {
			t.Error("Lookup(missing) found a value")
		}
	})

	t.Run("order preserved", func(t *testing.T) {
		e := NewEntryFrom("z", "1", "a", "2")
		e.SetField("z", "3")
		var names []string
		for name := range e.Fields() {
			names = append(names, name)
		}
		if len(names) != 2 || names[0] != "z" || names[1] != "a" {
			t.Errorf("field order = %v, want [z a]", names)
		}
	})

	t.Run("Clone is independent", func(t *testing.T) {
		e := NewEntryFrom("name", "a")
		e.SetID(7)
		c := e.Clone()
		c.SetField("name", "b")
		c.SetStatus(StatusDeleted)
		if e.Field("name") != "a" || e.Status() != StatusNormal {
			t.Error("mutating the clone changed the original")
		}
		if c.ID() != 7 {
			t.Errorf("clone ID = %d, want 7", c.ID())
		}
	})

	t.Run("JSON", func(t *testing.T) {
		e := NewEntryFrom("name", "a", "age", "3")
		e.SetID(12)
		e.SetStatus(StatusDeleted)
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatal(err)
		}
		want := `{"_id_":"12","_status_":"1","name":"a","age":"3"}`
		if string(data) != want {
			t.Fatalf("Marshal = %s, want %s", data, want)
		}
		var got Entry
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got.ID() != 12 || got.Status() != StatusDeleted || got.Len() != 2 || got.Field("age") != "3" {
			t.Errorf("Unmarshal = id %d status %s fields %d", got.ID(), got.Status(), got.Len())
		}
	})

	t.Run("JSON invalid", func(t *testing.T) {
		for _, in := range []string{
			`{"_status_":"2"}`,
			`{"_status_":"x"}`,
			`{"_id_":"-1"}`,
			`{"name":1}`,
		} {
			var e Entry
			if err := json.Unmarshal([]byte(in), &e); err == nil {
				t.Errorf("Unmarshal(%s) succeeded", in)
			}
		}
	})
}

func TestEntries(t *testing.T) {
	es := NewEntries()
	if es.Len() != 0 {
		t.Fatalf("Len() = %d", es.Len())
	}
	if p := es.Add(NewEntryFrom("k", "a")); p != 0 {
		t.Errorf("Add() = %d, want 0", p)
	}
	if p := es.Add(NewEntryFrom("k", "b")); p != 1 {
		t.Errorf("Add() = %d, want 1", p)
	}
	if es.Get(1).Field("k") != "b" {
		t.Error("Get(1) returned the wrong row")
	}
	var nilEntries *Entries
	if nilEntries.Len() != 0 {
		t.Error("nil Entries Len() != 0")
	}
	data, err := json.Marshal(NewEntries())
	if err != nil || string(data) != "[]" {
		t.Errorf("Marshal(empty) = %s, %v", data, err)
	}
}
