package table

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
)

func TestConditionMatch(t *testing.T) {
	row := NewEntryFrom("name", "alice", "age", "30", "city", "", "balance", "3000000000")

	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			name string
			cond *Condition
			want bool
		}{
			{"nil condition", nil, true},
			{"empty condition", NewCondition(), true},
			{"eq match", NewCondition().EQ("name", "alice"), true},
			{"eq mismatch", NewCondition().EQ("name", "bob"), false},
			{"eq absent field is empty", NewCondition().EQ("missing", ""), true},
			{"ne match", NewCondition().NE("name", "bob"), true},
			{"ne mismatch", NewCondition().NE("name", "alice"), false},
			{"gt", NewCondition().GT("age", "29"), true},
			{"gt equal", NewCondition().GT("age", "30"), false},
			{"ge equal", NewCondition().GE("age", "30"), true},
			{"lt", NewCondition().LT("age", "31"), true},
			{"lt equal", NewCondition().LT("age", "30"), false},
			{"le equal", NewCondition().LE("age", "30"), true},
			{"le below", NewCondition().LE("age", "29"), false},
			{"empty lhs is zero", NewCondition().LT("city", "1"), true},
			{"empty rhs is zero", NewCondition().GT("age", ""), true},
			{"absent field is zero", NewCondition().GE("missing", "0"), true},
			{"negative numbers", NewCondition().GT("age", "-5"), true},
			{"all clauses must hold", NewCondition().EQ("name", "alice").GT("age", "40"), false},
			{"conjunction holds", NewCondition().EQ("name", "alice").GT("age", "20").LE("age", "30"), true},
			{"beyond 32 bits lhs", NewCondition().GT("balance", "1"), true},
			{"beyond 32 bits rhs", NewCondition().LT("age", "3000000000"), true},
			{"beyond 32 bits equal", NewCondition().GE("balance", "3000000000"), true},
			{"int64 max", NewCondition().LT("balance", "9223372036854775807"), true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := tt.cond.Match(row)
				if err != nil {
					t.Fatalf("Match() error: %v", err)
				}
				if got != tt.want {
					t.Errorf("Match(%s) = %v, want %v", tt.cond, got, tt.want)
				}
			})
		}
	})

	t.Run("non numeric operand", func(t *testing.T) {
		tests := []struct {
			name string
			cond *Condition
		}{
			{"lhs", NewCondition().GT("name", "1")},
			{"rhs", NewCondition().LT("age", "abc")},
			{"float", NewCondition().GE("age", "1.5")},
			{"beyond 64 bits", NewCondition().GT("age", "9223372036854775808")},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := tt.cond.Match(row)
				if got {
					t.Error("Match() = true, want false")
				}
				var ce *CompareError
				if !errors.As(err, &ce) {
					t.Fatalf("Match() error = %v, want *CompareError", err)
				}
			})
		}
	})

	t.Run("short circuit", func(t *testing.T) {
		// The failing equality stops evaluation before the bad numeric clause.
		got, err := NewCondition().EQ("name", "bob").GT("name", "1").Match(row)
		if got || err != nil {
			t.Errorf("Match() = %v, %v, want false, nil", got, err)
		}
	})

	t.Run("deleted row never matches", func(t *testing.T) {
		deleted := row.Clone()
		deleted.SetStatus(StatusDeleted)
		for _, c := range []*Condition{nil, NewCondition(), NewCondition().EQ("name", "alice")} {
			if got, _ := c.Match(deleted); got {
				t.Errorf("Match(%s) on deleted row = true", c)
			}
		}
	})

	t.Run("greater than ten", func(t *testing.T) {
		rows := []*Entry{
			NewEntryFrom("age", "5"),
			NewEntryFrom("age", "15"),
			NewEntryFrom("age", ""),
		}
		got := MatchingPositions(context.Background(), "t", rows, NewCondition().GT("age", "10"))
		if !slices.Equal(got, []int{1}) {
			t.Errorf("positions = %v, want [1]", got)
		}
	})
}

func TestParseCondition(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			in   string
			want []Clause
		}{
			{"", nil},
			{"  ", nil},
			{"age>10", []Clause{{"age", OpGT, "10"}}},
			{"age >= 10", []Clause{{"age", OpGE, "10"}}},
			{"age<=10,name=bob", []Clause{{"age", OpLE, "10"}, {"name", OpEQ, "bob"}}},
			{"name!=bob", []Clause{{"name", OpNE, "bob"}}},
			{"name==bob", []Clause{{"name", OpEQ, "bob"}}},
			{"name=", []Clause{{"name", OpEQ, ""}}},
			{"a<1,b>2", []Clause{{"a", OpLT, "1"}, {"b", OpGT, "2"}}},
		}
		for _, tt := range tests {
			t.Run(tt.in, func(t *testing.T) {
				c, err := ParseCondition(tt.in)
				if err != nil {
					t.Fatalf("ParseCondition(%q) error: %v", tt.in, err)
				}
				if got := c.Clauses(); !slices.Equal(got, tt.want) {
					t.Errorf("ParseCondition(%q) = %v, want %v", tt.in, got, tt.want)
				}
			})
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, in := range []string{"age", "=10", "a!b", "a,b=1"} {
			t.Run(in, func(t *testing.T) {
				if _, err := ParseCondition(in); err == nil {
					t.Errorf("ParseCondition(%q) succeeded, want error", in)
				}
			})
		}
	})
}

func TestConditionJSON(t *testing.T) {
	c := NewCondition().EQ("name", "bob").GE("age", "3").LT("age", "9")
	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"field":"name","op":"=","value":"bob"},{"field":"age","op":">=","value":"3"},{"field":"age","op":"<","value":"9"}]`
	if string(data) != want {
		t.Errorf("MarshalJSON = %s, want %s", data, want)
	}

	// json.Marshal escapes < and > but the result decodes to the same clauses.
	escaped, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	var back Condition
	if err := json.Unmarshal(escaped, &back); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(back.Clauses(), c.Clauses()) {
		t.Errorf("round trip = %v, want %v", back.Clauses(), c.Clauses())
	}
	if data, _ := (*Condition)(nil).MarshalJSON(); string(data) != "[]" {
		t.Errorf("nil MarshalJSON = %s", data)
	}

	var got Condition
	if err := json.Unmarshal([]byte(`[{"field":"age","op":"lt","value":"7"}]`), &got); err != nil {
		t.Fatal(err)
	}
	if cl := got.Clauses(); len(cl) != 1 || cl[0] != (Clause{"age", OpLT, "7"}) {
		t.Errorf("Unmarshal = %v", cl)
	}
	if err := json.Unmarshal([]byte(`[{"field":"age","op":"~","value":"7"}]`), &got); err == nil {
		t.Error("Unmarshal with unknown operator succeeded")
	}
}
