// Defines Condition and evaluates it against rows.

package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Op is a clause comparison operator.
type Op int

const (
	// OpEQ compares strings for equality.
	OpEQ Op = iota
	// OpNE compares strings for inequality.
	OpNE
	// OpGT compares integers, field > value.
	OpGT
	// OpGE compares integers, field >= value.
	OpGE
	// OpLT compares integers, field < value.
	OpLT
	// OpLE compares integers, field <= value.
	OpLE
)

var opNames = [...]string{OpEQ: "=", OpNE: "!=", OpGT: ">", OpGE: ">=", OpLT: "<", OpLE: "<="}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
	return opNames[o]
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) {
	if o < 0 || int(o) >= len(opNames) {
		return nil, fmt.Errorf("unknown operator %d", int(o))
	}
	return []byte(opNames[o]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts the symbols
// as well as eq, ne, gt, ge, lt and le.
func (o *Op) UnmarshalText(text []byte) error {
	switch s := string(text); s {
	case "=", "==", "eq":
		*o = OpEQ
	case "!=", "ne":
		*o = OpNE
	case ">", "gt":
		*o = OpGT
	case ">=", "ge":
		*o = OpGE
	case "<", "lt":
		*o = OpLT
	case "<=", "le":
		*o = OpLE
	default:
		return fmt.Errorf("unknown operator %q", s)
	}
	return nil
}

// Clause is a single (field, operator, value) comparison.
type Clause struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value string `json:"value"`
}

func (c Clause) String() string {
	return c.Field + c.Op.String() + c.Value
}

// Condition is an ordered conjunction of clauses. The zero value and nil
// match every row.
type Condition struct {
	clauses []Clause
}

// NewCondition returns an empty condition.
func NewCondition() *Condition {
	return &Condition{}
}

// Add appends a clause and returns c for chaining.
func (c *Condition) Add(field string, op Op, value string) *Condition {
	c.clauses = append(c.clauses, Clause{Field: field, Op: op, Value: value})
	return c
}

// EQ appends field = value.
func (c *Condition) EQ(field, value string) *Condition { return c.Add(field, OpEQ, value) }

// NE appends field != value.
func (c *Condition) NE(field, value string) *Condition { return c.Add(field, OpNE, value) }

// GT appends field > value.
func (c *Condition) GT(field, value string) *Condition { return c.Add(field, OpGT, value) }

// GE appends field >= value.
func (c *Condition) GE(field, value string) *Condition { return c.Add(field, OpGE, value) }

// LT appends field < value.
func (c *Condition) LT(field, value string) *Condition { return c.Add(field, OpLT, value) }

// LE appends field <= value.
func (c *Condition) LE(field, value string) *Condition { return c.Add(field, OpLE, value) }

// Clauses returns a copy of the clauses, in order.
func (c *Condition) Clauses() []Clause {
	if c == nil {
		return nil
	}
	return append([]Clause(nil), c.clauses...)
}

// Len returns the number of clauses.
func (c *Condition) Len() int {
	if c == nil {
		return 0
	}
	return len(c.clauses)
}

func (c *Condition) String() string {
	if c.Len() == 0 {
		return ""
	}
	parts := make([]string, len(c.clauses))
	for i, cl := range c.clauses {
		parts[i] = cl.String()
	}
	return strings.Join(parts, ",")
}

// MarshalJSON encodes the clauses as a JSON array. Operators are written
// verbatim; an encoder with HTML escaping on still turns < and > into
// \u003c and \u003e.
func (c *Condition) MarshalJSON() ([]byte, error) {
	if c == nil || c.clauses == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c.clauses); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON decodes a JSON array of clauses.
func (c *Condition) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.clauses)
}

// ParseCondition parses comma separated clauses such as "age>10,city=paris".
// Two-character operators are matched before one-character ones.
func ParseCondition(s string) (*Condition, error) {
	c := NewCondition()
	if strings.TrimSpace(s) == "" {
		return c, nil
	}
	for _, part := range strings.Split(s, ",") {
		cl, err := parseClause(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		c.clauses = append(c.clauses, cl)
	}
	return c, nil
}

func parseClause(s string) (Clause, error) {
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune("=!<>", rune(s[i])) {
			continue
		}
		j := i + 1
		if j < len(s) && s[j] == '=' {
			j++
		}
		var op Op
		if err := op.UnmarshalText([]byte(s[i:j])); err != nil {
			return Clause{}, fmt.Errorf("invalid clause %q: %w", s, err)
		}
		field := strings.TrimSpace(s[:i])
		if field == "" {
			return Clause{}, fmt.Errorf("invalid clause %q: missing field", s)
		}
		return Clause{Field: field, Op: op, Value: strings.TrimSpace(s[j:])}, nil
	}
	return Clause{}, fmt.Errorf("invalid clause %q: missing operator", s)
}

// CompareError reports an ordering clause whose operand is not an integer.
type CompareError struct {
	Clause Clause
	Err    error
}

func (e *CompareError) Error() string {
	return fmt.Sprintf("compare %q: %v", e.Clause.String(), e.Err)
}

func (e *CompareError) Unwrap() error {
	return e.Err
}

// Match reports whether e satisfies every clause. Deleted rows never match.
//
// Clauses are evaluated in order and evaluation stops at the first failing
// one. When an ordering operand cannot be parsed, Match returns false and a
// *CompareError describing the clause.
func (c *Condition) Match(e *Entry) (bool, error) {
	if e.Status() == StatusDeleted {
		return false, nil
	}
	if c == nil {
		return true, nil
	}
	for _, cl := range c.clauses {
		lhs := e.Field(cl.Field)
		rhs := cl.Value
		switch cl.Op {
		case OpEQ:
			if lhs != rhs {
				return false, nil
			}
			continue
		case OpNE:
			if lhs == rhs {
				return false, nil
			}
			continue
		case OpGT, OpGE, OpLT, OpLE:
		default:
			return false, &CompareError{Clause: cl, Err: fmt.Errorf("unknown operator %d", int(cl.Op))}
		}
		l, err := parseOperand(lhs)
		if err != nil {
			return false, &CompareError{Clause: cl, Err: err}
		}
		r, err := parseOperand(rhs)
		if err != nil {
			return false, &CompareError{Clause: cl, Err: err}
		}
		var ok bool
		switch cl.Op { //nolint:exhaustive // Equality operators are handled above.
		case OpGT:
			ok = l > r
		case OpGE:
			ok = l >= r
		case OpLT:
			ok = l < r
		case OpLE:
			ok = l <= r
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// parseOperand parses an ordering operand. An empty operand is "0".
func parseOperand(s string) (int64, error) {
	if s == "" {
		s = "0"
	}
	return strconv.ParseInt(s, 10, 64)
}
