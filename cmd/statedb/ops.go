// Parses and runs the operation batches given to the apply command.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/maruel/statedb/internal/errors"
	"github.com/maruel/statedb/internal/state"
	"github.com/maruel/statedb/internal/table"
)

var errNotAuthorized = errors.New(errors.PermissionDenied, "origin not authorized")

// op is one line of an operation batch.
type op struct {
	Table      string           `json:"table"`
	Op         string           `json:"op"`
	Key        string           `json:"key"`
	Entry      *table.Entry     `json:"entry,omitempty"`
	Condition  *table.Condition `json:"condition,omitempty"`
	Where      string           `json:"where,omitempty"`
	NeedSelect bool             `json:"need_select,omitempty"`
	Origin     table.Address    `json:"origin,omitempty"`

	line int
}

// validate checks the shape of the operation and folds Where into
// Condition.
func (o *op) validate() error {
	if o.Table == "" {
		return fmt.Errorf("table is required")
	}
	switch o.Op {
	case "insert", "update":
		if o.Entry == nil {
			return fmt.Errorf("%s requires an entry", o.Op)
		}
	case "remove", "select":
	default:
		return fmt.Errorf("unknown op %q", o.Op)
	}
	if o.Where != "" {
		if o.Condition.Len() != 0 {
			return fmt.Errorf("where and condition are mutually exclusive")
		}
		c, err := table.ParseCondition(o.Where)
		if err != nil {
			return err
		}
		o.Condition = c
	}
	return nil
}

// readOps reads a JSON lines batch. Empty lines and lines starting with #
// are skipped.
func readOps(r io.Reader) ([]*op, error) {
	var ops []*op
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		o := &op{line: n}
		d := json.NewDecoder(strings.NewReader(line))
		d.DisallowUnknownFields()
		if err := d.Decode(o); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if err := o.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		ops = append(ops, o)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

// result is what running an operation reports.
type result struct {
	Line  int            `json:"line"`
	Table string         `json:"table"`
	Op    string         `json:"op"`
	Key   string         `json:"key"`
	Count int            `json:"count"`
	Rows  *table.Entries `json:"rows,omitempty"`
}

// run executes the operation against the block's tables. Writes from an
// origin the table does not authorize are rejected.
func (o *op) run(ctx context.Context, f *state.Factory) (*result, error) {
	t, err := f.OpenTable(o.Table)
	if err != nil {
		return nil, err
	}
	res := &result{Line: o.line, Table: o.Table, Op: o.Op, Key: o.Key}
	if o.Op == "select" {
		rows, err := t.Select(ctx, o.Key, o.Condition)
		if err != nil {
			return nil, err
		}
		res.Rows = rows
		res.Count = rows.Len()
		return res, nil
	}
	opts := &table.AccessOptions{Origin: o.Origin, Check: true}
	if !t.CheckAuthority(o.Origin) {
		return nil, errNotAuthorized.With("table", o.Table).With("origin", string(o.Origin))
	}
	switch o.Op {
	case "insert":
		res.Count, err = t.Insert(ctx, o.Key, o.Entry, opts, o.NeedSelect)
	case "update":
		res.Count, err = t.Update(ctx, o.Key, o.Entry, o.Condition, opts)
	case "remove":
		res.Count, err = t.Remove(ctx, o.Key, o.Condition, opts)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
