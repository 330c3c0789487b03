package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/maruel/statedb/internal/config"
	"github.com/maruel/statedb/internal/state"
	"github.com/maruel/statedb/internal/table"
)

// rootLine is the last line printed by apply and hash.
type rootLine struct {
	Block int64      `json:"block"`
	Root  table.Hash `json:"root"`
	Rows  int        `json:"rows_written"`
}

// cmdApply runs a batch of operations as block N. The block is committed
// only when every operation succeeds.
func cmdApply(ctx context.Context, w io.Writer, cfg *config.Config, st *stores, args []string) error {
	fs := newFlagSet("apply", os.Stderr)
	blockNum := fs.Int64("block", 0, "Block number, must follow the last committed block")
	file := fs.String("file", "", "Operations, one JSON object per line; - for stdin")
	hash := fs.String("hash", "", "Block hash; defaults to the Keccak-256 of the operations file")
	dryRun := fs.Bool("dry-run", false, "Print digests without committing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("unknown arguments: %v", fs.Args())
	}
	if *file == "" {
		return errors.New("-file is required")
	}
	last, _, err := st.lastBlock()
	if err != nil {
		return err
	}
	if *blockNum <= last {
		return fmt.Errorf("block %d does not follow the last committed block %d", *blockNum, last)
	}

	var data []byte
	if *file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*file) //nolint:gosec // User-specified operations file
	}
	if err != nil {
		return fmt.Errorf("failed to read operations: %w", err)
	}
	ops, err := readOps(bytes.NewReader(data))
	if err != nil {
		return err
	}
	blockHash := table.Keccak256(data)
	if *hash != "" {
		if blockHash, err = table.ParseHash(*hash); err != nil {
			return err
		}
	}

	f, err := state.NewFactory(st, cfg.Tables, blockHash, *blockNum)
	if err != nil {
		return err
	}
	enc := newEncoder(w)
	for _, o := range ops {
		res, err := o.run(ctx, f)
		if err != nil {
			return fmt.Errorf("line %d: %w", o.line, err)
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	root, err := printHashes(ctx, enc, f)
	if err != nil {
		return err
	}
	out := rootLine{Block: *blockNum, Root: root}
	if !*dryRun {
		if out.Rows, err = f.Commit(ctx); err != nil {
			return err
		}
		slog.InfoContext(ctx, "Block applied", "num", *blockNum, "ops", len(ops), "rows", out.Rows)
	}
	return enc.Encode(out)
}

// cmdSelect prints the rows of one key as JSON lines.
func cmdSelect(ctx context.Context, w io.Writer, cfg *config.Config, st *stores, args []string) error {
	fs := newFlagSet("select", os.Stderr)
	name := fs.String("table", "", "Table name")
	key := fs.String("key", "", "Primary key")
	where := fs.String("where", "", "Condition, e.g. \"age>10,city=paris\"")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("-table is required")
	}
	cond, err := table.ParseCondition(*where)
	if err != nil {
		return err
	}
	num, h, err := st.lastBlock()
	if err != nil {
		return err
	}
	f, err := state.NewFactory(st, cfg.Tables, h, num)
	if err != nil {
		return err
	}
	t, err := f.OpenTable(*name)
	if err != nil {
		return err
	}
	rows, err := t.Select(ctx, *key, cond)
	if err != nil {
		return err
	}
	enc := newEncoder(w)
	for _, e := range rows.All() {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// cmdHash loads every configured table in full and prints the digests of
// the last committed state.
func cmdHash(ctx context.Context, w io.Writer, cfg *config.Config, st *stores, args []string) error {
	fs := newFlagSet("hash", os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	num, h, err := st.lastBlock()
	if err != nil {
		return err
	}
	f, err := state.NewFactory(st, cfg.Tables, h, num)
	if err != nil {
		return err
	}
	if err := f.LoadAll(ctx); err != nil {
		return err
	}
	enc := newEncoder(w)
	root, err := printHashes(ctx, enc, f)
	if err != nil {
		return err
	}
	return enc.Encode(rootLine{Block: num, Root: root})
}

// cmdSchema prints the JSON schema of the configuration file.
func cmdSchema(w io.Writer, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown arguments: %v", args)
	}
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// newEncoder returns a JSON lines encoder that does not HTML-escape the
// strings it writes.
func newEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

func printHashes(ctx context.Context, enc *json.Encoder, f *state.Factory) (table.Hash, error) {
	hashes, err := f.Hashes(ctx)
	if err != nil {
		return table.Hash{}, err
	}
	for _, th := range hashes {
		if err := enc.Encode(th); err != nil {
			return table.Hash{}, err
		}
	}
	return f.Hash(ctx)
}
