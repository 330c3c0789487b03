package state

import (
	"context"
	"errors"
	"testing"

	apierrors "github.com/maruel/statedb/internal/errors"
	"github.com/maruel/statedb/internal/storage"
	"github.com/maruel/statedb/internal/table"
)

func schemas() []*table.TableInfo {
	return []*table.TableInfo{
		{Name: "t_user", Key: "name", Fields: []string{"age"}},
		{Name: "t_asset", Key: "owner", Fields: []string{"amount"}},
	}
}

func newFactory(t *testing.T, s table.Storage, num int64) *Factory {
	t.Helper()
	f, err := NewFactory(s, schemas(), table.Keccak256([]byte{byte(num)}), num)
	if err != nil {
		t.Fatalf("NewFactory() error: %v", err)
	}
	return f
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name    string
		schemas []*table.TableInfo
	}{
		{"missing key", []*table.TableInfo{{Name: "t"}}},
		{"duplicate", []*table.TableInfo{{Name: "t", Key: "k"}, {Name: "t", Key: "k"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFactory(storage.NewMemory(), tt.schemas, table.Hash{}, 1); err == nil {
				t.Error("NewFactory() succeeded")
			}
		})
	}
}

func TestOpenTable(t *testing.T) {
	f := newFactory(t, storage.NewMemory(), 3)
	a, err := f.OpenTable("t_user")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := f.OpenTable("t_user")
	if a != b {
		t.Error("OpenTable() returned a different table for the same name")
	}
	if a.BlockNum() != 3 || a.BlockHash() != table.Keccak256([]byte{3}) {
		t.Errorf("provenance = %d %s", a.BlockNum(), a.BlockHash())
	}
	_, err = f.OpenTable("t_missing")
	if !errors.Is(err, ErrTableNotFound) || apierrors.CodeOf(err) != apierrors.NotFound {
		t.Errorf("OpenTable(t_missing) error = %v", err)
	}
}

func TestHash(t *testing.T) {
	ctx := context.Background()

	t.Run("empty block", func(t *testing.T) {
		f := newFactory(t, storage.NewMemory(), 1)
		if _, err := f.OpenTable("t_user"); err != nil {
			t.Fatal(err)
		}
		h, err := f.Hash(ctx)
		if err != nil || !h.IsZero() {
			t.Errorf("Hash() = %s, %v, want zero", h, err)
		}
	})

	t.Run("empty tables do not count", func(t *testing.T) {
		f1 := newFactory(t, storage.NewMemory(), 1)
		f2 := newFactory(t, storage.NewMemory(), 1)
		for _, f := range []*Factory{f1, f2} {
			u, _ := f.OpenTable("t_user")
			if _, err := u.Insert(ctx, "a", table.NewEntryFrom("age", "1"), nil, false); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := f2.OpenTable("t_asset"); err != nil {
			t.Fatal(err)
		}
		h1, _ := f1.Hash(ctx)
		h2, _ := f2.Hash(ctx)
		if h1.IsZero() || h1 != h2 {
			t.Errorf("Hash() = %s and %s", h1, h2)
		}
	})

	t.Run("opening order does not matter", func(t *testing.T) {
		fill := func(f *Factory, order []string) {
			for _, name := range order {
				tbl, _ := f.OpenTable(name)
				if _, err := tbl.Insert(ctx, "k", table.NewEntry(), nil, false); err != nil {
					t.Fatal(err)
				}
			}
		}
		f1 := newFactory(t, storage.NewMemory(), 1)
		f2 := newFactory(t, storage.NewMemory(), 1)
		fill(f1, []string{"t_user", "t_asset"})
		fill(f2, []string{"t_asset", "t_user"})
		h1, _ := f1.Hash(ctx)
		h2, _ := f2.Hash(ctx)
		if h1 != h2 {
			t.Errorf("Hash() = %s and %s", h1, h2)
		}
		hashes, err := f1.Hashes(ctx)
		if err != nil || len(hashes) != 2 || hashes[0].Table != "t_asset" {
			t.Errorf("Hashes() = %+v, %v", hashes, err)
		}
	})
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	f := newFactory(t, mem, 1)
	u, _ := f.OpenTable("t_user")
	a, _ := f.OpenTable("t_asset")
	if _, err := u.Insert(ctx, "alice", table.NewEntryFrom("age", "30"), nil, true); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Insert(ctx, "alice", table.NewEntryFrom("amount", "100"), nil, false); err != nil {
		t.Fatal(err)
	}
	root, err := f.Hash(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := f.Commit(ctx); err != nil || n != 2 {
		t.Fatalf("Commit() = %d, %v", n, err)
	}
	if num, h := mem.LastBlock(); num != 1 || h != table.Keccak256([]byte{1}) {
		t.Errorf("LastBlock() = %d, %s", num, h)
	}

	// The next block sees the committed state and reproduces the root.
	next := newFactory(t, mem, 2)
	if err := next.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := next.Hash(ctx)
	if err != nil || got != root {
		t.Errorf("Hash() after LoadAll = %s, %v, want %s", got, err, root)
	}
	u2, _ := next.OpenTable("t_user")
	if _, err := u2.Insert(ctx, "alice", table.NewEntry(), nil, true); !errors.Is(err, table.ErrKeyExists) {
		t.Errorf("Insert() error = %v, want ErrKeyExists", err)
	}
}

type noKeys struct{ table.Storage }

func TestLoadAllNeedsKeyLister(t *testing.T) {
	f := newFactory(t, noKeys{storage.NewMemory()}, 1)
	if err := f.LoadAll(context.Background()); err == nil {
		t.Error("LoadAll() succeeded without a key lister")
	}
}
