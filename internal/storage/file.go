// Implements a Storage persisting each table as a JSONL file.

package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/ksid"

	"github.com/maruel/statedb/internal/errors"
	"github.com/maruel/statedb/internal/table"
)

// currentVersion is the current version of the JSONL table format.
const currentVersion = "1.0"

const (
	tableExt     = ".jsonl"
	blockLogName = "blocks.jsonl"
)

// fileHeader is the first line of a table file.
type fileHeader struct {
	Version string           `json:"version"`
	Info    *table.TableInfo `json:"info"`
}

// Validate checks that the header is well-formed.
func (h *fileHeader) Validate() error {
	if h.Version == "" {
		return fmt.Errorf("schema version is required")
	}
	if h.Info == nil {
		return fmt.Errorf("table info is required")
	}
	return h.Info.Validate()
}

// Block is a committed block, as recorded in the block log.
type Block struct {
	ID     ksid.ID    `json:"id"`
	Num    int64      `json:"num"`
	Hash   table.Hash `json:"hash"`
	Rows   int        `json:"rows"`
	Tables []string   `json:"tables"`
	Time   time.Time  `json:"time"`
}

// FileOptions configures a File store.
type FileOptions struct {
	// Git commits the data directory after every block.
	Git    bool
	Author string
	Email  string
}

// File is a Storage keeping one JSONL file per table in a directory: a
// header line with the schema, then one row per line sorted by id. Files are
// loaded lazily and kept in memory.
type File struct {
	dir  string
	repo *gitRepo

	mu     sync.Mutex
	tables map[string]*tableRows
}

// OpenFile opens or creates a store in dir.
func OpenFile(dir string, opts FileOptions) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	f := &File{dir: dir, tables: make(map[string]*tableRows)}
	if opts.Git {
		repo, err := openGitRepo(dir, opts.Author, opts.Email)
		if err != nil {
			return nil, err
		}
		f.repo = repo
	}
	return f, nil
}

// Select implements table.Storage.
func (f *File) Select(ctx context.Context, info *table.TableInfo, key string, cond *table.Condition) (*table.Entries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.loadLocked(info)
	if err != nil {
		return nil, err
	}
	return t.selectKey(ctx, key, cond), nil
}

// Keys implements table.KeyLister.
func (f *File) Keys(_ context.Context, info *table.TableInfo) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.loadLocked(info)
	if err != nil {
		return nil, err
	}
	return t.keys(), nil
}

// Commit implements table.Storage.
//
// Every touched table is first written to a temporary file; the files are
// renamed in place only once all writes succeeded. Then the block is
// appended to the block log and, when enabled, the directory is committed to
// git with the block number and hash in the message. A failing rename can
// still leave the tables sorted before it replaced.
func (f *File) Commit(ctx context.Context, blockHash table.Hash, blockNum int64, data []*table.TableData) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	staged := make(map[string]*tableRows, len(data))
	total := 0
	for _, d := range data {
		t, ok := staged[d.Info.Name]
		if !ok {
			cur, err := f.loadLocked(d.Info)
			if err != nil {
				return 0, err
			}
			rows := make([]*table.Entry, len(cur.rows))
			for i, e := range cur.rows {
				rows[i] = e.Clone()
			}
			t = newTableRows(cur.info, rows)
			staged[d.Info.Name] = t
		}
		n, err := t.apply(d)
		if err != nil {
			return 0, err
		}
		total += n
	}

	names := make([]string, 0, len(staged))
	for name := range staged {
		names = append(names, name)
	}
	slices.Sort(names)
	// Every table is written to its temporary file before any is renamed in
	// place, so a failed write leaves all table files untouched.
	tmps := make([]string, 0, len(names))
	defer func() {
		for _, tmp := range tmps {
			_ = os.Remove(tmp)
		}
	}()
	for _, name := range names {
		tmp, err := writeTempTableFile(f.tablePath(name), staged[name])
		if err != nil {
			return 0, errors.Storage("failed to write table", err).With("table", name)
		}
		tmps = append(tmps, tmp)
	}
	for i, name := range names {
		if err := os.Rename(tmps[i], f.tablePath(name)); err != nil {
			return 0, errors.Storage("failed to replace table", err).With("table", name)
		}
		f.tables[name] = staged[name]
	}

	b := &Block{ID: ksid.NewID(), Num: blockNum, Hash: blockHash, Rows: total, Tables: names, Time: time.Now().UTC()}
	if err := f.appendBlock(b); err != nil {
		return 0, errors.Storage("failed to append block log", err)
	}
	if f.repo != nil {
		files := make([]string, 0, len(names)+1)
		for _, name := range names {
			files = append(files, name+tableExt)
		}
		files = append(files, blockLogName)
		msg := fmt.Sprintf("block %d %s\n\n%d rows in %s", blockNum, blockHash, total, strings.Join(names, ", "))
		if err := f.repo.commit(ctx, msg, files); err != nil {
			return 0, errors.Storage("failed to commit block", err)
		}
	}
	slog.InfoContext(ctx, "Committed block", "num", blockNum, "hash", blockHash.String(), "rows", total)
	return total, nil
}

// Blocks returns the block log, oldest first.
func (f *File) Blocks() ([]*Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readBlocks()
}

// LastBlock returns the last committed block, or nil if none.
func (f *File) LastBlock() (*Block, error) {
	blocks, err := f.Blocks()
	if err != nil || len(blocks) == 0 {
		return nil, err
	}
	return blocks[len(blocks)-1], nil
}

// History returns up to n git commits, newest first. It returns nil when git
// is disabled.
func (f *File) History(ctx context.Context, n int) ([]*Commit, error) {
	if f.repo == nil {
		return nil, nil
	}
	return f.repo.history(ctx, n)
}

// Watch drops the in-memory copy of a table whenever its file changes on
// disk, until ctx is canceled.
func (f *File) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(f.dir); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				base := filepath.Base(event.Name)
				if base == blockLogName || filepath.Ext(base) != tableExt || strings.HasPrefix(base, ".") {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					name := strings.TrimSuffix(base, tableExt)
					f.invalidate(name)
					slog.DebugContext(ctx, "Table file changed", "table", name, "op", event.Op.String())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching data directory", "err", err)
			}
		}
	}()
	return nil
}

func (f *File) invalidate(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables, name)
}

func (f *File) tablePath(name string) string {
	return filepath.Join(f.dir, name+tableExt)
}

// loadLocked returns the cached rows of a table, reading its file on a miss.
// A missing file is an empty table.
func (f *File) loadLocked(info *table.TableInfo) (*tableRows, error) {
	if t, ok := f.tables[info.Name]; ok {
		return t, nil
	}
	if info.Name == "" || filepath.Base(info.Name) != info.Name || strings.HasPrefix(info.Name, ".") {
		return nil, errors.New(errors.InvalidArgument, "invalid table name").With("table", info.Name)
	}
	t, err := readTableFile(f.tablePath(info.Name), info)
	if err != nil {
		return nil, err
	}
	f.tables[info.Name] = t
	return t, nil
}

func readTableFile(path string, info *table.TableInfo) (*tableRows, error) {
	fh, err := os.Open(path) //nolint:gosec // Path is built from a validated table name.
	if err != nil {
		if os.IsNotExist(err) {
			return newTableRows(info, nil), nil
		}
		return nil, errors.Storage("failed to open table file", err).With("path", path)
	}
	defer func() {
		_ = fh.Close()
	}()

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var hdr *fileHeader
	var rows []*table.Entry
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if hdr == nil {
			hdr = &fileHeader{}
			if err := json.Unmarshal(line, hdr); err != nil {
				return nil, fmt.Errorf("failed to unmarshal header in %s: %w", path, err)
			}
			if err := hdr.Validate(); err != nil {
				return nil, fmt.Errorf("invalid header in %s: %w", path, err)
			}
			if hdr.Info.Key != info.Key {
				return nil, ErrSchemaMismatch.With("table", info.Name).With("key", hdr.Info.Key)
			}
			continue
		}
		row := &table.Entry{}
		if err := json.Unmarshal(line, row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row in %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Storage("failed to read table file", err).With("path", path)
	}
	if hdr == nil {
		return newTableRows(info, rows), nil
	}
	return newTableRows(hdr.Info, rows), nil
}

// writeTempTableFile writes the content of t next to path and returns the
// name of the temporary file. The caller renames it over path.
func writeTempTableFile(path string, t *tableRows) (string, error) {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	fh, err := os.Create(tmp) //nolint:gosec // Path is built from a validated table name.
	if err != nil {
		return "", fmt.Errorf("failed to create table file: %w", err)
	}
	ok := false
	defer func() {
		_ = fh.Close()
		if !ok {
			_ = os.Remove(tmp)
		}
	}()

	writer := bufio.NewWriter(fh)
	enc := json.NewEncoder(writer)
	if err := enc.Encode(&fileHeader{Version: currentVersion, Info: t.info}); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range t.rows {
		if err := enc.Encode(row); err != nil {
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush writer: %w", err)
	}
	if err := fh.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync table file: %w", err)
	}
	if err := fh.Close(); err != nil {
		return "", fmt.Errorf("failed to close table file: %w", err)
	}
	ok = true
	return tmp, nil
}

func (f *File) appendBlock(b *Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}
	fh, err := os.OpenFile(filepath.Join(f.dir, blockLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // Fixed file name in the data directory.
	if err != nil {
		return fmt.Errorf("failed to open block log for append: %w", err)
	}
	defer func() {
		_ = fh.Close()
	}()
	if _, err := fh.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	return nil
}

func (f *File) readBlocks() ([]*Block, error) {
	fh, err := os.Open(filepath.Join(f.dir, blockLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Storage("failed to open block log", err)
	}
	defer func() {
		_ = fh.Close()
	}()
	var blocks []*Block
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		b := &Block{}
		if err := json.Unmarshal(line, b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Storage("failed to read block log", err)
	}
	return blocks, nil
}
