// statedb applies blocks of table operations to a persisted state and prints
// state digests.
//
// Usage:
//
//	statedb [flags] apply -block N -file ops.jsonl [-hash 0x...] [-dry-run]
//	statedb [flags] select -table T -key K [-where "age>10"]
//	statedb [flags] hash
//	statedb [flags] schema
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/statedb/internal/config"
	"github.com/maruel/statedb/internal/storage"
	"github.com/maruel/statedb/internal/table"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "statedb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	cfgPath := flag.String("config", "statedb.yaml", "Configuration file")
	dataDir := flag.String("data-dir", "", "Data directory, overrides the configuration")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	watch := flag.Bool("watch", false, "Reload table files edited by another process")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("a command is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid -log-level: %w", err)
	}
	slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})))

	if args[0] == "schema" {
		return cmdSchema(os.Stdout, args[1:])
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	st, err := openStorage(ctx, cfg, *watch)
	if err != nil {
		return err
	}
	switch args[0] {
	case "apply":
		return cmdApply(ctx, os.Stdout, cfg, st, args[1:])
	case "select":
		return cmdSelect(ctx, os.Stdout, cfg, st, args[1:])
	case "hash":
		return cmdHash(ctx, os.Stdout, cfg, st, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: statedb [flags] <apply|select|hash|schema> [command flags]\n\n")
	flag.PrintDefaults()
}

// stores is the storage stack built from the configuration. file is nil for
// the memory backend.
type stores struct {
	*storage.Throttled
	file *storage.File
	mem  *storage.Memory
}

// lastBlock returns the number and hash of the last committed block, 0 when
// none.
func (s *stores) lastBlock() (int64, table.Hash, error) {
	if s.file != nil {
		b, err := s.file.LastBlock()
		if err != nil || b == nil {
			return 0, table.Hash{}, err
		}
		return b.Num, b.Hash, nil
	}
	n, h := s.mem.LastBlock()
	return n, h, nil
}

func openStorage(ctx context.Context, cfg *config.Config, watch bool) (*stores, error) {
	s := &stores{}
	var base table.Storage
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		s.mem = storage.NewMemory()
		base = s.mem
	default:
		f, err := storage.OpenFile(cfg.DataDir, storage.FileOptions{
			Git:    cfg.Storage.Git,
			Author: cfg.Storage.Author,
			Email:  cfg.Storage.Email,
		})
		if err != nil {
			return nil, err
		}
		if watch {
			if err := f.Watch(ctx); err != nil {
				return nil, err
			}
		}
		s.file = f
		base = f
	}
	s.Throttled = storage.NewThrottled(base, cfg.Throttle.SelectsPerSecond, cfg.Throttle.Burst)
	return s, nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("statedb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

// newFlagSet returns a flag set for a command that reports errors instead of
// exiting.
func newFlagSet(name string, w io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(w)
	return fs
}
