// Command btree2 is a small command-line driver over the BtreeFile /
// BitmapOverlay core: enough to create a file, insert keys, look one up,
// and verify the tree, without requiring a host catalog or server.
//
// Flag layout is grounded on the teacher's original server flag set
// (src/main.go's flag.StringVar/flag.IntVar block); the subcommands
// themselves replace the teacher's HTTP server bootstrap with direct
// calls into the storage engine, since this repository no longer carries
// a network-facing server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/doquedb/btree2/src/bitmap"
	"github.com/doquedb/btree2/src/btreefile"
	"github.com/doquedb/btree2/src/codec"
	"github.com/doquedb/btree2/src/config"
	"github.com/doquedb/btree2/src/enginelog"
	"github.com/doquedb/btree2/src/fileid"
	"github.com/doquedb/btree2/src/hostiface"
	"github.com/doquedb/btree2/src/walrecord"
)

func printUsage() {
	fmt.Println("btree2 - paged B+ tree secondary-index storage engine")
	fmt.Println("\nUsage:")
	fmt.Println("  btree2 -dir=<path> <command> [args...]")
	fmt.Println("\nCommands:")
	fmt.Println("  create                     create an empty index file at -dir")
	fmt.Println("  insert <key> <rowid>       insert key -> rowid")
	fmt.Println("  get <key>                  look up key")
	fmt.Println("  expunge <key>              remove key")
	fmt.Println("  verify                     walk the tree and report structural findings")
	fmt.Println("  bitmap-set <key> <rowid>   set a bit in the bitmap overlay at -dir")
	fmt.Println("  bitmap-rows <key>          list the rows set under key")
	fmt.Println("\nFlags:")
	flag.PrintDefaults()
}

func main() {
	dir := flag.String("dir", "./data", "directory holding the index file(s)")
	bitmapMode := flag.Bool("compressed", false, "open/create the index as a bitmap overlay (ObjectID leaves)")
	unique := flag.Bool("unique", false, "reject duplicate keys")
	hint := flag.String("hint", "", "FileId hint string, e.g. \"normalized,compressed\"")
	verbose := flag.Bool("verbose", false, "log the chosen dir and command at debug level on startup")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	if *verbose {
		enginelog.Get().Debugw("starting", "dir", *dir, "command", flag.Arg(0))
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	cfg := config.Default()
	keyTypes := []codec.Type{codec.UInt}

	sink, err := walrecord.NewFileSink(filepath.Join(*dir, "structural"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
	defer sink.Close()

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	if cmd == "bitmap-set" || cmd == "bitmap-rows" || *bitmapMode {
		err = runBitmapCommand(ctx, cfg, *dir, keyTypes, *unique, *hint, cmd, args, sink)
	} else {
		err = runBtreeCommand(ctx, cfg, *dir, keyTypes, *unique, *hint, cmd, args, sink)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func runBtreeCommand(ctx context.Context, cfg *config.EngineConfig, dir string, keyTypes []codec.Type, unique bool, hint string, cmd string, args []string, sink walrecord.Sink) error {
	path := filepath.Join(dir, "index.btr")

	fid, err := fileid.Create(cfg, fileid.KindBtree, keyTypes, unique, hint, 1)
	if err != nil {
		return err
	}

	switch cmd {
	case "create":
		bt, err := btreefile.Create(ctx, path, fid, cfg, sink)
		if err != nil {
			return err
		}
		return bt.Close(ctx)

	case "insert", "get", "expunge":
		if len(args) < 1 {
			return fmt.Errorf("%s requires a key", cmd)
		}
		key, err := parseUintKey(args[0])
		if err != nil {
			return err
		}
		bt, err := btreefile.Open(ctx, path, fid, cfg, sink)
		if err != nil {
			return err
		}
		defer bt.Close(ctx)

		switch cmd {
		case "insert":
			if len(args) < 2 {
				return fmt.Errorf("insert requires a key and a rowid")
			}
			rowID, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("bad rowid: %w", err)
			}
			return bt.Insert(ctx, key, hostiface.PageID(rowID), 0, false)
		case "get":
			pid, _, ok, err := bt.Get(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("not found")
				return nil
			}
			fmt.Printf("%d\n", pid)
			return nil
		case "expunge":
			return bt.Expunge(ctx, key)
		}
		return nil

	case "verify":
		bt, err := btreefile.Open(ctx, path, fid, cfg, sink)
		if err != nil {
			return err
		}
		defer bt.Close(ctx)
		progress := &hostiface.VerifyProgress{Continue: true}
		if err := bt.Verify(ctx, progress, func() bool { return false }); err != nil {
			return err
		}
		if len(progress.Findings) == 0 {
			fmt.Println("clean")
			return nil
		}
		for _, f := range progress.Findings {
			fmt.Println(f)
		}
		return fmt.Errorf("%d findings", len(progress.Findings))

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runBitmapCommand(ctx context.Context, cfg *config.EngineConfig, dir string, keyTypes []codec.Type, unique bool, hint string, cmd string, args []string, sink walrecord.Sink) error {
	switch cmd {
	case "create":
		ov, err := bitmap.Create(ctx, dir, keyTypes, unique, hint, 1, cfg, sink)
		if err != nil {
			return err
		}
		return ov.Close(ctx)

	case "bitmap-set", "bitmap-rows":
		if len(args) < 1 {
			return fmt.Errorf("%s requires a key", cmd)
		}
		key, err := parseUintKey(args[0])
		if err != nil {
			return err
		}
		ov, err := bitmap.Open(ctx, dir, keyTypes, unique, hint, 1, cfg, sink)
		if err != nil {
			return err
		}
		defer ov.Close(ctx)

		switch cmd {
		case "bitmap-set":
			if len(args) < 2 {
				return fmt.Errorf("bitmap-set requires a key and a rowid")
			}
			rowID, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("bad rowid: %w", err)
			}
			return ov.SetBit(ctx, key, uint32(rowID))
		case "bitmap-rows":
			rows, err := ov.Rows(ctx, key)
			if err != nil {
				return err
			}
			strs := make([]string, len(rows))
			for i, r := range rows {
				strs[i] = strconv.FormatUint(uint64(r), 10)
			}
			fmt.Println(strings.Join(strs, ","))
			return nil
		}
		return nil

	default:
		return fmt.Errorf("unknown bitmap command %q", cmd)
	}
}

func parseUintKey(s string) ([]codec.Value, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad key: %w", err)
	}
	return []codec.Value{{Type: codec.UInt, U32: uint32(v)}}, nil
}
