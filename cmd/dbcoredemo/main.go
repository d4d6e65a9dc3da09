// Command dbcoredemo is a small REPL wiring the disk manager, buffer
// pool, B+ tree index, catalog, and transaction/lock manager together,
// following DaemonDB's main.go bufio.Scanner REPL shape (minus the SQL
// lexer/parser/executor layer, which stays out of scope here) so the
// storage core can be poked at interactively.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dbcore/internal/bplustree"
	"dbcore/internal/buffer"
	"dbcore/internal/catalog"
	"dbcore/internal/disk"
	"dbcore/internal/page"
	"dbcore/internal/txn"
)

// contextWithSignal returns a context cancelled on SIGINT/SIGTERM, so the
// background deadlock detector's goroutine stops cleanly when the REPL
// exits or the process is interrupted.
func contextWithSignal() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

const (
	defaultPoolSize = 64
	defaultLRUK     = 2
	keySize         = 8 // int64 keys, big-endian so byte order matches numeric order
)

func int64Key(v int64) []byte {
	b := make([]byte, keySize)
	binary.BigEndian.PutUint64(b, uint64(v)^(1<<63)) // flip the sign bit so negatives sort first
	return b
}

func int64Cmp(a, b []byte) int { return bytes.Compare(a, b) }

type demo struct {
	dm      *disk.Manager
	pool    *buffer.Pool
	cat     *catalog.Catalog
	lm      *txn.LockManager
	txm     *txn.Manager
	trees   map[string]*bplustree.Tree
	out     *bufio.Writer
}

func main() {
	dataFile := flag.String("data", "dbcoredemo.db", "path to the backing index file")
	catalogFile := flag.String("catalog", "dbcoredemo.catalog.json", "path to the catalog metadata file")
	poolSize := flag.Int("pool-size", defaultPoolSize, "number of buffer pool frames")
	pretty := flag.Bool("pretty", true, "use zerolog's human-readable console writer")
	flag.Parse()

	var logger zerolog.Logger
	if *pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	dm, err := disk.New(*dataFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("open disk manager")
	}
	dm.WithLogger(logger.With().Str("component", "disk").Logger())
	defer dm.Close()

	pool := buffer.New(*poolSize, defaultLRUK, dm)
	pool.WithLogger(logger.With().Str("component", "buffer").Logger())

	cat := catalog.New(*catalogFile)
	cat.WithLogger(logger.With().Str("component", "catalog").Logger())
	if err := cat.Load(); err != nil {
		logger.Fatal().Err(err).Msg("load catalog")
	}

	lm := txn.NewLockManager()
	lm.WithLogger(logger.With().Str("component", "lock_manager").Logger())
	txm := txn.NewManager(lm)

	d := txn.NewDetector(lm, txm, 200*time.Millisecond)
	d.WithLogger(logger.With().Str("component", "deadlock").Logger())
	ctx, cancel := contextWithSignal()
	defer cancel()
	go d.Run(ctx)

	app := &demo{
		dm:    dm,
		pool:  pool,
		cat:   cat,
		lm:    lm,
		txm:   txm,
		trees: make(map[string]*bplustree.Tree),
		out:   bufio.NewWriter(os.Stdout),
	}
	app.reopenIndexes(logger)

	app.repl()

	if err := pool.FlushAllPages(); err != nil {
		logger.Error().Err(err).Msg("flush buffer pool on exit")
	}
	if err := cat.Save(); err != nil {
		logger.Error().Err(err).Msg("save catalog on exit")
	}
}

// reopenIndexes reattaches a bplustree.Tree for every index the catalog
// already knows about, so a restart doesn't orphan existing data.
func (d *demo) reopenIndexes(logger zerolog.Logger) {
	for _, table := range d.cat.Tables() {
		for _, idx := range d.cat.Indexes(table) {
			root, err := d.cat.IndexRoot(table, idx)
			if err != nil {
				logger.Error().Err(err).Str("table", table).Str("index", idx).Msg("reopen index")
				continue
			}
			d.trees[table+"."+idx] = bplustree.Open(d.pool, root, keySize, int64Cmp, 0, 0)
		}
	}
}

func (d *demo) repl() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(d.out, "dbcoredemo: type `help` for commands, `exit` to quit")
	d.out.Flush()
	for {
		fmt.Fprint(d.out, "db> ")
		d.out.Flush()
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") {
			break
		}
		d.dispatch(line)
	}
}

func (d *demo) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	var err error
	switch cmd {
	case "help":
		d.printHelp()
		return
	case "create-table":
		err = d.createTable(args)
	case "create-index":
		err = d.createIndex(args)
	case "put":
		err = d.put(args)
	case "get":
		err = d.get(args)
	case "del":
		err = d.del(args)
	case "stats":
		d.stats()
		return
	default:
		err = fmt.Errorf("unknown command %q (try `help`)", cmd)
	}
	if err != nil {
		fmt.Fprintf(d.out, "error: %v\n", err)
		d.out.Flush()
	}
}

func (d *demo) printHelp() {
	fmt.Fprintln(d.out, `commands:
  create-table <name>
  create-index <table> <index>
  put <table> <index> <int64-key> <page-id> <slot-id>
  get <table> <index> <int64-key>
  del <table> <index> <int64-key>
  stats
  exit`)
	d.out.Flush()
}

func (d *demo) createTable(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: create-table <name>")
	}
	oid, err := d.cat.CreateTable(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "table %q registered with oid %d\n", args[0], oid)
	d.out.Flush()
	return nil
}

func (d *demo) createIndex(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: create-index <table> <index>")
	}
	table, index := args[0], args[1]
	if !d.cat.TableExists(table) {
		return fmt.Errorf("table %q not registered", table)
	}
	tree, err := bplustree.New(d.pool, keySize, int64Cmp, 0, 0)
	if err != nil {
		return err
	}
	if err := d.cat.CreateIndex(table, index, tree.HeaderPageID()); err != nil {
		return err
	}
	d.trees[table+"."+index] = tree
	fmt.Fprintf(d.out, "index %q.%q created\n", table, index)
	d.out.Flush()
	return nil
}

func (d *demo) lookupTree(table, index string) (*bplustree.Tree, error) {
	tree, ok := d.trees[table+"."+index]
	if !ok {
		return nil, fmt.Errorf("no such index %q.%q", table, index)
	}
	return tree, nil
}

func (d *demo) put(args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("usage: put <table> <index> <key> <page-id> <slot-id>")
	}
	tree, err := d.lookupTree(args[0], args[1])
	if err != nil {
		return err
	}
	key, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("bad key: %w", err)
	}
	pid, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("bad page id: %w", err)
	}
	slot, err := strconv.ParseUint(args[4], 10, 32)
	if err != nil {
		return fmt.Errorf("bad slot id: %w", err)
	}
	if err := tree.Insert(int64Key(key), page.RID{PageID: page.ID(pid), SlotID: uint32(slot)}); err != nil {
		return err
	}
	fmt.Fprintln(d.out, "ok")
	d.out.Flush()
	return nil
}

func (d *demo) get(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: get <table> <index> <key>")
	}
	tree, err := d.lookupTree(args[0], args[1])
	if err != nil {
		return err
	}
	key, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("bad key: %w", err)
	}
	rid, err := tree.GetValue(int64Key(key))
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "%s\n", rid.String())
	d.out.Flush()
	return nil
}

func (d *demo) del(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: del <table> <index> <key>")
	}
	tree, err := d.lookupTree(args[0], args[1])
	if err != nil {
		return err
	}
	key, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("bad key: %w", err)
	}
	if err := tree.Delete(int64Key(key)); err != nil {
		return err
	}
	fmt.Fprintln(d.out, "ok")
	d.out.Flush()
	return nil
}

func (d *demo) stats() {
	s := d.pool.Stats()
	fmt.Fprintf(d.out, "buffer pool: hits=%d misses=%d evictions=%d active_txns=%d\n",
		s.Hits, s.Misses, s.Evictions, len(d.txm.ActiveTransactions()))
	d.out.Flush()
}
