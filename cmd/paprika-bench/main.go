// paprika-bench is a REPL and one-shot benchmark harness for pkg/paprikadb,
// in the shape of the teacher's sloty/tk-bench CLIs: a liner-driven
// interactive loop for poking at a store by hand, plus pflag-parsed flags
// for a non-interactive bulk-insert run.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/paprikadb/paprika/internal/engineconfig"
	"github.com/paprikadb/paprika/internal/paprikalog"
	"github.com/paprikadb/paprika/pkg/fs"
	"github.com/paprikadb/paprika/pkg/paprikadb"
	"github.com/paprikadb/paprika/pkg/precommit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dbPath       string
		configPath   string
		historyDepth uint16
		numPages     uint32
		jsonLog      bool
		logLevel     string
		bulkOneShot  int
	)

	pflag.StringVar(&dbPath, "db", "", "backing file (empty: anonymous, non-durable)")
	pflag.StringVar(&configPath, "config", "", "explicit engine config file (default: .paprika.json in the working directory, if present)")
	pflag.Uint16Var(&historyDepth, "history-depth", 0, "rotating metadata slot count (>= 2); overrides the loaded config")
	pflag.Uint32Var(&numPages, "num-pages", 0, "total 4 KiB pages in the region; overrides the loaded config")
	pflag.BoolVar(&jsonLog, "json-log", false, "emit structured JSON logs instead of console output")
	pflag.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	pflag.IntVar(&bulkOneShot, "bulk", 0, "run a one-shot bulk insert of N random accounts, commit, finalize, and exit")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: paprika-bench [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	paprikalog.Init(paprikalog.Config{Level: paprikalog.Level(logLevel), JSONOutput: jsonLog})

	fsys := fs.NewReal()

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cliOverrides := engineconfig.Config{HistoryDepth: historyDepth, NumPages: numPages}
	if dbPath != "" {
		cliOverrides.PagestorePath = dbPath
	}

	cfg, sources, err := engineconfig.Load(fsys, workDir, configPath, cliOverrides, os.Environ())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if sources.Project != "" {
		paprikalog.WithComponent("cmd").Info().Str("path", sources.Project).Msg("loaded project config")
	}

	db, err := paprikadb.Open(paprikadb.Options{
		Path:         cfg.PagestorePath,
		HistoryDepth: cfg.HistoryDepth,
		NumPages:     cfg.NumPages,
		Hook:         precommit.IdentityHook{},
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	if bulkOneShot > 0 {
		return runBulkOneShot(db, bulkOneShot)
	}

	repl := &REPL{db: db, blockNumber: 1, fsys: fsys, cfg: cfg}

	return repl.Run()
}

// runBulkOneShot writes n random accounts into a single block on top of
// GenesisHash, commits, finalizes, and waits for the flusher to drain
// before returning — the non-interactive counterpart to the REPL's "bulk"
// command, reporting throughput the way the teacher's bench tools do.
func runBulkOneShot(db *paprikadb.DB, n int) error {
	ws, err := db.StartNew(paprikadb.GenesisHash)
	if err != nil {
		return fmt.Errorf("starting block: %w", err)
	}

	start := time.Now()

	for range n {
		account := randomHash()

		var balance [32]byte
		binary.BigEndian.PutUint64(balance[24:], rand.Uint64()) //nolint:gosec // benchmark data, not cryptographic

		if err := ws.SetAccount(account, balance, [32]byte{}); err != nil {
			ws.Close()

			return fmt.Errorf("set account %d: %w", n, err)
		}
	}

	hash, err := ws.Commit(1)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	putElapsed := time.Since(start)

	if err := db.Finalize(hash); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	flushed, ok := <-db.Flushed()
	if !ok {
		return errors.New("flusher channel closed before flush observed")
	}

	fmt.Printf("inserted %d accounts in %v (%.0f ops/sec); flushed through block %d\n",
		n, putElapsed.Round(time.Millisecond), float64(n)/putElapsed.Seconds(), flushed)

	return nil
}

// REPL is the interactive command loop, one writable WorldState open at a
// time plus a running block-number counter, mirroring sloty's single-Cache,
// single-Writer shape.
type REPL struct {
	db          *paprikadb.DB
	ws          *paprikadb.WorldState
	parentHash  [32]byte
	blockNumber uint32
	liner       *liner.State
	fsys        fs.FS
	cfg         engineconfig.Config
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".paprika_bench_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("paprika-bench - interactive store REPL")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("paprika> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "put":
			r.cmdPut(args)

		case "get":
			r.cmdGet(args)

		case "destroy":
			r.cmdDestroy(args)

		case "commit":
			r.cmdCommit(args)

		case "finalize":
			r.cmdFinalize(args)

		case "bulk":
			r.cmdBulk(args)

		case "bench":
			r.cmdBench(args)

		case "status":
			r.cmdStatus()

		case "snapshot":
			r.cmdSnapshot(args)

		case "save-config":
			r.cmdSaveConfig(args)

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"put", "get", "destroy", "commit", "finalize",
		"bulk", "bench", "status", "snapshot", "save-config",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			completions = append(completions, c)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put account <hash> <balance> [nonce]   Set an account's balance/nonce (decimal)")
	fmt.Println("  put storage <account> <key> <value>    Set a storage cell (hex hashes)")
	fmt.Println("  get account <hash>                     Read an account")
	fmt.Println("  get storage <account> <key>             Read a storage cell")
	fmt.Println("  destroy <account>                      Destroy an account within the open block")
	fmt.Println("  commit [blockNumber]                   Commit the open block, start the next one")
	fmt.Println("  finalize <hash>                        Finalize the chain up to hash")
	fmt.Println("  bulk <count>                            Insert N random accounts into the open block")
	fmt.Println("  bench <count>                           Benchmark put+commit+get for N accounts")
	fmt.Println("  status                                  Show open-block and store status")
	fmt.Println("  snapshot <path>                         Dump a config+status diagnostic to path")
	fmt.Println("  save-config <path>                      Atomically persist the loaded engine config as JSONC")
	fmt.Println("  help                                     Show this help")
	fmt.Println("  exit / quit / q                          Exit")
	fmt.Println()
	fmt.Println("Hashes: hex (e.g. 'deadbeef') or plain text, zero-padded/truncated to 32 bytes.")
}

func (r *REPL) ensureOpen() (*paprikadb.WorldState, error) {
	if r.ws != nil {
		return r.ws, nil
	}

	ws, err := r.db.StartNew(r.parentHash)
	if err != nil {
		return nil, err
	}

	r.ws = ws

	return ws, nil
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: put account <hash> <balance> [nonce]  |  put storage <account> <key> <value>")

		return
	}

	ws, err := r.ensureOpen()
	if err != nil {
		fmt.Printf("Error opening block: %v\n", err)

		return
	}

	switch strings.ToLower(args[0]) {
	case "account":
		if len(args) < 3 {
			fmt.Println("Usage: put account <hash> <balance> [nonce]")

			return
		}

		account := parseHash(args[1])
		balance, ok := parseUint256(args[2])

		if !ok {
			fmt.Printf("Error: invalid balance %q\n", args[2])

			return
		}

		var nonce [32]byte

		if len(args) >= 4 {
			nonce, ok = parseUint256(args[3])
			if !ok {
				fmt.Printf("Error: invalid nonce %q\n", args[3])

				return
			}
		}

		if err := ws.SetAccount(account, balance, nonce); err != nil {
			fmt.Printf("Error: %v\n", err)

			return
		}

		fmt.Printf("OK: set account %s\n", hex.EncodeToString(account[:8]))

	case "storage":
		if len(args) < 4 {
			fmt.Println("Usage: put storage <account> <key> <value>")

			return
		}

		account := parseHash(args[1])
		key := parseHash(args[2])
		value := parseHash(args[3])

		if err := ws.SetStorage(account, key, value); err != nil {
			fmt.Printf("Error: %v\n", err)

			return
		}

		fmt.Printf("OK: set storage %s/%s\n", hex.EncodeToString(account[:8]), hex.EncodeToString(key[:8]))

	default:
		fmt.Println("Usage: put account <hash> <balance> [nonce]  |  put storage <account> <key> <value>")
	}
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: get account <hash>  |  get storage <account> <key>")

		return
	}

	ws, err := r.ensureOpen()
	if err != nil {
		fmt.Printf("Error opening block: %v\n", err)

		return
	}

	switch strings.ToLower(args[0]) {
	case "account":
		account := parseHash(args[1])

		balance, nonce, found, err := ws.GetAccount(account)
		if err != nil {
			fmt.Printf("Error: %v\n", err)

			return
		}

		if !found {
			fmt.Println("(not found)")

			return
		}

		fmt.Printf("balance=%s nonce=%s\n", formatUint256(balance), formatUint256(nonce))

	case "storage":
		if len(args) < 3 {
			fmt.Println("Usage: get storage <account> <key>")

			return
		}

		account := parseHash(args[1])
		key := parseHash(args[2])

		value, found, err := ws.GetStorage(account, key)
		if err != nil {
			fmt.Printf("Error: %v\n", err)

			return
		}

		if !found {
			fmt.Println("(not found)")

			return
		}

		fmt.Printf("%s\n", hex.EncodeToString(value[:]))

	default:
		fmt.Println("Usage: get account <hash>  |  get storage <account> <key>")
	}
}

func (r *REPL) cmdDestroy(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: destroy <account>")

		return
	}

	ws, err := r.ensureOpen()
	if err != nil {
		fmt.Printf("Error opening block: %v\n", err)

		return
	}

	account := parseHash(args[0])

	if err := ws.DestroyAccount(account); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: destroyed %s\n", hex.EncodeToString(account[:8]))
}

func (r *REPL) cmdCommit(args []string) {
	if r.ws == nil {
		fmt.Println("(no open block; 'put' or 'bulk' something first)")

		return
	}

	blockNumber := r.blockNumber

	if len(args) >= 1 {
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			fmt.Printf("Error parsing block number: %v\n", err)

			return
		}

		blockNumber = uint32(n)
	}

	hash, err := r.ws.Commit(blockNumber)
	if err != nil {
		fmt.Printf("Error committing: %v\n", err)

		return
	}

	fmt.Printf("OK: committed block %d -> %s\n", blockNumber, hex.EncodeToString(hash[:8]))

	r.parentHash = hash
	r.blockNumber = blockNumber + 1
	r.ws = nil
}

func (r *REPL) cmdFinalize(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: finalize <hash>")

		return
	}

	hash := parseHash(args[0])

	if err := r.db.Finalize(hash); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: queued %s for finalization\n", hex.EncodeToString(hash[:8]))

	select {
	case flushed, ok := <-r.db.Flushed():
		if ok {
			fmt.Printf("flusher drained through block %d\n", flushed)
		}
	case <-time.After(2 * time.Second):
		fmt.Println("(flusher still draining; check back with 'status')")
	}
}

func (r *REPL) cmdBulk(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: bulk <count>")

		return
	}

	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		fmt.Println("Error: count must be a positive integer")

		return
	}

	ws, err := r.ensureOpen()
	if err != nil {
		fmt.Printf("Error opening block: %v\n", err)

		return
	}

	start := time.Now()

	for i := range count {
		account := randomHash()

		var balance [32]byte
		binary.BigEndian.PutUint64(balance[24:], rand.Uint64()) //nolint:gosec // benchmark data, not cryptographic

		if err := ws.SetAccount(account, balance, [32]byte{}); err != nil {
			fmt.Printf("Error at entry %d: %v\n", i+1, err)

			return
		}
	}

	elapsed := time.Since(start)
	rate := float64(count) / elapsed.Seconds()
	fmt.Printf("OK: staged %d accounts in %v (%.0f ops/sec); 'commit' to seal the block\n", count, elapsed.Round(time.Millisecond), rate)
}

func (r *REPL) cmdBench(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: bench <count>")

		return
	}

	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		fmt.Println("Error: count must be a positive integer")

		return
	}

	accounts := make([][32]byte, count)
	for i := range accounts {
		accounts[i] = randomHash()
	}

	ws, err := r.db.StartNew(r.parentHash)
	if err != nil {
		fmt.Printf("Error opening block: %v\n", err)

		return
	}

	fmt.Printf("Benchmarking %d accounts...\n", count)

	putStart := time.Now()

	for i, account := range accounts {
		var balance [32]byte
		binary.BigEndian.PutUint64(balance[24:], uint64(i))

		if err := ws.SetAccount(account, balance, [32]byte{}); err != nil {
			fmt.Printf("Error at put %d: %v\n", i+1, err)

			return
		}
	}

	putElapsed := time.Since(putStart)

	hash, err := ws.Commit(r.blockNumber)
	if err != nil {
		fmt.Printf("Error committing: %v\n", err)

		return
	}

	commitElapsed := time.Since(putStart) - putElapsed
	r.parentHash = hash
	r.blockNumber++

	readWs, err := r.db.StartNew(hash)
	if err != nil {
		fmt.Printf("Error opening read block: %v\n", err)

		return
	}

	getStart := time.Now()

	hits := 0

	for _, account := range accounts {
		_, _, found, err := readWs.GetAccount(account)
		if err != nil {
			fmt.Printf("Error on get: %v\n", err)
			readWs.Close()

			return
		}

		if found {
			hits++
		}
	}

	getElapsed := time.Since(getStart)
	readWs.Close()

	fmt.Printf("\nResults:\n")
	fmt.Printf("  Puts:    %d ops in %v (%.0f ops/sec)\n", count, putElapsed.Round(time.Millisecond), float64(count)/putElapsed.Seconds())
	fmt.Printf("  Commit:  %v\n", commitElapsed.Round(time.Millisecond))
	fmt.Printf("  Gets:    %d ops in %v (%.0f ops/sec), %d hits\n", count, getElapsed.Round(time.Millisecond), float64(count)/getElapsed.Seconds(), hits)
}

func (r *REPL) cmdStatus() {
	fmt.Printf("History depth:  %d\n", r.db.HistoryDepth())
	fmt.Printf("Parent hash:    %s\n", hex.EncodeToString(r.parentHash[:8]))
	fmt.Printf("Next block:     %d\n", r.blockNumber)

	if r.ws != nil {
		fmt.Println("Open block:     yes (uncommitted writes pending)")
	} else {
		fmt.Println("Open block:     no")
	}
}

// cmdSnapshot writes a small diagnostic text file (current status plus the
// engine config loaded at startup) atomically, so a half-written snapshot can never
// be observed by a concurrent reader — the one place this CLI exercises
// github.com/natefinch/atomic, the same package the teacher's root command
// set uses for its own config/cache snapshot dumps.
func (r *REPL) cmdSnapshot(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: snapshot <path>")

		return
	}

	cfgText, err := engineconfig.FormatConfig(r.cfg)
	if err != nil {
		fmt.Printf("Error formatting config: %v\n", err)

		return
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "paprika-bench snapshot %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "history_depth=%d\n", r.db.HistoryDepth())
	fmt.Fprintf(&sb, "parent_hash=%s\n", hex.EncodeToString(r.parentHash[:]))
	fmt.Fprintf(&sb, "next_block=%d\n", r.blockNumber)
	fmt.Fprintf(&sb, "loaded_config=%s\n", cfgText)

	if err := atomic.WriteFile(args[0], strings.NewReader(sb.String())); err != nil {
		fmt.Printf("Error writing snapshot: %v\n", err)

		return
	}

	fmt.Printf("OK: wrote %s\n", args[0])
}

// cmdSaveConfig persists the engine config this session loaded at startup
// to path, through pkg/fs.AtomicWriter (internal/engineconfig.Save), so a
// crash mid-write never corrupts the file the next run's Load would read.
func (r *REPL) cmdSaveConfig(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: save-config <path>")

		return
	}

	if err := engineconfig.Save(r.fsys, args[0], r.cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)

		return
	}

	fmt.Printf("OK: wrote %s\n", args[0])
}

// parseHash parses a 32-byte hash from user input: hex first, falling back
// to raw text, zero-padded or truncated.
func parseHash(s string) [32]byte {
	raw, err := hex.DecodeString(s)
	if err != nil {
		raw = []byte(s)
	}

	var h [32]byte

	copy(h[:], raw)

	return h
}

// parseUint256 parses a decimal or 0x-prefixed hex string into a 32-byte
// big-endian value.
func parseUint256(s string) ([32]byte, bool) {
	var v [32]byte

	if after, ok := strings.CutPrefix(s, "0x"); ok {
		raw, err := hex.DecodeString(after)
		if err != nil || len(raw) > 32 {
			return v, false
		}

		copy(v[32-len(raw):], raw)

		return v, true
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return v, false
	}

	binary.BigEndian.PutUint64(v[24:], n)

	return v, true
}

// formatUint256 renders a big-endian 32-byte value as a decimal string when
// it fits in 64 bits (the common case for bench data), hex otherwise.
func formatUint256(v [32]byte) string {
	for i := range 24 {
		if v[i] != 0 {
			return "0x" + hex.EncodeToString(v[:])
		}
	}

	return strconv.FormatUint(binary.BigEndian.Uint64(v[24:]), 10)
}

func randomHash() [32]byte {
	var h [32]byte
	_, _ = rand.Read(h[:]) //nolint:gosec // benchmark data, not cryptographic

	return h
}
