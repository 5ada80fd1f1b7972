// hashshell is an interactive shell for poking at one hash-table core
// while developing a policy or probing strategy.
//
// Usage:
//
//	hashshell [--core flat|bytell|block|twohash]
//
// Commands (in REPL):
//
//	insert <key> <value>   Insert or report an existing entry
//	find <key>             Look a key up
//	erase <key>            Remove a key
//	bulk <count> [start]   Insert count sequential entries
//	probes <key>           Show the lookup probe count (flat, twohash)
//	stats                  Show size, capacity, load factor
//	policy                 Show the core's bucket-index policy
//	clear                  Remove every entry
//	help                   Show this help
//	exit / quit / q        Exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/benchkit/hashcores/pkg/blockcore"
	"github.com/benchkit/hashcores/pkg/bytellcore"
	"github.com/benchkit/hashcores/pkg/flatcore"
	"github.com/benchkit/hashcores/pkg/twohashcore"
)

// shellTable is the slice of the container contract the shell drives.
type shellTable interface {
	Insert(key, value uint64) (existing uint64, inserted bool, err error)
	Find(key uint64) (uint64, bool)
	Erase(key uint64) int
	Len() int
	BucketCount() int
	LoadFactor() float64
	Clear()
	NumLookups(key uint64) (int, bool)
}

type flatShell struct{ m *flatcore.Map[uint64, uint64] }

func (s flatShell) Insert(k, v uint64) (uint64, bool, error) {
	it, inserted, err := s.m.Insert(k, v)
	if err != nil || inserted {
		return 0, inserted, err
	}

	return it.Value(), false, nil
}

func (s flatShell) Find(k uint64) (uint64, bool) {
	it, ok := s.m.Find(k)
	if !ok {
		return 0, false
	}

	return it.Value(), true
}

func (s flatShell) Erase(k uint64) int              { return s.m.Erase(k) }
func (s flatShell) Len() int                        { return s.m.Len() }
func (s flatShell) BucketCount() int                { return s.m.BucketCount() }
func (s flatShell) LoadFactor() float64             { return s.m.LoadFactor() }
func (s flatShell) Clear()                          { s.m.Clear() }
func (s flatShell) NumLookups(k uint64) (int, bool) { return s.m.NumLookups(k), true }

type bytellShell struct{ m *bytellcore.Map[uint64, uint64] }

func (s bytellShell) Insert(k, v uint64) (uint64, bool, error) {
	it, inserted, err := s.m.Insert(k, v)
	if err != nil || inserted {
		return 0, inserted, err
	}

	return it.Value(), false, nil
}

func (s bytellShell) Find(k uint64) (uint64, bool) {
	it, ok := s.m.Find(k)
	if !ok {
		return 0, false
	}

	return it.Value(), true
}

func (s bytellShell) Erase(k uint64) int            { return s.m.Erase(k) }
func (s bytellShell) Len() int                      { return s.m.Len() }
func (s bytellShell) BucketCount() int              { return s.m.BucketCount() }
func (s bytellShell) LoadFactor() float64           { return s.m.LoadFactor() }
func (s bytellShell) Clear()                        { s.m.Clear() }
func (s bytellShell) NumLookups(uint64) (int, bool) { return 0, false }

type blockShell struct{ m *blockcore.Map[uint64, uint64] }

func (s blockShell) Insert(k, v uint64) (uint64, bool, error) {
	it, inserted, err := s.m.Insert(k, v)
	if err != nil || inserted {
		return 0, inserted, err
	}

	return it.Value(), false, nil
}

func (s blockShell) Find(k uint64) (uint64, bool) {
	it, ok := s.m.Find(k)
	if !ok {
		return 0, false
	}

	return it.Value(), true
}

func (s blockShell) Erase(k uint64) int            { return s.m.Erase(k) }
func (s blockShell) Len() int                      { return s.m.Len() }
func (s blockShell) BucketCount() int              { return s.m.BucketCount() }
func (s blockShell) LoadFactor() float64           { return s.m.LoadFactor() }
func (s blockShell) Clear()                        { s.m.Clear() }
func (s blockShell) NumLookups(uint64) (int, bool) { return 0, false }

type twoHashShell struct{ m *twohashcore.Map[uint64, uint64] }

func (s twoHashShell) Insert(k, v uint64) (uint64, bool, error) {
	it, inserted, err := s.m.Insert(k, v)
	if err != nil || inserted {
		return 0, inserted, err
	}

	return it.Value(), false, nil
}

func (s twoHashShell) Find(k uint64) (uint64, bool) {
	it, ok := s.m.Find(k)
	if !ok {
		return 0, false
	}

	return it.Value(), true
}

func (s twoHashShell) Erase(k uint64) int              { return s.m.Erase(k) }
func (s twoHashShell) Len() int                        { return s.m.Len() }
func (s twoHashShell) BucketCount() int                { return s.m.BucketCount() }
func (s twoHashShell) LoadFactor() float64             { return s.m.LoadFactor() }
func (s twoHashShell) Clear()                          { s.m.Clear() }
func (s twoHashShell) NumLookups(k uint64) (int, bool) { return s.m.NumLookups(k), true }

func newShellTable(core string) (shellTable, error) {
	switch core {
	case "flat":
		return flatShell{m: flatcore.New[uint64, uint64](nil, nil, nil)}, nil
	case "bytell":
		return bytellShell{m: bytellcore.New[uint64, uint64](nil, nil, nil)}, nil
	case "block":
		return blockShell{m: blockcore.New[uint64, uint64](nil, nil, nil)}, nil
	case "twohash":
		return twoHashShell{m: twohashcore.New[uint64, uint64](nil, nil)}, nil
	default:
		return nil, fmt.Errorf("unknown core %q (want flat, bytell, block, or twohash)", core)
	}
}

var commands = []string{"insert", "find", "erase", "bulk", "probes", "stats", "policy", "clear", "help", "exit", "quit"}

func main() {
	var core string

	flag.StringVar(&core, "core", "flat", "core to drive: flat, bytell, block, twohash")
	flag.Parse()

	table, err := newShellTable(core)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hashshell:", err)
		os.Exit(1)
	}

	policyDesc := map[string]string{
		"flat":    "power-of-two mask (hash & (buckets-1))",
		"bytell":  "power-of-two mask (hash & (buckets-1))",
		"block":   "power-of-two mask over 16-lane blocks, tag = hash bits 27..31",
		"twohash": "twin Fibonacci multipliers over the same raw hash",
	}[core]

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string

		for _, c := range commands {
			if strings.HasPrefix(c, prefix) {
				out = append(out, c)
			}
		}

		return out
	})

	historyPath := filepath.Join(os.TempDir(), ".hashshell_history")
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("hashshell: %s core. Type 'help' for commands.\n", core)

	for {
		input, err := line.Prompt(core + "> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}

			fmt.Fprintln(os.Stderr, "hashshell:", err)

			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if done := dispatch(table, policyDesc, input); done {
			break
		}
	}

	if f, err := os.Create(historyPath); err == nil {
		_, _ = line.WriteHistory(f)
		f.Close()
	}
}

func dispatch(table shellTable, policyDesc, input string) (done bool) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help":
		printHelp()
	case "insert":
		if len(args) != 2 {
			fmt.Println("usage: insert <key> <value>")

			return false
		}

		k, errK := strconv.ParseUint(args[0], 10, 64)
		v, errV := strconv.ParseUint(args[1], 10, 64)

		if errK != nil || errV != nil {
			fmt.Println("insert: keys and values are unsigned integers")

			return false
		}

		existing, inserted, err := table.Insert(k, v)

		switch {
		case err != nil:
			fmt.Println("insert failed:", err)
		case inserted:
			fmt.Printf("inserted %d -> %d\n", k, v)
		default:
			fmt.Printf("already present: %d -> %d\n", k, existing)
		}
	case "find":
		k, ok := parseKey(args)
		if !ok {
			fmt.Println("usage: find <key>")

			return false
		}

		if v, found := table.Find(k); found {
			fmt.Printf("%d -> %d\n", k, v)
		} else {
			fmt.Println("absent")
		}
	case "erase":
		k, ok := parseKey(args)
		if !ok {
			fmt.Println("usage: erase <key>")

			return false
		}

		fmt.Printf("removed %d\n", table.Erase(k))
	case "probes":
		k, ok := parseKey(args)
		if !ok {
			fmt.Println("usage: probes <key>")

			return false
		}

		if n, supported := table.NumLookups(k); supported {
			fmt.Printf("%d slots visited\n", n)
		} else {
			fmt.Println("this core does not instrument lookups")
		}
	case "bulk":
		if len(args) < 1 {
			fmt.Println("usage: bulk <count> [start]")

			return false
		}

		count, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			fmt.Println("bulk: count is an unsigned integer")

			return false
		}

		start := uint64(0)
		if len(args) > 1 {
			start, _ = strconv.ParseUint(args[1], 10, 64)
		}

		for i := uint64(0); i < count; i++ {
			if _, _, err := table.Insert(start+i, (start+i)*3); err != nil {
				fmt.Println("bulk insert failed:", err)

				return false
			}
		}

		fmt.Printf("inserted %d entries from %d\n", count, start)
	case "stats":
		fmt.Printf("size %d, buckets %d, load %.4f\n", table.Len(), table.BucketCount(), table.LoadFactor())
	case "policy":
		fmt.Println(policyDesc)
	case "clear":
		table.Clear()
		fmt.Println("cleared")
	default:
		fmt.Printf("unknown command %q; try 'help'\n", cmd)
	}

	return false
}

func parseKey(args []string) (uint64, bool) {
	if len(args) != 1 {
		return 0, false
	}

	k, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, false
	}

	return k, true
}

func printHelp() {
	fmt.Println(`commands:
  insert <key> <value>   insert or report an existing entry
  find <key>             look a key up
  erase <key>            remove a key
  bulk <count> [start]   insert count sequential entries
  probes <key>           show the lookup probe count (flat, twohash)
  stats                  show size, capacity, load factor
  policy                 show the core's bucket-index policy
  clear                  remove every entry
  exit                   leave`)
}
