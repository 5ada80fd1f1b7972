// hashbench drives the four hash-table cores over a configurable key
// distribution and reports per-core timing plus lookup-probe
// percentiles for the cores that expose instrumentation.
//
// Usage:
//
//	hashbench [flags]
//
//	-c, --cores        Comma-separated cores to run (flat, bytell, block, twohash; default all)
//	-n, --keys         Number of keys per run (default 100000)
//	-d, --distribution Key distribution: uniform, sequential, clustered (default uniform)
//	-s, --seed         RNG seed (default 5)
//	    --config       Path to a JSONC config file (default .hashbench.jsonc if present)
//	    --json         Emit results as JSON instead of a table
package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/benchkit/hashcores/pkg/blockcore"
	"github.com/benchkit/hashcores/pkg/bytellcore"
	"github.com/benchkit/hashcores/pkg/flatcore"
	"github.com/benchkit/hashcores/pkg/twohashcore"
)

// Config holds benchmark configuration; flags override file values.
type Config struct {
	Cores        []string `json:"cores"`
	Keys         int      `json:"keys"`
	Distribution string   `json:"distribution"`
	Seed         uint64   `json:"seed"`
}

func defaultConfig() Config {
	return Config{
		Cores:        []string{"flat", "bytell", "block", "twohash"},
		Keys:         100000,
		Distribution: "uniform",
		Seed:         5,
	}
}

// loadConfig reads a JSONC config file, tolerating comments and
// trailing commas.
func loadConfig(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("invalid config in %s: %w", path, err)
	}

	return cfg, true, nil
}

func mergeConfig(base, overlay Config) Config {
	if len(overlay.Cores) > 0 {
		base.Cores = overlay.Cores
	}

	if overlay.Keys > 0 {
		base.Keys = overlay.Keys
	}

	if overlay.Distribution != "" {
		base.Distribution = overlay.Distribution
	}

	if overlay.Seed != 0 {
		base.Seed = overlay.Seed
	}

	return base
}

// benchTable is the slice of the container contract the benchmark
// needs; every core's Map satisfies it through a small adapter.
type benchTable interface {
	Insert(key, value uint64) error
	Find(key uint64) (uint64, bool)
	Erase(key uint64) int
	Len() int
	LoadFactor() float64

	// NumLookups returns probe counts for cores that instrument
	// lookups, or false when unsupported.
	NumLookups(key uint64) (int, bool)
}

type flatAdapter struct{ m *flatcore.Map[uint64, uint64] }

func (a flatAdapter) Insert(k, v uint64) error { _, _, err := a.m.Insert(k, v); return err }

func (a flatAdapter) Find(k uint64) (uint64, bool) {
	it, ok := a.m.Find(k)
	if !ok {
		return 0, false
	}

	return it.Value(), true
}

func (a flatAdapter) Erase(k uint64) int               { return a.m.Erase(k) }
func (a flatAdapter) Len() int                         { return a.m.Len() }
func (a flatAdapter) LoadFactor() float64              { return a.m.LoadFactor() }
func (a flatAdapter) NumLookups(k uint64) (int, bool) { return a.m.NumLookups(k), true }

type bytellAdapter struct{ m *bytellcore.Map[uint64, uint64] }

func (a bytellAdapter) Insert(k, v uint64) error { _, _, err := a.m.Insert(k, v); return err }

func (a bytellAdapter) Find(k uint64) (uint64, bool) {
	it, ok := a.m.Find(k)
	if !ok {
		return 0, false
	}

	return it.Value(), true
}

func (a bytellAdapter) Erase(k uint64) int              { return a.m.Erase(k) }
func (a bytellAdapter) Len() int                        { return a.m.Len() }
func (a bytellAdapter) LoadFactor() float64             { return a.m.LoadFactor() }
func (a bytellAdapter) NumLookups(uint64) (int, bool) { return 0, false }

type blockAdapter struct{ m *blockcore.Map[uint64, uint64] }

func (a blockAdapter) Insert(k, v uint64) error { _, _, err := a.m.Insert(k, v); return err }

func (a blockAdapter) Find(k uint64) (uint64, bool) {
	it, ok := a.m.Find(k)
	if !ok {
		return 0, false
	}

	return it.Value(), true
}

func (a blockAdapter) Erase(k uint64) int             { return a.m.Erase(k) }
func (a blockAdapter) Len() int                       { return a.m.Len() }
func (a blockAdapter) LoadFactor() float64            { return a.m.LoadFactor() }
func (a blockAdapter) NumLookups(uint64) (int, bool) { return 0, false }

type twoHashAdapter struct{ m *twohashcore.Map[uint64, uint64] }

func (a twoHashAdapter) Insert(k, v uint64) error { _, _, err := a.m.Insert(k, v); return err }

func (a twoHashAdapter) Find(k uint64) (uint64, bool) {
	it, ok := a.m.Find(k)
	if !ok {
		return 0, false
	}

	return it.Value(), true
}

func (a twoHashAdapter) Erase(k uint64) int              { return a.m.Erase(k) }
func (a twoHashAdapter) Len() int                        { return a.m.Len() }
func (a twoHashAdapter) LoadFactor() float64             { return a.m.LoadFactor() }
func (a twoHashAdapter) NumLookups(k uint64) (int, bool) { return a.m.NumLookups(k), true }

func newTable(core string) (benchTable, error) {
	switch core {
	case "flat":
		return flatAdapter{m: flatcore.New[uint64, uint64](nil, nil, nil)}, nil
	case "bytell":
		return bytellAdapter{m: bytellcore.New[uint64, uint64](nil, nil, nil)}, nil
	case "block":
		return blockAdapter{m: blockcore.New[uint64, uint64](nil, nil, nil)}, nil
	case "twohash":
		return twoHashAdapter{m: twohashcore.New[uint64, uint64](nil, nil)}, nil
	default:
		return nil, fmt.Errorf("unknown core %q (want flat, bytell, block, or twohash)", core)
	}
}

func generateKeys(cfg Config) []uint64 {
	rng := rand.New(rand.NewPCG(cfg.Seed, 0))
	keys := make([]uint64, 0, cfg.Keys)
	seen := make(map[uint64]bool, cfg.Keys)

	for len(keys) < cfg.Keys {
		var k uint64

		switch cfg.Distribution {
		case "sequential":
			k = uint64(len(keys)) * 16
		case "clustered":
			// Bursts of adjacent keys separated by large gaps, the
			// shape pointer-derived keys tend to have.
			k = rng.Uint64N(uint64(cfg.Keys)/64+1)<<16 | uint64(len(keys)%64)
		default:
			k = rng.Uint64()
		}

		if seen[k] {
			continue
		}

		seen[k] = true
		keys = append(keys, k)
	}

	return keys
}

// Result is one core's benchmark summary.
type Result struct {
	Core         string  `json:"core"`
	Keys         int     `json:"keys"`
	InsertNsOp   float64 `json:"insert_ns_op"`
	FindNsOp     float64 `json:"find_ns_op"`
	MissNsOp     float64 `json:"miss_ns_op"`
	EraseNsOp    float64 `json:"erase_ns_op"`
	LoadFactor   float64 `json:"load_factor"`
	LookupP50    int     `json:"lookup_p50,omitempty"`
	LookupP99    int     `json:"lookup_p99,omitempty"`
	LookupWorst  int     `json:"lookup_worst,omitempty"`
	Instrumented bool    `json:"instrumented"`
}

func runCore(core string, keys []uint64) (Result, error) {
	t, err := newTable(core)
	if err != nil {
		return Result{}, err
	}

	res := Result{Core: core, Keys: len(keys)}

	start := time.Now()

	for _, k := range keys {
		if err := t.Insert(k, k*3); err != nil {
			return Result{}, fmt.Errorf("%s: insert %d: %w", core, k, err)
		}
	}

	res.InsertNsOp = float64(time.Since(start).Nanoseconds()) / float64(len(keys))

	start = time.Now()

	for _, k := range keys {
		v, ok := t.Find(k)
		if !ok || v != k*3 {
			return Result{}, fmt.Errorf("%s: key %d lost (found=%v value=%d)", core, k, ok, v)
		}
	}

	res.FindNsOp = float64(time.Since(start).Nanoseconds()) / float64(len(keys))

	start = time.Now()

	for _, k := range keys {
		_, _ = t.Find(k ^ 0x5555555555555555)
	}

	res.MissNsOp = float64(time.Since(start).Nanoseconds()) / float64(len(keys))
	res.LoadFactor = t.LoadFactor()

	if probes := collectProbes(t, keys); probes != nil {
		res.Instrumented = true
		res.LookupP50 = probes[len(probes)/2]
		res.LookupP99 = probes[len(probes)*99/100]
		res.LookupWorst = probes[len(probes)-1]
	}

	start = time.Now()

	for _, k := range keys {
		if t.Erase(k) != 1 {
			return Result{}, fmt.Errorf("%s: erase %d removed nothing", core, k)
		}
	}

	res.EraseNsOp = float64(time.Since(start).Nanoseconds()) / float64(len(keys))

	if t.Len() != 0 {
		return Result{}, fmt.Errorf("%s: %d elements left after full erase", core, t.Len())
	}

	return res, nil
}

func collectProbes(t benchTable, keys []uint64) []int {
	probes := make([]int, 0, len(keys))

	for _, k := range keys {
		n, ok := t.NumLookups(k)
		if !ok {
			return nil
		}

		probes = append(probes, n)
	}

	sort.Ints(probes)

	return probes
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hashbench:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		coresFlag  string
		keysFlag   int
		distFlag   string
		seedFlag   uint64
		configFlag string
		jsonFlag   bool
	)

	flag.StringVarP(&coresFlag, "cores", "c", "", "comma-separated cores to run")
	flag.IntVarP(&keysFlag, "keys", "n", 0, "number of keys per run")
	flag.StringVarP(&distFlag, "distribution", "d", "", "key distribution: uniform, sequential, clustered")
	flag.Uint64VarP(&seedFlag, "seed", "s", 0, "rng seed")
	flag.StringVar(&configFlag, "config", "", "path to JSONC config file")
	flag.BoolVar(&jsonFlag, "json", false, "emit results as JSON")
	flag.Parse()

	cfg := defaultConfig()

	configPath := configFlag
	mustExist := configFlag != ""

	if configPath == "" {
		configPath = ".hashbench.jsonc"
	}

	fileCfg, loaded, err := loadConfig(configPath, mustExist)
	if err != nil {
		return err
	}

	if loaded {
		cfg = mergeConfig(cfg, fileCfg)
	}

	overlay := Config{Keys: keysFlag, Distribution: distFlag, Seed: seedFlag}
	if coresFlag != "" {
		overlay.Cores = strings.Split(coresFlag, ",")
	}

	cfg = mergeConfig(cfg, overlay)

	keys := generateKeys(cfg)
	results := make([]Result, 0, len(cfg.Cores))

	for _, core := range cfg.Cores {
		res, err := runCore(strings.TrimSpace(core), keys)
		if err != nil {
			return err
		}

		results = append(results, res)
	}

	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(results)
	}

	fmt.Printf("%d %s keys, seed %d\n\n", cfg.Keys, cfg.Distribution, cfg.Seed)
	fmt.Printf("%-8s %10s %10s %10s %10s %6s %5s %5s %6s\n",
		"core", "insert/op", "find/op", "miss/op", "erase/op", "load", "p50", "p99", "worst")

	for _, r := range results {
		probes := "-"
		p99 := "-"
		worst := "-"

		if r.Instrumented {
			probes = fmt.Sprintf("%d", r.LookupP50)
			p99 = fmt.Sprintf("%d", r.LookupP99)
			worst = fmt.Sprintf("%d", r.LookupWorst)
		}

		fmt.Printf("%-8s %9.0fns %9.0fns %9.0fns %9.0fns %6.2f %5s %5s %6s\n",
			r.Core, r.InsertNsOp, r.FindNsOp, r.MissNsOp, r.EraseNsOp, r.LoadFactor, probes, p99, worst)
	}

	return nil
}
