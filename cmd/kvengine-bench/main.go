// Command kvengine-bench runs in-process Put/Get/Delete throughput
// benchmarks against the engine directly (no network hop), at a handful
// of key counts, and prints a small report — the engine-domain
// equivalent of the teacher's external-process tk-bench, adapted since
// there is no separate server process whose startup cost is worth
// isolating here.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/pkg/fs"
)

type result struct {
	label string
	n     int
	d     time.Duration
}

func (r result) opsPerSec() float64 {
	return float64(r.n) / r.d.Seconds()
}

func main() {
	counts := []int{1_000, 50_000}

	var results []result

	for _, n := range counts {
		dir := filepath.Join(os.TempDir(), "kvengine-bench-run", fmt.Sprintf("%d", n))
		_ = os.RemoveAll(dir)

		if err := os.MkdirAll(dir, 0o750); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		eng, err := engine.Open(fs.NewReal(), engine.Config{DataDir: dir})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening engine: %v\n", err)
			os.Exit(1)
		}

		results = append(results, benchPut(eng, n))
		results = append(results, benchGet(eng, n))
		results = append(results, benchDelete(eng, n))

		_ = eng.Close()
	}

	fmt.Printf("%-24s %10s %14s %16s\n", "benchmark", "n", "elapsed", "ops/sec")

	for _, r := range results {
		fmt.Printf("%-24s %10d %14s %16.0f\n", r.label, r.n, r.d, r.opsPerSec())
	}
}

func keyFor(i int) []byte { return []byte(fmt.Sprintf("key-%08d", i)) }

func benchPut(eng *engine.Engine, n int) result {
	start := time.Now()

	for i := 0; i < n; i++ {
		if err := eng.Put(keyFor(i), []byte("value")); err != nil {
			fmt.Fprintf(os.Stderr, "put error: %v\n", err)
			os.Exit(1)
		}
	}

	return result{label: fmt.Sprintf("put(n=%d)", n), n: n, d: time.Since(start)}
}

func benchGet(eng *engine.Engine, n int) result {
	start := time.Now()

	for i := 0; i < n; i++ {
		if _, _, err := eng.Get(keyFor(i)); err != nil {
			fmt.Fprintf(os.Stderr, "get error: %v\n", err)
			os.Exit(1)
		}
	}

	return result{label: fmt.Sprintf("get(n=%d)", n), n: n, d: time.Since(start)}
}

func benchDelete(eng *engine.Engine, n int) result {
	start := time.Now()

	for i := 0; i < n; i++ {
		if err := eng.Delete(keyFor(i)); err != nil {
			fmt.Fprintf(os.Stderr, "delete error: %v\n", err)
			os.Exit(1)
		}
	}

	return result{label: fmt.Sprintf("delete(n=%d)", n), n: n, d: time.Since(start)}
}
