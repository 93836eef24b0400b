// Command kvengine-seed populates fresh kvengine data directories under
// os.TempDir()/kvengine-bench/<count> with a synthetic key range, for use
// by hand when exercising kvctl against a known dataset. kvengine-bench
// does not read these directories.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/pkg/fs"
)

func main() {
	counts := []int{1_000, 100_000}
	baseDir := filepath.Join(os.TempDir(), "kvengine-bench")

	for _, count := range counts {
		dir := filepath.Join(baseDir, strconv.Itoa(count))
		start := time.Now()

		if err := seed(dir, count); err != nil {
			fmt.Fprintf(os.Stderr, "error seeding %d: %v\n", count, err)
			os.Exit(1)
		}

		fmt.Printf("put %d keys in %s -> %s\n", count, time.Since(start), dir)
	}
}

func seed(dir string, count int) error {
	_ = os.RemoveAll(dir)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	eng, err := engine.Open(fs.NewReal(), engine.Config{DataDir: dir})
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer eng.Close()

	numWorkers := runtime.NumCPU()
	keys := make(chan int, numWorkers*2)

	var wg sync.WaitGroup
	errCh := make(chan error, numWorkers)

	for range numWorkers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range keys {
				key := []byte(fmt.Sprintf("key-%08d", i))
				value := []byte(fmt.Sprintf("value-%08d-%s", i, strconv.Itoa(i*i)))

				if err := eng.Put(key, value); err != nil {
					select {
					case errCh <- err:
					default:
					}

					return
				}
			}
		}()
	}

	for i := range count {
		keys <- i
	}

	close(keys)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
