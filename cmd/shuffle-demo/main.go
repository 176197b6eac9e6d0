// Command shuffle-demo runs an in-process word-count shuffle: it splits a
// block of text into several map inputs, shuffles the per-word counts
// through the full writer/fetcher pipeline, and prints the combined
// counts per output partition.
package main

import (
	"context"
	"flag"
	"fmt"
	"iter"
	"os"
	"sort"
	"strings"

	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/driver"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/localstore"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/shuffleconf"
)

const sampleText = `the quick brown fox jumps over the lazy dog
the dog barks at the fox
the fox runs away from the dog
a quick fox is a clever fox`

func main() {
	var (
		numOutputSplits = flag.Int("splits", 3, "number of reduce output partitions")
		maxConnections  = flag.Int("max-connections", 4, "bounded worker pool size")
		localDir        = flag.String("local-dir", "", "local shuffle directory (defaults to a temp dir)")
	)
	flag.Parse()

	if err := run(*numOutputSplits, *maxConnections, *localDir); err != nil {
		fmt.Fprintf(os.Stderr, "shuffle-demo: %v\n", err)
		os.Exit(1)
	}
}

func run(numOutputSplits, maxConnections int, localDir string) error {
	cfg := shuffleconf.DefaultConfig()
	cfg.MaxConnections = maxConnections
	if localDir != "" {
		cfg.LocalDir = localDir
	} else {
		dir, err := os.MkdirTemp("", "shuffle-demo-")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		cfg.LocalDir = dir
	}

	store, err := localstore.Init(cfg)
	if err != nil {
		return fmt.Errorf("init local store: %w", err)
	}
	defer store.Close()

	lines := strings.Split(strings.TrimSpace(sampleText), "\n")

	inputs := make([]driver.MapInput[string, int], len(lines))
	for i, line := range lines {
		inputs[i] = driver.MapInput[string, int]{
			MapID: i,
			Seq:   wordCounts(line),
		}
	}

	job := driver.Job[string, int, int]{
		Inputs:          inputs,
		NumOutputSplits: numOutputSplits,
		CreateCombiner:  func(v int) int { return v },
		MergeValue:      func(c, v int) int { return c + v },
		MergeCombiners:  func(a, b int) int { return a + b },
	}

	result, err := driver.Run(context.Background(), store, cfg, job)
	if err != nil {
		return fmt.Errorf("run shuffle: %w", err)
	}

	printResults(result)
	return nil
}

// wordCounts yields (word, 1) pairs for every word in line so the map
// stage's combiner can fold them into per-word totals before the shuffle.
func wordCounts(line string) iter.Seq2[string, int] {
	return func(yield func(string, int) bool) {
		for _, word := range strings.Fields(line) {
			if !yield(word, 1) {
				return
			}
		}
	}
}

func printResults(result driver.Result[string, int]) {
	for part, counts := range result.Partitions {
		fmt.Printf("partition %d:\n", part)

		words := make([]string, 0, len(counts))
		for w := range counts {
			words = append(words, w)
		}
		sort.Strings(words)

		for _, w := range words {
			fmt.Printf("  %-10s %d\n", w, counts[w])
		}
	}
}
