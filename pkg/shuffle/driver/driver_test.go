package driver

import (
	"context"
	"iter"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/localstore"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/shuffleconf"
)

func wordsOf(words ...string) iter.Seq2[string, int] {
	return func(yield func(string, int) bool) {
		for _, w := range words {
			if !yield(w, 1) {
				return
			}
		}
	}
}

var (
	sharedStoreOnce sync.Once
	sharedStore     *localstore.LocalStore
	sharedStoreErr  error
)

// newTestStore returns the process-wide LocalStore, shared by every test
// in this package because localstore.Init is exactly-once per process. Its
// directory is not tied to one test's TempDir and it is left open, so
// later tests can still fetch from it.
func newTestStore(t *testing.T) (*localstore.LocalStore, *shuffleconf.Config) {
	t.Helper()
	cfg := shuffleconf.DefaultConfig()
	cfg.MinKnockIntervalMS = 5

	sharedStoreOnce.Do(func() {
		dir, err := os.MkdirTemp("", "shuffle-driver-test-")
		if err != nil {
			sharedStoreErr = err
			return
		}
		initCfg := shuffleconf.DefaultConfig()
		initCfg.LocalDir = dir
		sharedStore, sharedStoreErr = localstore.Init(initCfg)
	})
	if sharedStoreErr != nil {
		t.Fatalf("localstore.Init: %v", sharedStoreErr)
	}
	return sharedStore, cfg
}

func wordCountJob(inputs ...MapInput[string, int]) Job[string, int, int] {
	return Job[string, int, int]{
		Inputs:          inputs,
		NumOutputSplits: 3,
		CreateCombiner:  func(v int) int { return v },
		MergeValue:      func(c, v int) int { return c + v },
		MergeCombiners:  func(a, b int) int { return a + b },
	}
}

func TestDriverRunAggregatesWordCounts(t *testing.T) {
	store, cfg := newTestStore(t)

	job := wordCountJob(
		MapInput[string, int]{MapID: 0, Seq: wordsOf("a", "b", "a")},
		MapInput[string, int]{MapID: 1, Seq: wordsOf("b", "b", "c")},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := Run(ctx, store, cfg, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	totals := make(map[string]int)
	for _, partition := range result.Partitions {
		for k, v := range partition {
			totals[k] += v
		}
	}

	want := map[string]int{"a": 2, "b": 3, "c": 1}
	for k, v := range want {
		if totals[k] != v {
			t.Errorf("totals[%q] = %d, want %d", k, totals[k], v)
		}
	}
	for k := range totals {
		if _, ok := want[k]; !ok {
			t.Errorf("unexpected key %q in totals", k)
		}
	}
}

func TestDriverRunWithEmptyInputPartition(t *testing.T) {
	store, cfg := newTestStore(t)

	job := wordCountJob(
		MapInput[string, int]{MapID: 0, Seq: wordsOf()},
		MapInput[string, int]{MapID: 1, Seq: wordsOf("only")},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := Run(ctx, store, cfg, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	found := false
	for _, partition := range result.Partitions {
		if partition["only"] == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find key %q with count 1 in some partition", "only")
	}
}

func TestDriverRunEachKeyLandsInExactlyOnePartition(t *testing.T) {
	store, cfg := newTestStore(t)

	job := wordCountJob(
		MapInput[string, int]{MapID: 0, Seq: wordsOf("alpha", "beta", "gamma", "delta", "epsilon")},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := Run(ctx, store, cfg, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := make(map[string]int)
	for _, partition := range result.Partitions {
		for k := range partition {
			seen[k]++
		}
	}
	for k, count := range seen {
		if count != 1 {
			t.Errorf("key %q appeared in %d partitions, want exactly 1", k, count)
		}
	}
}
