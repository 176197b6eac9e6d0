// Package fetch implements the reduce side of the shuffle: an admission
// loop that decides which producer to contact next and bounds how many
// fetches run at once, and a per-producer client task that does the
// actual block reads and combiner merging.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shuffle-engine/shuffle-core/pkg/logging"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/bitvec"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/ids"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/shuffleconf"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/workerpool"
)

var log = logging.NewComponent("fetch")

// MapOutputLocation is what the driver tells a reducer about one map
// task's output: where to find the map's server and which mapID to ask
// for.
type MapOutputLocation struct {
	MapID     int
	ServerURI string
}

// Fetcher runs the admission loop for one reduce task (one outPart) of
// one shuffle. It owns the two bitsets that track producer state and the
// combined result.
type Fetcher[K comparable, V, C any] struct {
	shuffleID uint64
	outPart   int
	producers []MapOutputLocation
	cfg       *shuffleconf.Config

	hasSplits       *bitvec.BitVector // bit i set once producer i is fully merged
	splitsInRequest *bitvec.BitVector // bit i set while producer i has an in-flight fetch
	pool            *workerpool.Pool

	// totalBlocksInSplit[p] and hasBlocksInSplit[p] are the per-producer
	// block counters. Entry p is only ever written by the task currently
	// holding producer p's in-flight bit (splitsInRequest), which, because
	// Set/Clear are themselves mutex-guarded and every access is ordered
	// through an acquire of that same mutex, serves as that producer's
	// own mutex; no separate lock protects these slices.
	totalBlocksInSplit []int
	hasBlocksInSplit   []int

	mergeCombiners func(C, C) C

	mu     sync.Mutex
	result map[K]C
}

// New constructs a Fetcher for one (shuffleID, outPart) reduce task. The
// caller owns pool's lifecycle; New does not close it. mergeCombiners
// folds a fetched combiner into the running result whenever its key is
// already present there, which happens whenever several blocks or
// producers carry the same key.
func New[K comparable, V, C any](
	shuffleID uint64,
	outPart int,
	producers []MapOutputLocation,
	cfg *shuffleconf.Config,
	pool *workerpool.Pool,
	mergeCombiners func(C, C) C,
) *Fetcher[K, V, C] {
	n := uint(len(producers))

	totalBlocks := make([]int, len(producers))
	for i := range totalBlocks {
		totalBlocks[i] = -1 // unknown until the sidecar is fetched
	}

	return &Fetcher[K, V, C]{
		shuffleID:          shuffleID,
		outPart:            outPart,
		producers:          producers,
		cfg:                cfg,
		hasSplits:          bitvec.New(n),
		splitsInRequest:    bitvec.New(n),
		pool:               pool,
		totalBlocksInSplit: totalBlocks,
		hasBlocksInSplit:   make([]int, len(producers)),
		mergeCombiners:     mergeCombiners,
		result:             make(map[K]C),
	}
}

// Run executes the admission loop until every producer has been merged
// or ctx is cancelled, then returns the combined map for this reduce
// task's output partition.
func (f *Fetcher[K, V, C]) Run(ctx context.Context) (map[K]C, error) {
	n := uint(len(f.producers))
	if n == 0 {
		return f.result, nil
	}

	interval := time.Duration(f.cfg.MinKnockIntervalMS) * time.Millisecond

	for {
		if f.hasSplits.AllOnes(n) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Step 1-2: how many more fetches may this cycle admit.
		slots := f.cfg.MaxConnections - f.pool.ActiveCount()
		for slots > 0 {
			split := bitvec.SelectRandomClearIn(f.hasSplits, f.splitsInRequest, n)
			if split < 0 {
				break
			}

			f.splitsInRequest.Set(uint(split))
			loc := f.producers[split]
			splitIdx := split

			f.pool.Submit(func() {
				f.runClientTask(ctx, splitIdx, loc)
			})

			slots--
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	log.Info(fmt.Sprintf("shuffle %d partition %d: merged %d producers", f.shuffleID, f.outPart, len(f.producers)))
	return f.result, nil
}

// runClientTask is one admission's worth of work against one producer:
// it advances hasBlocksInSplit by at most one block. It always releases
// the in-flight bit on the way out regardless of outcome, and sets this
// producer's hasSplits bit only once every one of its blocks has been
// merged.
func (f *Fetcher[K, V, C]) runClientTask(ctx context.Context, split int, loc MapOutputLocation) {
	defer f.splitsInRequest.Clear(uint(split))

	paths := producerPaths(loc, f.shuffleID)

	if f.totalBlocksInSplit[split] == -1 {
		total, err := fetchSidecar(ctx, paths, loc.MapID, f.outPart)
		if err != nil {
			f.logFailure(split, "sidecar fetch", err)
			return
		}
		f.totalBlocksInSplit[split] = total
	}

	total := f.totalBlocksInSplit[split]
	b := f.hasBlocksInSplit[split]
	if b >= total {
		// Nothing left to fetch (in practice: the sidecar recorded zero
		// blocks for this partition); just make sure the done bit is set.
		f.hasSplits.Set(uint(split))
		return
	}

	merged, err := fetchOneBlock[K, C](ctx, paths, loc.MapID, f.outPart, b)
	if err != nil {
		f.logFailure(split, fmt.Sprintf("block %d fetch", b), err)
		return
	}

	f.mu.Lock()
	for k, c := range merged {
		if existing, ok := f.result[k]; ok {
			f.result[k] = f.mergeCombiners(existing, c)
		} else {
			f.result[k] = c
		}
	}
	f.mu.Unlock()

	f.hasBlocksInSplit[split]++
	if f.hasBlocksInSplit[split] == total {
		f.hasSplits.Set(uint(split))
	}
}

// HasBlocksInSplit reports how many blocks have been consumed from
// producer split so far. Exposed for tests asserting the per-producer
// progression invariant; not used by the admission loop itself, which
// only consults the bitsets.
func (f *Fetcher[K, V, C]) HasBlocksInSplit(split int) int {
	return f.hasBlocksInSplit[split]
}

// TotalBlocksInSplit reports producer split's known block count, or -1 if
// its sidecar has not yet been fetched.
func (f *Fetcher[K, V, C]) TotalBlocksInSplit(split int) int {
	return f.totalBlocksInSplit[split]
}

func (f *Fetcher[K, V, C]) logFailure(split int, stage string, err error) {
	if isRetryable(err) {
		log.Warn(fmt.Sprintf("shuffle %d partition %d: producer %d %s failed, will retry: %v",
			f.shuffleID, f.outPart, split, stage, err))
	} else {
		log.Error(fmt.Sprintf("shuffle %d partition %d: producer %d %s failed with a non-retryable error, will still retry per admission policy: %v",
			f.shuffleID, f.outPart, split, stage, err))
	}
}

// producerPaths builds the ids.Paths a client task needs to address one
// producer's block files, without needing a LocalStore of its own: a
// fetcher only ever reads from remote producers.
func producerPaths(loc MapOutputLocation, shuffleID uint64) ids.Paths {
	return ids.Paths{ServerURI: loc.ServerURI, ShuffleID: shuffleID}
}
