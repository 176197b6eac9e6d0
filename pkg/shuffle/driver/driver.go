// Package driver runs a full shuffle: it fans the map stage out over
// input partitions, then fans the reduce stage out over output splits,
// joining both stages with golang.org/x/sync/errgroup so the first
// failing task's error is the one returned. Only the reduce stage is
// cancelled by that error; map tasks take no context and run to the end.
package driver

import (
	"context"
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/shuffle-engine/shuffle-core/pkg/logging"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/fetch"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/ids"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/localstore"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/shuffleconf"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/workerpool"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/writer"
)

var log = logging.NewComponent("driver")

// MapInput is one map task's input partition: a sequence of (K, V) pairs
// plus an index identifying it among its siblings.
type MapInput[K comparable, V any] struct {
	MapID int
	Seq   iter.Seq2[K, V]
}

// Job describes one shuffle end to end: its input partitions, the
// combiner triple, the partitioner, and how many output splits to
// produce.
type Job[K comparable, V, C any] struct {
	Inputs          []MapInput[K, V]
	NumOutputSplits int
	CreateCombiner  func(V) C
	MergeValue      func(C, V) C
	MergeCombiners  func(C, C) C
	Partition       writer.Partition[K]
}

// Result is the fully shuffled output, one combined map[K]C per output
// split index.
type Result[K comparable, C any] struct {
	Partitions []map[K]C
}

// Run executes job against store, which must already be initialized via
// localstore.Init. The map stage runs with one goroutine per input
// partition; once every map task has published its output, the reduce
// stage runs with one goroutine per output split. Both stages use
// errgroup and return the first failing task's error; in the reduce
// stage that error also cancels the other fetchers' context.
func Run[K comparable, V, C any](ctx context.Context, store *localstore.LocalStore, cfg *shuffleconf.Config, job Job[K, V, C]) (Result[K, C], error) {
	shuffleID := ids.NewShuffleID()
	paths := store.Paths(shuffleID)

	log.Info(fmt.Sprintf("shuffle %d: starting, %d map inputs -> %d output splits", shuffleID, len(job.Inputs), job.NumOutputSplits))

	locations, err := runMapStage(ctx, paths, job, cfg.BlockSizeBytes())
	if err != nil {
		return Result[K, C]{}, fmt.Errorf("driver: map stage: %w", err)
	}

	partitions, err := runReduceStage(ctx, shuffleID, cfg, job, locations)
	if err != nil {
		return Result[K, C]{}, fmt.Errorf("driver: reduce stage: %w", err)
	}

	log.Info(fmt.Sprintf("shuffle %d: complete", shuffleID))
	return Result[K, C]{Partitions: partitions}, nil
}

func runMapStage[K comparable, V, C any](ctx context.Context, paths ids.Paths, job Job[K, V, C], blockSizeBytes int64) ([]fetch.MapOutputLocation, error) {
	g, _ := errgroup.WithContext(ctx)
	locations := make([]fetch.MapOutputLocation, len(job.Inputs))

	for i, in := range job.Inputs {
		i, in := i, in
		g.Go(func() error {
			res, err := writer.Write(in.MapID, in.Seq, paths, job.NumOutputSplits,
				job.CreateCombiner, job.MergeValue, job.Partition, blockSizeBytes)
			if err != nil {
				return err
			}
			locations[i] = fetch.MapOutputLocation{MapID: res.MapID, ServerURI: res.ServerURI}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return locations, nil
}

func runReduceStage[K comparable, V, C any](
	ctx context.Context,
	shuffleID uint64,
	cfg *shuffleconf.Config,
	job Job[K, V, C],
	locations []fetch.MapOutputLocation,
) ([]map[K]C, error) {
	g, gctx := errgroup.WithContext(ctx)
	partitions := make([]map[K]C, job.NumOutputSplits)

	for outPart := 0; outPart < job.NumOutputSplits; outPart++ {
		outPart := outPart
		g.Go(func() error {
			// Each reduce task gets its own fresh bounded pool, so
			// MaxConnections bounds that one task's concurrent fetches
			// rather than being divided up across every reduce task
			// running in this process.
			pool := workerpool.New(cfg.MaxConnections)
			defer pool.Close()

			f := fetch.New[K, V, C](shuffleID, outPart, locations, cfg, pool, job.MergeCombiners)
			merged, err := f.Run(gctx)
			if err != nil {
				return err
			}
			partitions[outPart] = merged
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return partitions, nil
}
