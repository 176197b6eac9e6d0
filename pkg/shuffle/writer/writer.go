// Package writer implements the map-side shuffle writer: hash-partition
// one input partition's (K, V) pairs into numOutputSplits in-memory
// combiner buckets, then stream each bucket to a size-bounded sequence of
// block files plus a block-count sidecar.
package writer

import (
	"fmt"
	"hash/fnv"
	"iter"
	"os"

	"github.com/shuffle-engine/shuffle-core/pkg/logging"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/codec"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/ids"
)

var log = logging.NewComponent("writer")

// Result is what the driver collects from one map task: its index and the
// producer URI a reducer will fetch from.
type Result struct {
	MapID     int
	ServerURI string
}

// Partition maps a key to an output split in [0, numOutputSplits). The
// double-mod in DefaultPartition is required because the underlying hash
// may be negative.
type Partition[K comparable] func(key K, numOutputSplits int) int

// DefaultPartition hashes a key with FNV-1a folded to a signed int32 (so
// it can be negative) and routes it with the double-mod rule:
//
//	bucket = ((hash(k) mod n) + n) mod n
func DefaultPartition[K comparable](key K, numOutputSplits int) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%v", key)
	signed := int32(h.Sum32())
	n := int32(numOutputSplits)
	bucket := ((signed % n) + n) % n
	return int(bucket)
}

// Write runs one map task: it drains in over all (K, V) pairs, combines
// them per output split in memory, then flushes each split's bucket to
// block files under paths. blockSizeBytes is the post-write size
// threshold a block is checked against; a block may overshoot it by
// exactly one record, by design.
//
// Any I/O failure during flush is fatal for the map task: no sidecar is
// written for a partition whose blocks did not all flush cleanly, so a
// fetcher can never observe a partial block set (invariant 5).
func Write[K comparable, V, C any](
	mapID int,
	in iter.Seq2[K, V],
	paths ids.Paths,
	numOutputSplits int,
	createCombiner func(V) C,
	mergeValue func(C, V) C,
	partition Partition[K],
	blockSizeBytes int64,
) (Result, error) {
	codec.RegisterTypes[K, C]()

	if partition == nil {
		partition = DefaultPartition[K]
	}

	if _, err := paths.MapDir(mapID); err != nil {
		return Result{}, fmt.Errorf("writer: map %d: %w", mapID, err)
	}

	buckets := make([]map[K]C, numOutputSplits)
	for i := range buckets {
		buckets[i] = make(map[K]C)
	}

	for k, v := range in {
		b := partition(k, numOutputSplits)
		if c, ok := buckets[b][k]; ok {
			buckets[b][k] = mergeValue(c, v)
		} else {
			buckets[b][k] = createCombiner(v)
		}
	}

	for outPart, bucket := range buckets {
		if err := flushBucket(mapID, outPart, bucket, paths, blockSizeBytes); err != nil {
			return Result{}, fmt.Errorf("writer: map %d partition %d: %w", mapID, outPart, err)
		}
	}

	log.Info(fmt.Sprintf("map %d flushed %d output partitions", mapID, numOutputSplits))
	return Result{MapID: mapID, ServerURI: paths.ServerURI}, nil
}

// flushBucket writes one output partition's combiner map to an ordered
// sequence of block files, opening a new file whenever the previous one
// just crossed blockSizeBytes, and writes the BLOCKNUM sidecar last so its
// presence always means every block before it is fully written.
func flushBucket[K comparable, C any](mapID, outPart int, bucket map[K]C, paths ids.Paths, blockSizeBytes int64) error {
	blockSeq := 0
	var file *os.File
	var w *codec.Writer
	wroteAny := false

	closeCurrent := func() error {
		if file == nil {
			return nil
		}
		err := file.Close()
		file = nil
		w = nil
		return err
	}

	openNext := func() error {
		path := paths.BlockPath(mapID, outPart, blockSeq)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open block %d: %w", blockSeq, err)
		}
		file = f
		w = codec.NewWriter(f)
		wroteAny = false
		return nil
	}

	if len(bucket) > 0 {
		if err := openNext(); err != nil {
			return err
		}

		for k, c := range bucket {
			if _, err := w.Write(k, c); err != nil {
				closeCurrent()
				return fmt.Errorf("write record to block %d: %w", blockSeq, err)
			}
			wroteAny = true

			if err := file.Sync(); err != nil {
				closeCurrent()
				return fmt.Errorf("flush block %d: %w", blockSeq, err)
			}

			info, err := file.Stat()
			if err != nil {
				closeCurrent()
				return fmt.Errorf("stat block %d: %w", blockSeq, err)
			}

			if info.Size() >= blockSizeBytes {
				if err := closeCurrent(); err != nil {
					return fmt.Errorf("close block %d: %w", blockSeq, err)
				}
				blockSeq++
				if err := openNext(); err != nil {
					return err
				}
			}
		}

		if wroteAny {
			if err := closeCurrent(); err != nil {
				return fmt.Errorf("close final block %d: %w", blockSeq, err)
			}
			blockSeq++
		} else {
			// openNext created a file we never wrote to (can only
			// happen if the bucket's only entries all landed in a
			// block that just closed and no entries remain); drop it.
			closeCurrent()
			os.Remove(paths.BlockPath(mapID, outPart, blockSeq))
		}
	}

	sidecar, err := os.Create(paths.SidecarPath(mapID, outPart))
	if err != nil {
		return fmt.Errorf("create sidecar: %w", err)
	}
	defer sidecar.Close()

	if _, err := codec.NewWriter(sidecar).Write(blockSeq, blockSeq); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}

	return nil
}
