// Package ids allocates shuffle identifiers and resolves the on-disk and
// fetch-protocol addresses for a shuffle's blocks and sidecars.
package ids

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// counter is the process-wide monotonically increasing shuffle ID source.
// Shuffle IDs are never reused within a process lifetime.
var counter uint64

// NewShuffleID allocates a fresh, unique shuffle ID. Safe for concurrent use.
func NewShuffleID() uint64 {
	return atomic.AddUint64(&counter, 1)
}

// Paths resolves on-disk paths and fetch URLs for one shuffle's blocks. The
// layout is part of the wire contract shared between writer and fetcher:
//
//	<root>/shuffle/<shuffleID>/<mapID>/<outPart>-<blockSeq>
//	<root>/shuffle/<shuffleID>/<mapID>/BLOCKNUM-<outPart>
type Paths struct {
	// Root is the local directory a LocalStore mounted at "/shuffle", or
	// the empty string when only URL forms are needed.
	Root string
	// ServerURI is the base URI a fetcher uses to reach this shuffle's
	// producer, e.g. "http://10.0.0.4:43210".
	ServerURI string
	ShuffleID uint64
}

// MapDir returns the directory holding one map task's output for this
// shuffle, creating it if necessary.
func (p Paths) MapDir(mapID int) (string, error) {
	dir := filepath.Join(p.Root, "shuffle", fmt.Sprint(p.ShuffleID), fmt.Sprint(mapID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ids: create map directory: %w", err)
	}
	return dir, nil
}

// BlockPath returns the on-disk path of one block file.
func (p Paths) BlockPath(mapID, outPart, blockSeq int) string {
	return filepath.Join(p.Root, "shuffle", fmt.Sprint(p.ShuffleID), fmt.Sprint(mapID),
		fmt.Sprintf("%d-%d", outPart, blockSeq))
}

// SidecarPath returns the on-disk path of the block-count sidecar for one
// (mapID, outPart) pair.
func (p Paths) SidecarPath(mapID, outPart int) string {
	return filepath.Join(p.Root, "shuffle", fmt.Sprint(p.ShuffleID), fmt.Sprint(mapID),
		fmt.Sprintf("BLOCKNUM-%d", outPart))
}

// BlockURL returns the fetch-protocol URL of one block file.
func (p Paths) BlockURL(mapID, outPart, blockSeq int) string {
	return p.join("shuffle", fmt.Sprint(p.ShuffleID), fmt.Sprint(mapID),
		fmt.Sprintf("%d-%d", outPart, blockSeq))
}

// SidecarURL returns the fetch-protocol URL of the block-count sidecar.
func (p Paths) SidecarURL(mapID, outPart int) string {
	return p.join("shuffle", fmt.Sprint(p.ShuffleID), fmt.Sprint(mapID),
		fmt.Sprintf("BLOCKNUM-%d", outPart))
}

func (p Paths) join(segments ...string) string {
	base := strings.TrimRight(p.ServerURI, "/")
	return base + "/" + strings.Join(segments, "/")
}
