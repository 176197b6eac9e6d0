package fetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/codec"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/ids"
)

// fetchSidecar reads the BLOCKNUM-<outPart> file, which is itself encoded
// with the block codec as a single (int, int) record, and returns the
// block count it records.
func fetchSidecar(ctx context.Context, paths ids.Paths, mapID, outPart int) (int, error) {
	url := paths.SidecarURL(mapID, outPart)

	body, err := httpGet(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	codec.RegisterTypes[int, int]()
	key, _, ok, err := codec.NewReader(body).Next()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("sidecar %s: empty stream", url)
	}

	count, ok := key.(int)
	if !ok {
		return 0, fmt.Errorf("sidecar %s: unexpected record shape", url)
	}
	return count, nil
}

// fetchOneBlock reads exactly one block file's records into a fresh map.
// This is the unit of work one client task performs per admission: the
// per-producer state machine advances hasBlocksInSplit[p] by one block
// per successful task, so a partial failure mid-stream only costs the
// current block, not everything fetched from this producer so far.
func fetchOneBlock[K comparable, C any](
	ctx context.Context,
	paths ids.Paths,
	mapID, outPart, blockSeq int,
) (map[K]C, error) {
	url := paths.BlockURL(mapID, outPart, blockSeq)

	body, err := httpGet(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	out := make(map[K]C)
	r := codec.NewReader(body)
	for {
		rawKey, rawVal, ok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", url, err)
		}
		if !ok {
			return out, nil
		}

		key, ok := rawKey.(K)
		if !ok {
			return nil, fmt.Errorf("block %s: key type mismatch", url)
		}
		combiner, ok := rawVal.(C)
		if !ok {
			return nil, fmt.Errorf("block %s: combiner type mismatch", url)
		}

		// A single map task's writer never emits the same key twice
		// within one block (each key occupies exactly one bucket entry
		// before flush), so a bare overwrite is safe here; merging
		// across blocks and producers happens in the caller, which
		// holds the real mergeCombiners.
		out[key] = combiner
	}
}

func httpGet(ctx context.Context, url string) (httpBody, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %s", url, resp.Status)
	}

	return resp.Body, nil
}

// httpBody is the subset of io.ReadCloser httpGet returns, named so the
// call sites read clearly without importing io just for the type.
type httpBody = interface {
	Read(p []byte) (n int, err error)
	Close() error
}
