package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/codec"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/ids"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/shuffleconf"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/workerpool"
)

// newProducer serves dir (which must already contain the block and
// sidecar files for mapID/outPart) over HTTP exactly the way
// localstore's embedded server does, rooted at "/shuffle/".
func newProducer(t *testing.T, dir string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/shuffle/", http.StripPrefix("/shuffle/", http.FileServer(http.Dir(dir))))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// writeProducerOutput writes one map task's output for (mapID, outPart)
// directly (bypassing the writer package) so fetch tests can target
// specific block layouts without depending on writer internals.
func writeProducerOutput(t *testing.T, root string, shuffleID uint64, mapID, outPart int, blocks [][][2]any) {
	t.Helper()
	codec.RegisterTypes[string, int]()
	codec.RegisterTypes[int, int]()

	paths := ids.Paths{Root: root, ShuffleID: shuffleID}
	if _, err := paths.MapDir(mapID); err != nil {
		t.Fatalf("MapDir: %v", err)
	}

	for seq, records := range blocks {
		f, err := os.Create(paths.BlockPath(mapID, outPart, seq))
		if err != nil {
			t.Fatalf("create block %d: %v", seq, err)
		}
		w := codec.NewWriter(f)
		for _, rec := range records {
			if _, err := w.Write(rec[0].(string), rec[1].(int)); err != nil {
				t.Fatalf("write record: %v", err)
			}
		}
		f.Close()
	}

	sidecar, err := os.Create(paths.SidecarPath(mapID, outPart))
	if err != nil {
		t.Fatalf("create sidecar: %v", err)
	}
	defer sidecar.Close()
	if _, err := codec.NewWriter(sidecar).Write(len(blocks), len(blocks)); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
}

func TestFetcherMergesASingleProducer(t *testing.T) {
	root := t.TempDir()
	writeProducerOutput(t, root, 1, 0, 0, [][][2]any{
		{{"a", 3}, {"b", 5}},
	})

	srv := newProducer(t, filepath.Join(root, "shuffle"))

	cfg := shuffleconf.DefaultConfig()
	cfg.MinKnockIntervalMS = 10
	cfg.MaxConnections = 2

	pool := workerpool.New(cfg.MaxConnections)
	defer pool.Close()

	f := New[string, int, int](1, 0,
		[]MapOutputLocation{{MapID: 0, ServerURI: srv.URL}},
		cfg, pool,
		func(a, b int) int { return a + b },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := f.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result["a"] != 3 || result["b"] != 5 {
		t.Fatalf("result = %v, want {a:3 b:5}", result)
	}
}

func TestFetcherMergesTwoBlocksPerProducer(t *testing.T) {
	root := t.TempDir()
	writeProducerOutput(t, root, 1, 0, 0, [][][2]any{
		{{"a", 1}},
		{{"b", 2}},
	})

	srv := newProducer(t, filepath.Join(root, "shuffle"))

	cfg := shuffleconf.DefaultConfig()
	cfg.MinKnockIntervalMS = 10

	pool := workerpool.New(2)
	defer pool.Close()

	f := New[string, int, int](1, 0,
		[]MapOutputLocation{{MapID: 0, ServerURI: srv.URL}},
		cfg, pool,
		func(a, b int) int { return a + b },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := f.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result["a"] != 1 || result["b"] != 2 {
		t.Fatalf("result = %v, want {a:1 b:2}", result)
	}

	// hasBlocksInSplit[p] must equal totalBlocksInSplit[p] at termination,
	// and both must equal the two blocks the producer wrote.
	if got, want := f.HasBlocksInSplit(0), f.TotalBlocksInSplit(0); got != want || want != 2 {
		t.Fatalf("HasBlocksInSplit(0) = %d, TotalBlocksInSplit(0) = %d, want both 2", got, want)
	}
}

func TestFetcherRetriesAFlappingProducer(t *testing.T) {
	root := t.TempDir()
	writeProducerOutput(t, root, 1, 0, 0, [][][2]any{
		{{"a", 9}},
	})
	writeProducerOutput(t, root, 1, 1, 0, [][][2]any{
		{{"b", 4}},
	})
	writeProducerOutput(t, root, 1, 2, 0, [][][2]any{
		{{"c", 2}},
	})

	var failuresLeft int32 = 2
	mux := http.NewServeMux()
	shuffleDir := filepath.Join(root, "shuffle")
	fileServer := http.StripPrefix("/shuffle/", http.FileServer(http.Dir(shuffleDir)))
	mux.HandleFunc("/shuffle/", func(w http.ResponseWriter, r *http.Request) {
		// The flapping producer is map task 1; the other two always succeed.
		if filepath.Base(filepath.Dir(r.URL.Path)) == "1" && atomic.AddInt32(&failuresLeft, -1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := shuffleconf.DefaultConfig()
	cfg.MinKnockIntervalMS = 10
	cfg.MaxConnections = 3

	pool := workerpool.New(cfg.MaxConnections)
	defer pool.Close()

	f := New[string, int, int](1, 0,
		[]MapOutputLocation{
			{MapID: 0, ServerURI: srv.URL},
			{MapID: 1, ServerURI: srv.URL},
			{MapID: 2, ServerURI: srv.URL},
		},
		cfg, pool,
		func(a, b int) int { return a + b },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := f.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result["a"] != 9 || result["b"] != 4 || result["c"] != 2 {
		t.Fatalf("result = %v, want {a:9 b:4 c:2}", result)
	}
}

func TestFetcherWithNoProducersReturnsEmpty(t *testing.T) {
	cfg := shuffleconf.DefaultConfig()
	pool := workerpool.New(1)
	defer pool.Close()

	f := New[string, int, int](1, 0, nil, cfg, pool, func(a, b int) int { return a + b })

	result, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("result = %v, want empty", result)
	}
}
