// Package localstore implements the one-time, per-process local shuffle
// directory and its read-only fetch endpoint. A LocalStore owns the
// directory every ids.Paths value is rooted at, and publishes the server
// URI the driver hands out as a map task's producer URI.
package localstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shuffle-engine/shuffle-core/pkg/logging"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/ids"
	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/shuffleconf"
)

var log = logging.NewComponent("localstore")

// maxDirRetries is the number of fresh-UUID attempts before directory
// creation is considered unrecoverable.
const maxDirRetries = 10

// LocalStore is the per-process shuffle directory plus its fetch
// endpoint. Exactly one LocalStore should exist per process; Init
// enforces this with sync.Once.
type LocalStore struct {
	root      string // <configured LocalDir>/shuffle-store-<uuid>
	serverURI string
	server    *http.Server
	listener  net.Listener
	watcher   *debugWatcher

	mu     sync.Mutex
	closed bool
}

var (
	initOnce  sync.Once
	initStore *LocalStore
	initErr   error
)

// Init performs exactly-once, per-process initialization. Subsequent
// calls return the same LocalStore (or the same error) without doing any
// work.
func Init(cfg *shuffleconf.Config) (*LocalStore, error) {
	initOnce.Do(func() {
		initStore, initErr = newLocalStore(cfg)
	})
	return initStore, initErr
}

func newLocalStore(cfg *shuffleconf.Config) (*LocalStore, error) {
	root, err := createUniqueDir(cfg.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("localstore: %w", err)
	}

	shuffleDir := filepath.Join(root, "shuffle")
	if err := os.MkdirAll(shuffleDir, 0o755); err != nil {
		return nil, fmt.Errorf("localstore: mount /shuffle: %w", err)
	}

	ls := &LocalStore{root: root}

	if cfg.UsesExternalServer() {
		ls.serverURI = strings.TrimRight(cfg.ExternalServerPath, "/")
		log.Info(fmt.Sprintf("using external server at %s for %s", ls.serverURI, shuffleDir))
	} else {
		listener, err := net.Listen("tcp", ":0")
		if err != nil {
			return nil, fmt.Errorf("localstore: bind fetch endpoint: %w", err)
		}

		router := mux.NewRouter()
		router.PathPrefix("/shuffle/").Handler(
			http.StripPrefix("/shuffle/", http.FileServer(http.Dir(shuffleDir))),
		)

		srv := &http.Server{Handler: router}
		ls.server = srv
		ls.listener = listener
		ls.serverURI = fmt.Sprintf("http://%s", listener.Addr().String())

		go func() {
			if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
				log.Error(fmt.Sprintf("fetch endpoint stopped: %v", err))
			}
		}()

		log.Info(fmt.Sprintf("embedded fetch endpoint listening at %s", ls.serverURI))
	}

	if cfg.WatchForDebug {
		w, err := newDebugWatcher(shuffleDir)
		if err != nil {
			log.Warn(fmt.Sprintf("debug watcher disabled: %v", err))
		} else {
			ls.watcher = w
		}
	}

	return ls, nil
}

// createUniqueDir creates a uniquely named directory under root, retrying
// with a fresh UUID suffix on collision up to maxDirRetries times.
func createUniqueDir(root string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxDirRetries; attempt++ {
		candidate := filepath.Join(root, "shuffle-store-"+uuid.New().String())
		if err := os.Mkdir(candidate, 0o755); err != nil {
			if os.IsExist(err) {
				lastErr = err
				continue
			}
			if os.IsNotExist(err) {
				if mkErr := os.MkdirAll(root, 0o755); mkErr != nil {
					return "", fmt.Errorf("create local dir root %s: %w", root, mkErr)
				}
				continue
			}
			return "", fmt.Errorf("create local dir %s: %w", candidate, err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("exhausted %d attempts creating a unique local dir under %s: %w", maxDirRetries, root, lastErr)
}

// resetForTest clears the package-level sync.Once so tests can exercise
// Init's retry and binding logic more than once per process. Not exported;
// production callers get the real exactly-once guarantee.
func resetForTest() {
	initOnce = sync.Once{}
	initStore = nil
	initErr = nil
}

// ServerURI is the fetch endpoint's base URI, published to the driver as
// a map task's producerUri.
func (ls *LocalStore) ServerURI() string {
	return ls.serverURI
}

// Paths returns an ids.Paths rooted at this store for shuffleID.
func (ls *LocalStore) Paths(shuffleID uint64) ids.Paths {
	return ids.Paths{Root: ls.root, ServerURI: ls.serverURI, ShuffleID: shuffleID}
}

// Close stops the embedded server and the debug watcher, if any. It does
// not remove on-disk files; those live for the process lifetime and are
// reclaimed externally.
func (ls *LocalStore) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return nil
	}
	ls.closed = true

	if ls.watcher != nil {
		ls.watcher.Close()
	}

	if ls.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ls.server.Shutdown(ctx)
	}
	return nil
}
