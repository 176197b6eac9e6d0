// Package shuffleconf holds the configuration keys the shuffle core reads
// at first initialization, loaded as plain JSON over a set of defaults
// rather than through a generic config-loading framework.
package shuffleconf

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds all configuration the shuffle core consumes. The
// directory, server and watcher keys are read once, at the first call to
// localstore.Init; the block-size, knock-interval and connection keys are
// read from the Config passed to each driver.Run.
type Config struct {
	// BlockSizeKB is the block-size threshold in kilobytes; the writer
	// compares against BlockSizeKB*1024 bytes after writing each record.
	BlockSizeKB int `json:"blockSize"`

	// MinKnockIntervalMS is the fetcher admission loop's sleep, in
	// milliseconds, between admission cycles.
	MinKnockIntervalMS int `json:"minKnockInterval"`

	// MaxKnockIntervalMS is loaded like the other keys but is not read by
	// the admission loop, which only ever sleeps MinKnockIntervalMS.
	MaxKnockIntervalMS int `json:"maxKnockInterval"`

	// MaxConnections bounds per-reducer fetch concurrency.
	MaxConnections int `json:"maxConnections"`

	// LocalDir is the root under which the per-process shuffle directory
	// is created.
	LocalDir string `json:"localDir"`

	// ExternalServerPort, if >= 0, means an externally managed static
	// file server already serves LocalDir and the embedded server must
	// not bind a port.
	ExternalServerPort int `json:"externalServerPort"`

	// ExternalServerPath is used, with trailing slashes trimmed, as the
	// whole base URI of the external server when ExternalServerPort is
	// set. ExternalServerPort only selects external mode; neither the
	// port nor a host name is added to the URI.
	ExternalServerPath string `json:"externalServerPath"`

	// WatchForDebug enables the optional fsnotify-backed directory
	// watcher that logs block/sidecar creation at debug level.
	WatchForDebug bool `json:"watchForDebug"`
}

// DefaultConfig returns the shuffle core's baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		BlockSizeKB:        1024,
		MinKnockIntervalMS: 1000,
		MaxKnockIntervalMS: 5000,
		MaxConnections:     4,
		LocalDir:           "/tmp",
		ExternalServerPort: -1,
		ExternalServerPath: "",
		WatchForDebug:      false,
	}
}

// BlockSizeBytes returns the configured block threshold in bytes.
func (c *Config) BlockSizeBytes() int64 {
	return int64(c.BlockSizeKB) * 1024
}

// UsesExternalServer reports whether an externally managed static server
// should be used instead of the embedded one.
func (c *Config) UsesExternalServer() bool {
	return c.ExternalServerPort >= 0
}

// LoadFromFile decodes a JSON config file over the defaults, so a file
// that only overrides a handful of keys is still valid.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shuffleconf: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("shuffleconf: parse %s: %w", path, err)
	}
	return cfg, nil
}
