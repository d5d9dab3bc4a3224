// Package stagecache skips pipeline stages whose inputs and configuration
// have not changed since their outputs were written. Entries are JSON
// manifests keyed by a digest over the stage name, the stage configuration
// and the content of every input file.
package stagecache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"shapegroom/pkg/failure"
)

// Entry records the outputs of one completed stage run.
type Entry struct {
	Stage   string          `json:"stage"`
	Key     digest.Digest   `json:"key"`
	Outputs []string        `json:"outputs"`
	Created time.Time       `json:"created"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

// Decode unmarshals the entry's metadata into v.
func (e *Entry) Decode(v any) error {
	if len(e.Meta) == 0 {
		return fmt.Errorf("cache entry for %s has no metadata", e.Stage)
	}
	return json.Unmarshal(e.Meta, v)
}

// Cache stores manifests under Dir. A zero Dir disables the cache.
type Cache struct {
	Dir    string
	Logger zerolog.Logger
}

// New returns a cache rooted at dir.
func New(dir string, l zerolog.Logger) *Cache {
	return &Cache{Dir: dir, Logger: l.With().Str("component", "stagecache").Logger()}
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool {
	return c != nil && c.Dir != ""
}

// Key digests the stage name, the canonical JSON of config and the content
// of every input file. Input order does not matter. A missing input is an
// ErrMissingArtifact error.
func Key(stage string, config any, inputs []string) (digest.Digest, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s configuration: %w", stage, err)
	}

	files := append([]string(nil), inputs...)
	sort.Strings(files)

	d := digest.Canonical.Digester()
	h := d.Hash()
	fmt.Fprintf(h, "stage:%s\n", stage)
	fmt.Fprintf(h, "config:%s\n", cfg)
	for _, path := range files {
		fd, err := fileDigest(path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "input:%s\n", fd)
	}
	return d.Digest(), nil
}

func fileDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", failure.Missingf("cache input %s", path)
		}
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}

func (c *Cache) path(key digest.Digest) string {
	return filepath.Join(c.Dir, key.Algorithm().String(), key.Encoded()+".json")
}

// Lookup returns the entry stored under key. It reports a miss when there is
// no entry or when any recorded output has since disappeared.
func (c *Cache) Lookup(key digest.Digest) (*Entry, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	if err := key.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid cache key: %w", err)
	}

	f, err := os.Open(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	entry, err := decode(f)
	if err != nil {
		c.Logger.Warn().Err(err).Str("key", key.String()).Msg("ignoring unreadable cache entry")
		return nil, false, nil
	}
	for _, out := range entry.Outputs {
		if _, err := os.Stat(out); err != nil {
			c.Logger.Debug().Str("stage", entry.Stage).Str("output", out).Msg("cached output missing")
			return nil, false, nil
		}
	}
	c.Logger.Info().Str("stage", entry.Stage).Str("key", key.Encoded()[:12]).Msg("cache hit")
	return entry, true, nil
}

// Store records outputs under key. meta, when non-nil, is stored as JSON.
func (c *Cache) Store(key digest.Digest, stage string, outputs []string, meta any) error {
	if !c.Enabled() {
		return nil
	}
	entry := Entry{Stage: stage, Key: key, Outputs: outputs, Created: time.Now().UTC()}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode cache metadata: %w", err)
		}
		entry.Meta = raw
	}

	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return os.Rename(tmp, path)
}

func decode(r io.Reader) (*Entry, error) {
	var e Entry
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}
