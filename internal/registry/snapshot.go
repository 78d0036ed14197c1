package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Serialize produces the canonical JSON form of items: an object keyed by
// guid in insertion order, UTF-8, 2-space indent, no HTML-escaping.
func Serialize(items []KeyedItem) ([]byte, error) {
	var raw bytes.Buffer
	raw.WriteByte('{')
	for i, kv := range items {
		if i > 0 {
			raw.WriteByte(',')
		}
		key, err := json.Marshal(kv.Guid)
		if err != nil {
			return nil, err
		}
		raw.Write(key)
		raw.WriteByte(':')

		var valueBuf bytes.Buffer
		enc := json.NewEncoder(&valueBuf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(kv.Item); err != nil {
			return nil, err
		}
		raw.Write(bytes.TrimRight(valueBuf.Bytes(), "\n"))
	}
	raw.WriteByte('}')

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return pretty.Bytes(), nil
}

// LoadFile initializes a Registry from a snapshot file. A missing or empty
// file yields an empty registry; key order in the file becomes insertion
// order in the resulting registry.
func LoadFile(path string, logger *slog.Logger) (*Registry, error) {
	reg := New(logger)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening runtime snapshot %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return reg, nil
	}

	dec := json.NewDecoder(f)
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return reg, nil
		}
		return nil, fmt.Errorf("parsing runtime snapshot: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("parsing runtime snapshot: expected object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parsing runtime snapshot: %w", err)
		}
		guid, _ := keyTok.(string)

		var item Item
		if err := dec.Decode(&item); err != nil {
			return nil, fmt.Errorf("parsing runtime snapshot entry %s: %w", guid, err)
		}
		reg.Insert(guid, item)
	}

	return reg, nil
}

// Snapshotter periodically serializes a Registry to disk, writing only
// when the content hash changes, and evicts the oldest entry once the
// serialized size exceeds a configured ceiling.
type Snapshotter struct {
	registry   *Registry
	path       string
	interval   time.Duration
	maxBytes   int64
	maxEntries int
	logger     *slog.Logger
	lastHash   [sha256.Size]byte
	hasLast    bool
}

// NewSnapshotter builds a Snapshotter for registry, writing to path every
// interval. The oldest entry is evicted whenever the serialized registry
// exceeds maxBytes (spec.md §4.6's literal 50GiB ceiling) or the entry
// count exceeds maxEntries (the practical soft cap spec.md §9 Open
// Question 2 calls for; 0 disables the entry-count check).
func NewSnapshotter(registry *Registry, path string, interval time.Duration, maxBytes int64, maxEntries int, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{registry: registry, path: path, interval: interval, maxBytes: maxBytes, maxEntries: maxEntries, logger: logger}
}

// Run blocks, ticking every interval until ctx is done. On ctx.Done it
// performs one final save before returning.
func (s *Snapshotter) Run(ctx doneWaiter) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Save()
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// doneWaiter is the subset of context.Context Run needs, kept narrow so
// tests can supply a bare channel-backed stub.
type doneWaiter interface {
	Done() <-chan struct{}
}

func (s *Snapshotter) tick() {
	if s.path == "" {
		return
	}

	for s.maxEntries > 0 && s.registry.Len() > s.maxEntries {
		guid, ok := s.registry.EvictOldest()
		if !ok {
			break
		}
		s.logger.Warn("runtime registry exceeded entry-count cap, evicted oldest entry", "guid", guid)
	}

	items := s.registry.Snapshot()
	body, err := Serialize(items)
	if err != nil {
		s.logger.Error("snapshot serialize failed", "error", err)
		return
	}

	if int64(len(body)) > s.maxBytes {
		if guid, ok := s.registry.EvictOldest(); ok {
			s.logger.Warn("runtime registry exceeded size ceiling, evicted oldest entry", "guid", guid)
		}
		items = s.registry.Snapshot()
		body, err = Serialize(items)
		if err != nil {
			s.logger.Error("snapshot serialize failed", "error", err)
			return
		}
	}

	hash := sha256.Sum256(body)
	if s.hasLast && hash == s.lastHash {
		return
	}

	if err := os.WriteFile(s.path, body, 0o644); err != nil {
		s.logger.Error("snapshot write failed", "error", err, "path", s.path)
		return
	}
	s.lastHash = hash
	s.hasLast = true
}

// Save performs one immediate, unconditional save (used on shutdown).
func (s *Snapshotter) Save() {
	if s.path == "" {
		return
	}
	items := s.registry.Snapshot()
	body, err := Serialize(items)
	if err != nil {
		s.logger.Error("snapshot serialize failed", "error", err)
		return
	}
	if err := os.WriteFile(s.path, body, 0o644); err != nil {
		s.logger.Error("snapshot write failed", "error", err, "path", s.path)
	}
}
