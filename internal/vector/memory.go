package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// MemoryIndex is an in-process index using brute-force cosine search.
// Entries are kept in insertion order, which gives stable tie-breaking.
type MemoryIndex struct {
	schema  *Schema
	entries []Entry
	byID    map[string]int
	gen     uint64 // bumped on every change
	mu      sync.RWMutex

	// Set by OpenMemoryIndex.
	path     string
	lock     *os.File
	saveMu   sync.Mutex
	savedGen uint64
}

// NewMemoryIndex creates an empty index. The collection is fixed by the
// first EnsureCollection or Load call.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byID: make(map[string]int)}
}

// OpenMemoryIndex opens the snapshot at path for exclusive use by this
// process and loads it if present. Flush and Close write it back. Opening
// a path held by another open index fails with ErrIndexLocked.
func OpenMemoryIndex(path string) (*MemoryIndex, error) {
	m := NewMemoryIndex()
	if path == "" {
		return m, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	lock, err := lockFile(path + ".lock")
	if err != nil {
		return nil, err
	}
	if err := m.Load(path); err != nil {
		_ = unlockFile(lock)
		return nil, err
	}
	m.path, m.lock = path, lock
	m.savedGen = m.gen
	return m, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(BackendMemory)
}

// EnsureCollection fixes the schema on first use and verifies it afterwards.
func (m *MemoryIndex) EnsureCollection(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schema == nil {
		s := schema
		m.schema = &s
		return nil
	}
	return schema.compatible(*m.schema)
}

// Upsert appends new entries and replaces existing ones in place.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schema == nil {
		return ErrNotInitialized
	}
	for _, e := range entries {
		if len(e.Vector) != m.schema.Dimensions {
			return fmt.Errorf("%w: vector has %d dimensions, expected %d", ErrSchemaMismatch, len(e.Vector), m.schema.Dimensions)
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.Vector = append([]float32(nil), e.Vector...)
		if i, ok := m.byID[e.ID]; ok {
			m.entries[i] = e
			continue
		}
		m.byID[e.ID] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	m.gen++
	return nil
}

// Search scores every entry against query.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.schema == nil {
		return nil, ErrNotInitialized
	}
	if len(query) != m.schema.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrSchemaMismatch, len(query), m.schema.Dimensions)
	}
	if k <= 0 || len(m.entries) == 0 {
		return []Hit{}, nil
	}
	hits := make([]Hit, len(m.entries))
	for i, e := range m.entries {
		hits[i] = Hit{ID: e.ID, Text: e.Text, Metadata: e.Metadata, Score: Similarity(m.schema.Distance, query, e.Vector)}
	}
	return rankHits(hits, k), nil
}

// DeleteDocument removes a document's entries, keeping the order of the rest.
func (m *MemoryIndex) DeleteDocument(ctx context.Context, documentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.Metadata.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(m.entries) {
		return nil
	}
	m.gen++
	clear(m.entries[len(kept):])
	m.entries = kept
	m.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		m.byID[e.ID] = i
	}
	return nil
}

// Count returns the number of entries.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	return m.Size(), nil
}

// Size returns the number of entries.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Flush writes the snapshot if anything changed since the last write. It is
// a no-op for an index created without a path.
func (m *MemoryIndex) Flush(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	unchanged := m.gen == m.savedGen
	m.mu.RUnlock()
	if unchanged {
		return nil
	}
	gen, err := m.save(m.path)
	if err != nil {
		return err
	}
	m.savedGen = gen
	return nil
}

// Close flushes the snapshot and releases the lock taken by OpenMemoryIndex.
func (m *MemoryIndex) Close() error {
	if m.lock == nil {
		return nil
	}
	err := m.Flush(context.Background())
	if uerr := unlockFile(m.lock); err == nil {
		err = uerr
	}
	m.lock = nil
	return err
}

const (
	snapshotMagic   = "DRVX"
	snapshotVersion = uint32(1)
	// maxDimensions bounds the dimension read from a snapshot header.
	maxDimensions = 1 << 16
	// minEntryBytes is the encoded size of an entry with empty strings and
	// no vector: four length prefixes, document id and three u32 fields.
	minEntryBytes = 4*4 + 8 + 3*4
)

// Save writes a snapshot to path via a temporary file and rename. The
// directory is created if needed. Format (little endian): magic, version,
// collection, distance, dimensions, count, then per entry: id, text,
// filename, document id, chunk index, page, offset, vector.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	_, err := m.save(path)
	return err
}

// save writes the snapshot and returns the generation it captured. Callers
// hold saveMu.
func (m *MemoryIndex) save(path string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.schema == nil {
		return m.gen, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create index file: %w", err)
	}
	w := &snapshotWriter{w: bufio.NewWriter(f)}
	w.bytes([]byte(snapshotMagic))
	w.u32(snapshotVersion)
	w.str(m.schema.Collection)
	w.str(string(m.schema.Distance))
	w.u32(uint32(m.schema.Dimensions))
	w.u32(uint32(len(m.entries)))
	for _, e := range m.entries {
		w.str(e.ID)
		w.str(e.Text)
		w.str(e.Metadata.Filename)
		w.u64(uint64(e.Metadata.DocumentID))
		w.u32(uint32(e.Metadata.ChunkIndex))
		w.u32(uint32(e.Metadata.Page))
		w.u32(uint32(e.Metadata.Offset))
		for _, v := range e.Vector {
			w.u32(math.Float32bits(v))
		}
	}
	if w.err == nil {
		w.err = w.w.Flush()
	}
	if w.err == nil {
		w.err = f.Sync()
	}
	if cerr := f.Close(); w.err == nil {
		w.err = cerr
	}
	if w.err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write index file: %w", w.err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("replace index file: %w", err)
	}
	return m.gen, nil
}

// Load replaces the contents with the snapshot at path. A missing file is
// not an error. When the schema is already fixed the snapshot must match it.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat index file: %w", err)
	}

	r := &snapshotReader{r: bufio.NewReader(f)}
	if magic := r.bytes(len(snapshotMagic)); r.err == nil && string(magic) != snapshotMagic {
		return fmt.Errorf("not an index snapshot: %s", path)
	}
	if v := r.u32(); r.err == nil && v != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", v)
	}
	schema := Schema{Collection: r.str(), Distance: Distance(r.str()), Dimensions: int(r.u32())}
	n := r.u32()
	if r.err != nil {
		return fmt.Errorf("read index header: %w", r.err)
	}
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot header: %w", err)
	}
	if schema.Dimensions > maxDimensions {
		return fmt.Errorf("invalid snapshot header: %d dimensions", schema.Dimensions)
	}
	if need := int64(n) * int64(minEntryBytes+4*schema.Dimensions); need > info.Size() {
		return fmt.Errorf("snapshot truncated: %d entries need at least %d bytes, file has %d", n, need, info.Size())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schema != nil {
		if err := m.schema.compatible(schema); err != nil {
			return err
		}
	}
	entries := make([]Entry, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		e := Entry{ID: r.str(), Text: r.str()}
		e.Metadata.Filename = r.str()
		e.Metadata.DocumentID = int64(r.u64())
		e.Metadata.ChunkIndex = int(r.u32())
		e.Metadata.Page = int(r.u32())
		e.Metadata.Offset = int(r.u32())
		e.Vector = make([]float32, schema.Dimensions)
		for j := range e.Vector {
			e.Vector[j] = math.Float32frombits(r.u32())
		}
		entries = append(entries, e)
	}
	if r.err != nil {
		return fmt.Errorf("read index entries: %w", r.err)
	}
	if m.schema == nil {
		m.schema = &schema
	}
	m.gen++
	m.entries = entries
	m.byID = make(map[string]int, len(entries))
	for i, e := range entries {
		m.byID[e.ID] = i
	}
	return nil
}

type snapshotWriter struct {
	w   *bufio.Writer
	err error
}

func (s *snapshotWriter) bytes(b []byte) {
	if s.err == nil {
		_, s.err = s.w.Write(b)
	}
}

func (s *snapshotWriter) u32(v uint32) {
	s.bytes(binary.LittleEndian.AppendUint32(nil, v))
}

func (s *snapshotWriter) u64(v uint64) {
	s.bytes(binary.LittleEndian.AppendUint64(nil, v))
}

func (s *snapshotWriter) str(v string) {
	s.u32(uint32(len(v)))
	s.bytes([]byte(v))
}

type snapshotReader struct {
	r   *bufio.Reader
	err error
}

func (s *snapshotReader) bytes(n int) []byte {
	if s.err != nil {
		return nil
	}
	b := make([]byte, n)
	_, s.err = io.ReadFull(s.r, b)
	return b
}

func (s *snapshotReader) u32() uint32 {
	b := s.bytes(4)
	if s.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (s *snapshotReader) u64() uint64 {
	b := s.bytes(8)
	if s.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (s *snapshotReader) str() string {
	n := s.u32()
	if s.err != nil {
		return ""
	}
	if n > 64<<20 {
		s.err = fmt.Errorf("string length %d out of range", n)
		return ""
	}
	return string(s.bytes(int(n)))
}
