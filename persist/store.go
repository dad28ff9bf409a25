package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Version identifies the snapshot schema produced by this package.
const Version = "1"

// snapshotFile is the name of the snapshot file inside a FileStore
// directory.
const snapshotFile = "snapshot.json.gz"

// Sentinel errors for snapshot storage. These can be used with
// errors.Is() for error checking.
var (
	// ErrNotFound indicates no snapshot has been saved yet.
	ErrNotFound = errors.New("persist: snapshot not found")

	// ErrCorrupt indicates a snapshot exists but cannot be decoded.
	ErrCorrupt = errors.New("persist: snapshot corrupt")
)

// Store persists cache snapshots. Implementations must be safe for
// concurrent use by a single writer and any number of readers.
type Store interface {
	// Save writes a snapshot, replacing any previous one.
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns the most recent snapshot, or ErrNotFound when none
	// has been saved.
	Load(ctx context.Context) (*Snapshot, error)

	// Close releases any resources held by the store.
	Close() error
}

// Snapshot is a point-in-time serialization of the cache contents.
type Snapshot struct {
	// Timestamp records when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`

	// Version is the schema version, currently "1". Loaders should treat
	// unknown versions as best-effort.
	Version string `json:"version"`

	// Items lists every resident entry as a ["key", {entry}] pair.
	Items []Item `json:"items"`

	// Metadata summarizes the snapshot contents.
	Metadata Metadata `json:"metadata"`
}

// Metadata summarizes a snapshot.
type Metadata struct {
	TotalItems  int   `json:"totalItems"`
	MemoryUsage int64 `json:"memoryUsage"`
}

// Item is one key/entry pair. It serializes as a two-element JSON array
// so the wire format reads ["key", {entry}]. The entry side is kept as
// raw JSON; the cache owns its schema.
type Item struct {
	Key   string
	Entry json.RawMessage
}

// MarshalJSON implements json.Marshaler.
func (it Item) MarshalJSON() ([]byte, error) {
	key, err := json.Marshal(it.Key)
	if err != nil {
		return nil, err
	}
	entry := it.Entry
	if len(entry) == 0 {
		entry = json.RawMessage("null")
	}
	return json.Marshal([2]json.RawMessage{key, entry})
}

// UnmarshalJSON implements json.Unmarshaler.
func (it *Item) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("persist: item pair has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &it.Key); err != nil {
		return fmt.Errorf("persist: item key: %w", err)
	}
	it.Entry = pair[1]
	return nil
}

// FileStore persists snapshots as a gzip-compressed JSON file. Saves are
// atomic: the snapshot is written to a temp file in the same directory
// and renamed over the previous one.
type FileStore struct {
	dir  string
	path string
}

// NewFileStore returns a FileStore rooted at dir, creating the directory
// if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("persist: snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create snapshot directory: %w", err)
	}
	return &FileStore{dir: dir, path: filepath.Join(dir, snapshotFile)}, nil
}

// Path returns the location of the snapshot file.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes the snapshot atomically.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persist: encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, snapshotFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if _, err := zw.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: write snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: flush snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist: close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("persist: replace snapshot: %w", err)
	}
	return nil
}

// Load reads the most recent snapshot.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("persist: open snapshot: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &snap, nil
}

// Close implements Store. FileStore holds no open resources.
func (s *FileStore) Close() error {
	return nil
}
