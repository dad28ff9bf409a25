package recall

import (
	"time"

	"github.com/zero-day-ai/recall/vector"
)

// semanticIndexMinLen is the length a string value must exceed to enter the
// semantic index. Short strings carry too little vocabulary to match on.
const semanticIndexMinLen = 20

// Entry is the unit of storage. Values are held in encoded form; Payload is
// the serialized (and possibly compressed) envelope produced by the codec.
type Entry struct {
	// Key is the primary identifier.
	Key string `json:"key"`

	// Payload is the encoded value.
	Payload []byte `json:"payload"`

	// Compressed reports whether Payload is gzip compressed.
	Compressed bool `json:"compressed,omitempty"`

	// Encrypted reports whether Payload is sealed with the cache's
	// encryption key. Encryption is the outermost payload layer.
	Encrypted bool `json:"encrypted,omitempty"`

	// CreatedAt is the insertion time.
	CreatedAt time.Time `json:"createdAt"`

	// ExpiresAt is the expiry deadline. The zero value means the entry
	// never expires.
	ExpiresAt time.Time `json:"expiresAt"`

	// Priority is the eviction priority on a 0 to 100 scale; higher
	// survives eviction longer.
	Priority int `json:"priority"`

	// Tags are caller-supplied labels, kept in snapshots and surfaced on
	// events.
	Tags []string `json:"tags,omitempty"`

	// AccessCount is incremented on every exact or assisted hit.
	AccessCount int64 `json:"accessCount"`

	// LastAccessed is updated on every exact or assisted hit.
	LastAccessed time.Time `json:"lastAccessed"`

	// Size is the length in bytes of the encoded payload.
	Size int64 `json:"size"`

	// SemanticVector is the TF-IDF vector, nil when the value is not
	// indexable.
	SemanticVector vector.Vector `json:"semanticVector,omitempty"`

	// SemanticHash is a stable hash of the vectorized text, empty when
	// the value is not indexable.
	SemanticHash string `json:"semanticHash,omitempty"`

	// expiry points at this entry's record in the TTL heap so deletes can
	// drop it in the same critical section. Nil when the entry has no TTL.
	expiry *expiryRecord
}

// Expired reports whether the entry's deadline has passed at the given time.
// The deadline itself counts as expired.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}

// Touch records a hit at the given time.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessed = now
}

// Clone returns a copy safe to read outside the cache mutex. Payload, tags,
// and the semantic vector are immutable after construction and are shared.
func (e *Entry) Clone() *Entry {
	clone := *e
	clone.expiry = nil
	return &clone
}

// TextProvider exposes the text used for semantic indexing when the cached
// value is not itself a string.
type TextProvider interface {
	TextContent() string
}

// indexableText returns the text to vectorize for a value. Only strings
// longer than semanticIndexMinLen and TextProvider implementations
// participate in the semantic index.
func indexableText(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		if len(v) > semanticIndexMinLen {
			return v, true
		}
	case TextProvider:
		if text := v.TextContent(); text != "" {
			return text, true
		}
	}
	return "", false
}

// expiryRecord is one key's position in the TTL heap.
type expiryRecord struct {
	key   string
	at    time.Time
	index int
}

// expiryHeap orders expiry records by soonest deadline. It implements
// heap.Interface; index fields are maintained by the heap operations so
// records can be removed when their entry is deleted or replaced.
type expiryHeap []*expiryRecord

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	rec := x.(*expiryRecord)
	rec.index = len(*h)
	*h = append(*h, rec)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	rec.index = -1
	*h = old[:n-1]
	return rec
}
