package recall

import (
	"sync"
	"time"
)

// Stats is a point-in-time view of cache activity, grouped the way
// monitoring dashboards consume it.
type Stats struct {
	Performance PerformanceStats `json:"performance"`
	Storage     StorageStats     `json:"storage"`
	Activity    ActivityStats    `json:"activity"`
	Predictive  PredictiveStats  `json:"predictive"`
}

// PerformanceStats summarizes lookup quality and throughput.
type PerformanceStats struct {
	// HitRate is hits over total lookups, in [0, 1]. Zero when no lookups
	// have happened.
	HitRate float64 `json:"hitRate"`

	// SemanticHitRate is the share of lookups answered by the similarity
	// stage.
	SemanticHitRate float64 `json:"semanticHitRate"`

	// OpsPerSecond is the recent operation throughput, sampled from a
	// rolling operation log.
	OpsPerSecond float64 `json:"opsPerSecond"`

	// AvgSemanticScore is the mean similarity of semantic hits.
	AvgSemanticScore float64 `json:"avgSemanticScore"`
}

// StorageStats summarizes resident data.
type StorageStats struct {
	TotalItems int `json:"totalItems"`

	// MemoryUsageMB is the tracked payload memory in megabytes.
	MemoryUsageMB float64 `json:"memoryUsageMB"`

	// SemanticIndexSize is the number of vectorized documents in the
	// corpus.
	SemanticIndexSize int `json:"semanticIndexSize"`

	// AvgItemSize is the mean encoded payload size in bytes.
	AvgItemSize float64 `json:"avgItemSize"`
}

// ActivityStats holds monotonic operation counters.
type ActivityStats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	SemanticHits   int64 `json:"semanticHits"`
	PredictiveHits int64 `json:"predictiveHits"`
	Evictions      int64 `json:"evictions"`
	Expirations    int64 `json:"expirations"`

	// Prefetches counts preload suggestions emitted.
	Prefetches int64 `json:"prefetches"`

	// Degradations counts values stored as their string form because they
	// could not be serialized.
	Degradations int64 `json:"degradations"`

	// Repairs counts orphaned semantic index entries dropped on discovery.
	Repairs int64 `json:"repairs"`
}

// PredictiveStats summarizes the access-pattern tracker.
type PredictiveStats struct {
	// TrackedKeys is the number of keys with recorded access patterns.
	TrackedKeys int `json:"trackedKeys"`

	// Accuracy is the rolling prediction-accuracy estimate in [0, 1].
	Accuracy float64 `json:"accuracy"`
}

// opLogSize is the rolling operation log length used for throughput
// sampling.
const opLogSize = 1000

// opsWindow is how far back the throughput computation looks.
const opsWindow = time.Minute

// statsRecorder accumulates logical counters and the rolling operation log.
// It carries its own lock so the metrics refresh loop never contends with
// the cache mutex.
type statsRecorder struct {
	mu sync.Mutex

	// sampleOps controls op-timestamp sampling. Counters are maintained
	// regardless; only throughput sampling is optional.
	sampleOps bool

	hits           int64
	misses         int64
	semanticHits   int64
	predictiveHits int64
	evictions      int64
	expirations    int64
	prefetches     int64
	degradations   int64
	repairs        int64

	semanticScoreSum float64

	opLog  [opLogSize]time.Time
	opNext int
	opLen  int

	opsPerSecond float64
}

func newStatsRecorder(sampleOps bool) *statsRecorder {
	return &statsRecorder{sampleOps: sampleOps}
}

// noteOp appends to the operation log. Callers hold s.mu.
func (s *statsRecorder) noteOp(now time.Time) {
	if !s.sampleOps {
		return
	}
	s.opLog[s.opNext] = now
	s.opNext = (s.opNext + 1) % opLogSize
	if s.opLen < opLogSize {
		s.opLen++
	}
}

// op records a non-lookup operation (Set, Delete) for throughput.
func (s *statsRecorder) op(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noteOp(now)
}

// hit records a lookup answered by the exact stage.
func (s *statsRecorder) hit(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	s.noteOp(now)
}

// semanticHit records a lookup answered by the similarity stage.
func (s *statsRecorder) semanticHit(now time.Time, similarity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	s.semanticHits++
	s.semanticScoreSum += similarity
	s.noteOp(now)
}

// predictiveHit records a lookup answered by the access-pattern stage.
func (s *statsRecorder) predictiveHit(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	s.predictiveHits++
	s.noteOp(now)
}

// miss records an unanswered lookup.
func (s *statsRecorder) miss(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
	s.noteOp(now)
}

func (s *statsRecorder) eviction(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictions += n
}

func (s *statsRecorder) expiration(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirations += n
}

func (s *statsRecorder) prefetch(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefetches += n
}

func (s *statsRecorder) degradation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degradations++
}

func (s *statsRecorder) repair(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairs += n
}

// refresh recomputes throughput from the operation log.
func (s *statsRecorder) refresh(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-opsWindow)
	recent := 0
	for i := 0; i < s.opLen; i++ {
		if s.opLog[i].After(cutoff) {
			recent++
		}
	}
	s.opsPerSecond = float64(recent) / opsWindow.Seconds()
}

// reset drops all counters and the operation log.
func (s *statsRecorder) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits = 0
	s.misses = 0
	s.semanticHits = 0
	s.predictiveHits = 0
	s.evictions = 0
	s.expirations = 0
	s.prefetches = 0
	s.degradations = 0
	s.repairs = 0
	s.semanticScoreSum = 0
	s.opLog = [opLogSize]time.Time{}
	s.opNext = 0
	s.opLen = 0
	s.opsPerSecond = 0
}

// view assembles the externally visible performance and activity numbers.
func (s *statsRecorder) view() (PerformanceStats, ActivityStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	activity := ActivityStats{
		Hits:           s.hits,
		Misses:         s.misses,
		SemanticHits:   s.semanticHits,
		PredictiveHits: s.predictiveHits,
		Evictions:      s.evictions,
		Expirations:    s.expirations,
		Prefetches:     s.prefetches,
		Degradations:   s.degradations,
		Repairs:        s.repairs,
	}

	perf := PerformanceStats{OpsPerSecond: s.opsPerSecond}
	if lookups := s.hits + s.misses; lookups > 0 {
		perf.HitRate = float64(s.hits) / float64(lookups)
		perf.SemanticHitRate = float64(s.semanticHits) / float64(lookups)
	}
	if s.semanticHits > 0 {
		perf.AvgSemanticScore = s.semanticScoreSum / float64(s.semanticHits)
	}

	return perf, activity
}
