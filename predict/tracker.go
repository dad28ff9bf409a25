package predict

import (
	"sort"
	"sync"
	"time"
)

// Prediction reasons.
const (
	// ReasonTimeOfDay marks a prediction driven by the hour-of-day
	// frequency table.
	ReasonTimeOfDay = "time-of-day"

	// ReasonPeriodic marks a prediction driven by a steady inter-access
	// interval that is due to recur.
	ReasonPeriodic = "periodic"
)

const (
	// intervalWindow is the number of recent inter-access intervals kept
	// per key.
	intervalWindow = 10

	// minIntervals is the minimum number of recorded intervals before a
	// key is considered for periodic prediction.
	minIntervals = 3

	// dueFraction of the mean interval must have elapsed since the last
	// access before a periodic key counts as due.
	dueFraction = 0.8

	// confidenceDivisor scales total access count into a [0, 1] periodic
	// confidence.
	confidenceDivisor = 100.0

	// accuracyAlpha is the smoothing factor of the rolling accuracy
	// estimate.
	accuracyAlpha = 0.1

	// initialAccuracy is the estimate reported before any outcomes have
	// been recorded.
	initialAccuracy = 0.5

	// defaultTopN bounds the number of predictions Predict returns when the
	// caller does not ask for a specific count.
	defaultTopN = 10
)

// Prediction is a single predicted key with the tracker's confidence in
// it being requested soon.
type Prediction struct {
	// Key is the predicted cache key.
	Key string `json:"key"`

	// Confidence is the tracker's confidence in this prediction, in
	// [0, 1]. It is comparable across reasons.
	Confidence float64 `json:"confidence"`

	// Reason names the signal that produced the prediction, one of
	// ReasonTimeOfDay or ReasonPeriodic.
	Reason string `json:"reason"`

	// ExpectedIn estimates how long until the access is due. It is only
	// set for periodic predictions and is zero when the key is overdue.
	ExpectedIn time.Duration `json:"expectedIn,omitempty"`
}

// pattern is the recorded access history of a single key.
type pattern struct {
	count     int64
	first     time.Time
	last      time.Time
	intervals [intervalWindow]time.Duration
	filled    int
	next      int
}

func (p *pattern) record(at time.Time) {
	if iv := at.Sub(p.last); iv > 0 {
		p.intervals[p.next] = iv
		p.next = (p.next + 1) % intervalWindow
		if p.filled < intervalWindow {
			p.filled++
		}
	}
	p.count++
	p.last = at
}

func (p *pattern) meanInterval() time.Duration {
	if p.filled == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < p.filled; i++ {
		sum += p.intervals[i]
	}
	return sum / time.Duration(p.filled)
}

// Tracker records key accesses and produces predictions from them.
// The zero value is not usable; construct with NewTracker.
type Tracker struct {
	mu       sync.Mutex
	patterns map[string]*pattern
	hourly   [24]map[string]int64
	accuracy float64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		patterns: make(map[string]*pattern),
		accuracy: initialAccuracy,
	}
}

// Record notes that key was accessed at the given time.
func (t *Tracker) Record(key string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.patterns[key]
	if p == nil {
		t.patterns[key] = &pattern{count: 1, first: at, last: at}
	} else {
		p.record(at)
	}

	h := at.Hour()
	if t.hourly[h] == nil {
		t.hourly[h] = make(map[string]int64)
	}
	t.hourly[h][key]++
}

// Predict returns at most n keys likely to be accessed around now, ordered
// by descending confidence. A non-positive n asks for the default of ten.
// A key surfaced by both signals keeps its higher-confidence prediction.
func (t *Tracker) Predict(now time.Time, n int) []Prediction {
	if n <= 0 {
		n = defaultTopN
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	best := make(map[string]Prediction)

	if counts := t.hourly[now.Hour()]; len(counts) > 0 {
		var max int64
		for _, n := range counts {
			if n > max {
				max = n
			}
		}
		for key, n := range counts {
			p := Prediction{
				Key:        key,
				Confidence: float64(n) / float64(max),
				Reason:     ReasonTimeOfDay,
			}
			if cur, ok := best[key]; !ok || p.Confidence > cur.Confidence {
				best[key] = p
			}
		}
	}

	for key, pat := range t.patterns {
		if pat.filled < minIntervals {
			continue
		}
		mean := pat.meanInterval()
		if mean <= 0 {
			continue
		}
		elapsed := now.Sub(pat.last)
		if float64(elapsed) < dueFraction*float64(mean) {
			continue
		}
		conf := float64(pat.count) / confidenceDivisor
		if conf > 1 {
			conf = 1
		}
		expected := mean - elapsed
		if expected < 0 {
			expected = 0
		}
		p := Prediction{
			Key:        key,
			Confidence: conf,
			Reason:     ReasonPeriodic,
			ExpectedIn: expected,
		}
		if cur, ok := best[key]; !ok || p.Confidence > cur.Confidence {
			best[key] = p
		}
	}

	out := make([]Prediction, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Forget drops all recorded history for key.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.patterns, key)
	for h := range t.hourly {
		delete(t.hourly[h], key)
	}
}

// Reset drops all recorded history and resets the accuracy estimate.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.patterns = make(map[string]*pattern)
	t.hourly = [24]map[string]int64{}
	t.accuracy = initialAccuracy
}

// RecordOutcome folds the result of acting on a prediction into the
// rolling accuracy estimate. The tracker never calls this itself.
func (t *Tracker) RecordOutcome(hit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sample := 0.0
	if hit {
		sample = 1.0
	}
	t.accuracy = t.accuracy*(1-accuracyAlpha) + sample*accuracyAlpha
}

// Accuracy returns the rolling prediction accuracy estimate. It starts at
// 0.5 and moves toward the observed hit rate as outcomes are recorded.
func (t *Tracker) Accuracy() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accuracy
}

// Tracked returns the number of keys with recorded history.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.patterns)
}
