// Package predict tracks per-key access patterns and derives predictions
// about which keys are likely to be requested next.
//
// A Tracker records every access with its timestamp and maintains two
// views of the history: a ring of recent inter-access intervals per key,
// and an hour-of-day frequency table across keys. Predict merges two
// signals from these views:
//
//   - time-of-day: keys frequently accessed in the current hour, with
//     confidence proportional to their share of the hour's busiest key
//   - periodic: keys whose accesses recur at a steady interval and are
//     due again, with confidence growing with total access count
//
// Predictions are heuristics. Callers that can observe whether a
// prediction turned out correct may feed that back through RecordOutcome,
// which maintains a rolling accuracy estimate; nothing in this package
// calls it on its own.
//
//	tr := predict.NewTracker()
//	tr.Record("user:42:profile", time.Now())
//
//	for _, p := range tr.Predict(time.Now(), 10) {
//	    fmt.Printf("%s %.2f (%s)\n", p.Key, p.Confidence, p.Reason)
//	}
//
// Tracker is safe for concurrent use.
package predict
