// Package persist defines the snapshot format and storage backends for
// best-effort cache persistence.
//
// A Snapshot is a point-in-time JSON document listing every resident
// entry as a ["key", {entry}] pair plus summary metadata. A Store saves
// and loads snapshots; two backends ship with the package:
//
//   - FileStore writes a gzip-compressed snapshot file with an atomic
//     temp-file-and-rename so readers never observe a partial write
//   - RedisStore keeps the snapshot under a single Redis key, optionally
//     with a TTL, for processes that restart on hosts without stable
//     local storage
//
// Persistence is best-effort by design. Callers are expected to treat
// Save and Load failures as degraded operation, not fatal errors; a lost
// snapshot costs warm-up time, never correctness.
package persist
