// Package lstore implements a local, in-memory store.IStore. Data is not
// persisted between process restarts.
//
// Implementation Details:
//
//   - Sharding: keys are distributed over a fixed number of shards using
//     xxhash. Each shard is an xsync.MapOf and every read-modify-write runs
//     inside MapOf.Compute, so operations on one key are atomic without a
//     global lock.
//
//   - CAS: a store wide atomic counter yields a new, strictly increasing CAS
//     value for every write.
//
//   - Expiry: items expire lazily. An expired item is treated as missing and
//     removed by the next operation touching it or by Purge.
//
// Usage Example:
//
//	s := lstore.NewLocalStore(lstore.DefaultOptions())
//	cas, err := s.Store(store.ModeAdd, "session:123", data, 0, 300, 0)
//	item, err := s.Get("session:123")
package lstore
