// Package store defines the storage contract of one bucket and the error
// type shared by its implementations.
//
// The package focuses on:
//   - A unified interface (IStore) with memcached semantics: add, replace,
//     set, append and prepend writes, compare-and-swap, expiry, pessimistic
//     locks, counters and observe
//   - Typed errors carrying a RetCode, so callers can map failures to
//     protocol status codes without string matching
//
// Implementations:
//
//	- Local Store (lstore): a sharded, in-memory implementation. Available in
//	  the "github.com/ValentinKolb/kvbind/lib/store/lstore" package.
package store
