// Package testing provides standardised tests and benchmarks for
// implementations of the store.IStore interface.
//
// The package contains:
//   - testing: a test suite validating the memcached style semantics of IStore
//   - benchmark: throughput measurements for common store operations
//
// Example usage:
//
//	factory := func(clock *storetesting.Clock) store.IStore {
//		return NewMyStore(clock.Now)
//	}
//
//	storetesting.RunStoreTests(t, "MyStore", factory)
//	storetesting.RunStoreBenchmarks(b, "MyStore", factory)
package testing
