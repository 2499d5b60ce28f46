// Package completion defines the vocabulary shared by every layer of the
// binding: connection handles, the closed set of operation kinds, the status
// codes reported by the data store and the sum-typed completion events that
// an engine delivers to the dispatcher.
//
// Key Components:
//
//   - Handle: opaque identity of one connection, issued by an engine.
//
//   - Kind: the fifteen operation kinds a connection can register a
//     continuation for (get, store, remove, ..., configuration, error).
//
//   - Status: numeric result code of an operation with String and Strerror
//     helpers.
//
//   - Completion / Payload: one completion event. The payload is a sealed
//     interface with exactly one variant per Kind, so consumers switch on the
//     concrete type instead of decoding untyped arguments.
package completion
