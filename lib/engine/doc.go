// Package engine defines the boundary between the binding and the storage
// engine client that actually talks to a data store.
//
// An Engine creates connections, accepts operations tagged with a caller
// cookie and produces completions. Completions are never delivered from the
// goroutine that produced them: every engine owns a Loop, a FIFO of ready
// completions shared by all of its connections, which is drained only by the
// explicit Poll and Wait calls of the driving goroutine. This keeps the
// delivery of completions (and therefore the execution of continuations)
// cooperative and single threaded even when the engine itself uses
// background goroutines for I/O.
//
// Implementations:
//
//   - lib/engine/local: executes against an in-process cluster
//   - lib/engine/redisengine: executes against a Redis server
//   - rpc/client: executes against a kvbind server over an RPC transport
package engine
