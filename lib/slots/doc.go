// Package slots implements the per-connection callback slot table.
//
// A Table holds at most one Continuation per completion.Kind. Setting a slot
// replaces and releases the previous continuation; releasing the whole table
// happens exactly once, when the owning connection is torn down.
//
// The table is safe for reentrant use from inside a running continuation:
// the dispatcher pins a slot with Acquire for the duration of an invocation,
// and any continuation displaced from a pinned slot (by Set, Unset or
// ReleaseAll) is released only after the last pin is dropped. A continuation
// can therefore replace or clear its own slot, or tear down its connection,
// without being released while it still runs.
package slots
