// Package registry implements the connection registry: an identity keyed
// map from completion.Handle to an Entry owning the connection's slot table.
//
// Entries are created exactly once per handle with Insert, found by the
// dispatcher with Lookup on every completion, and destroyed exactly once with
// Remove. Remove first unlinks the entry so that no later Lookup can observe
// it, then releases every continuation held by its slot table. Removing an
// unknown handle is a no-op, which makes teardown idempotent and safe to call
// from inside a continuation of the connection being removed.
//
// The map is an xsync.MapOf, so lookups for one handle never block on
// insertions or removals of other handles.
package registry
