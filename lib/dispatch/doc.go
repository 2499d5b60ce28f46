// Package dispatch implements the completion dispatcher, the single entry
// point through which an engine hands completions back to the binding.
//
// For each completion the dispatcher resolves the owning connection in the
// registry, pins the continuation registered for the completion's kind and
// invokes it synchronously on the calling goroutine. Completions for unknown
// handles or unset slots are dropped silently; both cases are normal after a
// connection was torn down while operations were still in flight.
//
// A continuation that panics never unwinds into the engine. The panic is
// recovered and reported on the connection's error slot as a completion with
// status completion.StatusCallbackFailure. If that is impossible (no error
// slot, or the error slot panicked itself) the failure is handed to the
// dispatcher's DiagnosticFunc, which logs by default and can forward to
// Sentry with SentryDiagnostic.
package dispatch
