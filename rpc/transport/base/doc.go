// Package base provides the framed connection handling shared by the tcp
// and unix transports. Protocol specific code only has to provide a
// connector that dials or listens.
//
// Frames have the format requestID (uint64) | length (uint32) | payload.
// The request ID correlates responses with requests, so a single connection
// carries many concurrent requests and the server may answer out of order.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Manages multiple connections with round-robin load
//     balancing. Requests that fail to send are retried with exponential
//     backoff, timed out requests are not retried since the server may still
//     execute them. A broken connection fails all of its pending requests
//     and is reconnected.
//
//   - serverTransport: Accepts connections and hands every frame to the
//     registered handler on a bounded per-connection worker pool. Read
//     buffers are reused through a sync.Pool.
//
// Thread Safety:
//
//	All public methods are thread-safe.
package base
