// Package rpc lets a kvbind binding talk to a remote node. The remote
// engine in the client package implements engine.Engine on top of a
// transport and a serializer, the server package executes the messages
// against a cluster.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, configuration structures and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: The remote engine.
//
//   - server: The request handler and the node lifecycle (RPC listener,
//     management and view routers).
package rpc
