// Package transport defines the interfaces for moving serialized kvbind
// messages between the remote engine and a node. It provides a common
// contract that all transport implementations must fulfill, so the remote
// engine does not depend on the network protocol.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and hands them to the registered handler.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
// Implementations live in the tcp, unix and http subpackages. tcp and unix
// share the framed connection handling of the base package.
package transport
