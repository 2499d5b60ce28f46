// Package client implements the remote engine of the binding.
// The engine satisfies engine.Engine and forwards every operation as a
// common.Message to a kvbind server via the configured transport layer.
//
// The package focuses on:
//   - Asynchronous operations: each command runs on its own goroutine and its
//     completions are queued on the engine loop until Poll or Wait delivers them
//   - Sessions: Connect authenticates the connection and stores the returned token
//   - Per connection timeouts that complete pending requests with Etimedout
//   - Mapping of transport and protocol failures to completion statuses
//
// HTTP requests are not sent over the RPC transport. They go directly to the
// management or view router configured in the ClientConfig and use basic auth
// with the credentials of the connection.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//		Endpoints:     []string{"localhost:11210"},
//		TimeoutSecond: 5,
//		RetryCount:    3,
//		MgmtEndpoint:  "http://localhost:8091",
//		ViewEndpoint:  "http://localhost:8092",
//	}
//
//	// Create the engine
//	e, _ := client.NewRemoteEngine(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer e.Close()
//
//	// Use it through the binding
//	b := binding.New(e)
//	conn, _ := b.Create(engine.ConnConfig{Bucket: "default"})
//
// Performance Considerations:
//
//   - Operations of one connection are independent requests and may complete
//     in any order. Increasing ConnectionsPerEndpoint lets them travel in parallel.
//
//   - The binary serializer provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	The engine is safe for concurrent use. Completions are delivered on the
//	goroutine that calls Poll or Wait.
package client
