// Package server implements the kvbind node: a cluster served over an RPC
// transport, with optional management and view routers over HTTP.
//
// Key Components:
//
//   - Handler: Executes messages against a lib/cluster.Cluster. Clients open
//     a session with an Auth message and send the returned token with every
//     request. Sessions live in an xsync map keyed by a random uuid. Every
//     request is counted per message type and status with VictoriaMetrics
//     counters (kvbind_rpc_requests_total, kvbind_rpc_request_duration_seconds).
//
//   - Server: Creates the configured buckets, registers the Handler on the
//     transport and serves the routers. Close stops all listeners.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  NodeName:      "127.0.0.1:11210",
//	  Buckets:       []string{"default", "beer-sample:secret"},
//	  AdminUser:     "Administrator",
//	  AdminPassword: "password",
//	  Endpoint:      "0.0.0.0:11210",
//	  MgmtEndpoint:  "0.0.0.0:8091",
//	  ViewEndpoint:  "0.0.0.0:8092",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent requests
//	across multiple connections. Each request is processed independently.
//	Serve should be called only once.
package server
