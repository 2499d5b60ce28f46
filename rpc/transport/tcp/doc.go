// Package tcp implements the TCP transport of the kvbind RPC protocol on top
// of the base package. The client applies the socket settings of the
// client configuration (no delay, buffer sizes, keep-alive, linger).
//
// The default server buffer size is set to 512 KB with 64 workers per
// connection, both can be customized with NewTCPServerTransport.
package tcp
