// Package http implements the kvbind RPC transport over HTTP. Every request
// is posted to the /rpc route of a node, the response body is the serialized
// response message. The server side is a gin engine, the client uses a
// pooled net/http client with round-robin selection across endpoints.
//
// Plain host:port endpoints are prefixed with http://. Failed requests are
// retried on the next endpoint up to the configured retry count, timed out
// requests are not retried.
package http
