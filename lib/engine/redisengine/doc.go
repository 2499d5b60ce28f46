// Package redisengine implements an engine.Engine on top of a Redis server.
//
// Buckets are key prefixes. An item is stored as a hash holding the value
// (v), the flags (f), the CAS (c) and the lock deadline in unix milliseconds
// (l); every bucket owns an INCR counter producing its CAS values. All
// read-modify-write operations run as Lua scripts so that CAS checks, locks
// and the write itself are atomic on the server. Item expiry uses the native
// Redis key expiry.
//
// Each operation runs on its own goroutine bounded by the connection timeout
// and queues its completions on the engine loop.
//
// Usage Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	e := redisengine.New(client, "localhost:6379")
//	h, err := e.Create(engine.ConnConfig{Bucket: "default"}, sink)
package redisengine
