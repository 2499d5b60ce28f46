// Package binding is the host facing API of kvbind. It ties an engine.Engine
// to a connection registry and a completion dispatcher.
//
// A Binding creates Connections. Each connection owns one slot table in the
// registry; continuations registered with SetCallback are invoked for the
// completions of the operations issued on the connection. Completions are
// only delivered while the host drives the engine with Poll or Wait, on the
// driving goroutine, so continuations may freely issue new operations,
// replace callbacks or destroy connections (including their own).
//
// Usage Example:
//
//	b := binding.New(local.New(c))
//	conn, err := b.Create(engine.ConnConfig{Bucket: "default"})
//	_ = conn.SetCallback(completion.KindGet, slots.For(func(c completion.Completion, p completion.Get) {
//		fmt.Println(c.Cookie, c.Status, p.Key, string(p.Value))
//	}))
//	_ = conn.Connect()
//	_ = conn.Get("cookie", engine.GetCmd{Key: "x"})
//	err = conn.Wait(ctx)
//	conn.Destroy()
package binding
