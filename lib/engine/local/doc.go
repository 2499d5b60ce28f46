// Package local implements an engine.Engine that executes every operation
// against an in-process cluster.Cluster.
//
// Operations run synchronously when they are issued; their completions are
// queued on the engine loop and only delivered by Poll or Wait, exactly like
// the completions of a networked engine. HTTP requests are served by the
// cluster routers without a network round trip.
//
// Usage Example:
//
//	c := cluster.New(cluster.Config{})
//	_ = c.CreateBucket(cluster.BucketConfig{Name: "default", RAMQuotaMB: 100})
//	e := local.New(c)
//	h, err := e.Create(engine.ConnConfig{Bucket: "default"}, sink)
//	err = e.Connect(h)
//	err = e.Wait(ctx, h)
package local
