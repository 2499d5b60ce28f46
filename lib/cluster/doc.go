// Package cluster holds the server side state of a kvbind node: its buckets,
// credentials and identity, together with the HTTP services a binding can
// reach through HTTP requests.
//
// A Cluster owns one store.IStore per bucket. Engines (in-process or the RPC
// server) authenticate connections against it and execute key-value commands
// on the bucket stores. Two gin routers expose the HTTP side:
//
//   - ManagementHandler: pool information, bucket creation and deletion and
//     the Prometheus metrics of the process (the management service)
//   - ViewHandler: map views over the items of a bucket (the view service)
//
// Usage Example:
//
//	c := cluster.New(cluster.Config{AdminUser: "admin", AdminPassword: "secret"})
//	err := c.CreateBucket(cluster.BucketConfig{Name: "default", RAMQuotaMB: 100})
//	status := c.Authenticate("default", "default", "")
//	http.ListenAndServe(":8091", c.ManagementHandler())
package cluster
