package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// --------------------------------------------------------------------------
// Management service
// --------------------------------------------------------------------------

// ManagementHandler returns the router of the management service
func (c *Cluster) ManagementHandler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestMetrics("management"))

	r.GET("/pools", c.handlePools)
	r.GET("/metrics", func(ctx *gin.Context) {
		ctx.Header("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(ctx.Writer, true)
	})

	buckets := r.Group("/pools/default/buckets", gin.BasicAuth(gin.Accounts{c.cfg.AdminUser: c.cfg.AdminPassword}))
	buckets.GET("", c.handleListBuckets)
	buckets.POST("", c.handleCreateBucket)
	buckets.GET("/:name", c.handleGetBucket)
	buckets.DELETE("/:name", c.handleDeleteBucket)

	return r
}

func (c *Cluster) handlePools(ctx *gin.Context) {
	user, password, ok := ctx.Request.BasicAuth()
	ctx.JSON(http.StatusOK, gin.H{
		"isAdminCreds":          ok && c.AuthenticateAdmin(user, password),
		"implementationVersion": c.cfg.Version,
		"uuid":                  c.uuid,
		"pools": []gin.H{
			{"name": "default", "uri": "/pools/default"},
		},
	})
}

func (c *Cluster) handleListBuckets(ctx *gin.Context) {
	buckets := c.Buckets()
	out := make([]gin.H, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, bucketJSON(b))
	}
	ctx.JSON(http.StatusOK, out)
}

func (c *Cluster) handleGetBucket(ctx *gin.Context) {
	b, ok := c.Bucket(ctx.Param("name"))
	if !ok {
		ctx.String(http.StatusNotFound, "Requested resource not found.\r\n")
		return
	}
	ctx.JSON(http.StatusOK, bucketJSON(b))
}

func (c *Cluster) handleCreateBucket(ctx *gin.Context) {
	var cfg BucketConfig
	if err := ctx.ShouldBind(&cfg); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"errors": gin.H{"_": err.Error()}})
		return
	}
	if auth := ctx.PostForm("authType"); auth != "" && auth != "sasl" && auth != "none" {
		ctx.JSON(http.StatusBadRequest, gin.H{"errors": gin.H{"authType": "invalid authType"}})
		return
	}

	err := c.CreateBucket(cfg)
	switch {
	case err == nil:
		ctx.Status(http.StatusAccepted)
	case errors.Is(err, ErrBucketExists):
		ctx.JSON(http.StatusBadRequest, gin.H{"errors": gin.H{"name": "Bucket with given name already exists"}})
	default:
		ctx.JSON(http.StatusBadRequest, gin.H{"errors": validationErrors(err)})
	}
}

func (c *Cluster) handleDeleteBucket(ctx *gin.Context) {
	if err := c.DeleteBucket(ctx.Param("name")); err != nil {
		ctx.String(http.StatusNotFound, "Requested resource not found.\r\n")
		return
	}
	ctx.Status(http.StatusOK)
}

func bucketJSON(b *Bucket) gin.H {
	return gin.H{
		"name":          b.cfg.Name,
		"bucketType":    b.cfg.Type,
		"authType":      "sasl",
		"replicaNumber": b.cfg.ReplicaNumber,
		"uri":           "/pools/default/buckets/" + b.cfg.Name,
		"quota": gin.H{
			"ram":    int64(b.cfg.RAMQuotaMB) * 1024 * 1024,
			"rawRAM": int64(b.cfg.RAMQuotaMB) * 1024 * 1024,
		},
		"basicStats": gin.H{
			"itemCount": b.store.Len(),
		},
	}
}

var formFields = map[string]string{
	"Name":          "name",
	"Password":      "saslPassword",
	"RAMQuotaMB":    "ramQuotaMB",
	"ReplicaNumber": "replicaNumber",
	"Type":          "bucketType",
}

// validationErrors maps validator errors to the form field names
func validationErrors(err error) gin.H {
	out := gin.H{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		field, ok := formFields[fe.Field()]
		if !ok {
			field = fe.Field()
		}
		out[field] = fmt.Sprintf("failed on the %q rule", fe.Tag())
	}
	return out
}

// --------------------------------------------------------------------------
// View service
// --------------------------------------------------------------------------

// ViewHandler returns the router of the view service
func (c *Cluster) ViewHandler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestMetrics("view"))

	bucket := r.Group("/:bucket", c.bucketAuth)
	bucket.GET("/_all_docs", func(ctx *gin.Context) {
		q, ok := parseViewQuery(ctx)
		if !ok {
			return
		}
		c.writeViewResult(ctx, func() (ViewResult, error) {
			return c.AllDocs(ctx.Param("bucket"), q)
		})
	})
	bucket.GET("/_design/:ddoc/_view/:view", func(ctx *gin.Context) {
		q, ok := parseViewQuery(ctx)
		if !ok {
			return
		}
		c.writeViewResult(ctx, func() (ViewResult, error) {
			return c.QueryView(ctx.Param("bucket"), ctx.Param("ddoc"), ctx.Param("view"), q)
		})
	})

	return r
}

// bucketAuth requires the bucket credentials if the bucket has a password
func (c *Cluster) bucketAuth(ctx *gin.Context) {
	name := ctx.Param("bucket")
	b, ok := c.Bucket(name)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "no_such_bucket"})
		return
	}
	if b.cfg.Password == "" {
		ctx.Next()
		return
	}
	user, password, _ := ctx.Request.BasicAuth()
	if !c.AuthenticateAdmin(user, password) && (user != name || password != b.cfg.Password) {
		ctx.Header("WWW-Authenticate", `Basic realm="Couchbase Server"`)
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "reason": "password required"})
		return
	}
	ctx.Next()
}

func (c *Cluster) writeViewResult(ctx *gin.Context, run func() (ViewResult, error)) {
	res, err := run()
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, res)
	case errors.Is(err, ErrNoSuchView):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "missing_named_view"})
	case errors.Is(err, ErrNoSuchBucket):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "no_such_bucket"})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "reason": err.Error()})
	}
}

// parseViewQuery reads the view parameters. Keys are JSON encoded. Writes a
// 400 response and returns false on malformed parameters.
func parseViewQuery(ctx *gin.Context) (ViewQuery, bool) {
	q := ViewQuery{InclusiveEnd: true}
	fail := func(param string, err error) (ViewQuery, bool) {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error":  "query_parse_error",
			"reason": fmt.Sprintf("invalid value for %s: %v", param, err),
		})
		return q, false
	}

	for param, dst := range map[string]**string{"key": &q.Key, "startkey": &q.StartKey, "endkey": &q.EndKey} {
		raw, ok := ctx.GetQuery(param)
		if !ok {
			continue
		}
		k, err := parseKey(raw)
		if err != nil {
			return fail(param, err)
		}
		*dst = &k
	}
	if raw, ok := ctx.GetQuery("keys"); ok {
		var keys []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &keys); err != nil {
			return fail("keys", err)
		}
		for _, k := range keys {
			parsed, err := parseKey(string(k))
			if err != nil {
				return fail("keys", err)
			}
			q.Keys = append(q.Keys, parsed)
		}
	}

	for param, dst := range map[string]*int{"limit": &q.Limit, "skip": &q.Skip} {
		raw, ok := ctx.GetQuery(param)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fail(param, fmt.Errorf("expected a non-negative integer"))
		}
		*dst = n
	}
	for param, dst := range map[string]*bool{"descending": &q.Descending, "inclusive_end": &q.InclusiveEnd} {
		raw, ok := ctx.GetQuery(param)
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fail(param, err)
		}
		*dst = v
	}
	return q, true
}

// parseKey decodes a JSON encoded key. Non-string keys use their JSON text.
func parseKey(raw string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(compact), nil
}

// requestMetrics counts requests per route and status code
func requestMetrics(service string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.GetOrCreateCounter(fmt.Sprintf(`kvbind_http_requests_total{service=%q,route=%q,code="%d"}`,
			service, route, ctx.Writer.Status())).Inc()
		metrics.GetOrCreateHistogram(fmt.Sprintf(`kvbind_http_request_duration_seconds{service=%q}`, service)).UpdateDuration(start)
	}
}
