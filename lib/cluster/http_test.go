package cluster

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ValentinKolb/kvbind/lib/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestManagementPools(t *testing.T) {
	c := newTestCluster(t)
	h := c.ManagementHandler()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/pools", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["isAdminCreds"])
	assert.Equal(t, c.UUID(), body["uuid"])

	req := httptest.NewRequest(http.MethodGet, "/pools", nil)
	req.SetBasicAuth("admin", "secret")
	rec = serve(h, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["isAdminCreds"])
}

func TestManagementBuckets(t *testing.T) {
	c := newTestCluster(t)
	h := c.ManagementHandler()

	admin := func(method, path string, form url.Values) *httptest.ResponseRecorder {
		var req *http.Request
		if form != nil {
			req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		req.SetBasicAuth("admin", "secret")
		return serve(h, req)
	}

	t.Run("unauthorized", func(t *testing.T) {
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/pools/default/buckets", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := admin(http.MethodGet, "/pools/default/buckets", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 2)
		assert.Equal(t, "default", list[0]["name"])
	})

	t.Run("create", func(t *testing.T) {
		rec := admin(http.MethodPost, "/pools/default/buckets", url.Values{
			"name":          {"newbucket"},
			"authType":      {"sasl"},
			"saslPassword":  {"pw"},
			"ramQuotaMB":    {"128"},
			"replicaNumber": {"1"},
			"bucketType":    {"couchbase"},
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		b, ok := c.Bucket("newbucket")
		require.True(t, ok)
		assert.Equal(t, "pw", b.Config().Password)
		assert.Equal(t, 128, b.Config().RAMQuotaMB)
	})

	t.Run("create invalid", func(t *testing.T) {
		rec := admin(http.MethodPost, "/pools/default/buckets", url.Values{
			"name":       {"bad name"},
			"ramQuotaMB": {"10"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body map[string]map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body["errors"], "name")
		assert.Contains(t, body["errors"], "ramQuotaMB")
	})

	t.Run("create duplicate", func(t *testing.T) {
		rec := admin(http.MethodPost, "/pools/default/buckets", url.Values{
			"name":       {"default"},
			"ramQuotaMB": {"100"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get and delete", func(t *testing.T) {
		rec := admin(http.MethodGet, "/pools/default/buckets/protected", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = admin(http.MethodDelete, "/pools/default/buckets/protected", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = admin(http.MethodGet, "/pools/default/buckets/protected", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = admin(http.MethodDelete, "/pools/default/buckets/protected", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestManagementMetrics(t *testing.T) {
	c := newTestCluster(t)
	h := c.ManagementHandler()
	serve(h, httptest.NewRequest(http.MethodGet, "/pools", nil))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kvbind_http_requests_total{service="management",route="/pools",code="200"}`)
}

func TestViews(t *testing.T) {
	c := newTestCluster(t)
	h := c.ViewHandler()

	b, _ := c.Bucket("default")
	for _, k := range []string{"a", "b", "c"} {
		_, err := b.Store().Store(store.ModeSet, k, []byte(`"`+k+`"`), 0, 0, 0)
		require.NoError(t, err)
	}

	query := func(path string, params url.Values) (*httptest.ResponseRecorder, ViewResult) {
		target := path
		if params != nil {
			target += "?" + params.Encode()
		}
		rec := serve(h, httptest.NewRequest(http.MethodGet, target, nil))
		var res ViewResult
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		}
		return rec, res
	}

	rec, res := query("/default/_all_docs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, res.TotalRows)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "a", res.Rows[0].ID)

	rec, res = query("/default/_design/kvbind/_view/all", url.Values{
		"startkey":   {`"b"`},
		"descending": {"false"},
		"limit":      {"1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "b", res.Rows[0].Key)
	assert.Equal(t, "b", res.Rows[0].Value)

	rec, res = query("/default/_design/kvbind/_view/all", url.Values{"keys": {`["c","a"]`}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, res.Rows, 2)

	rec, _ = query("/default/_design/kvbind/_view/all", url.Values{"startkey": {"not json"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = query("/default/_design/kvbind/_view/all", url.Values{"limit": {"-1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = query("/default/_design/other/_view/all", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = query("/missing/_all_docs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = query("/protected/_all_docs", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/protected/_all_docs", nil)
	req.SetBasicAuth("protected", "pw")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}
