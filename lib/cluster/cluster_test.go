package cluster

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCluster(t *testing.T) *Cluster {
	t.Helper()
	c := New(Config{AdminUser: "admin", AdminPassword: "secret"})
	require.NoError(t, c.CreateBucket(BucketConfig{Name: "default", RAMQuotaMB: 100}))
	require.NoError(t, c.CreateBucket(BucketConfig{Name: "protected", Password: "pw", RAMQuotaMB: 256, ReplicaNumber: 2}))
	return c
}

func TestCreateBucketValidation(t *testing.T) {
	c := New(Config{})

	tests := []struct {
		name string
		cfg  BucketConfig
		err  error
	}{
		{"valid", BucketConfig{Name: "b-1.x_%", RAMQuotaMB: 100}, nil},
		{"empty name", BucketConfig{RAMQuotaMB: 100}, ErrInvalidBucket},
		{"bad name", BucketConfig{Name: "a b", RAMQuotaMB: 100}, ErrInvalidBucket},
		{"small quota", BucketConfig{Name: "q", RAMQuotaMB: 99}, ErrInvalidBucket},
		{"replicas", BucketConfig{Name: "r", RAMQuotaMB: 100, ReplicaNumber: 4}, ErrInvalidBucket},
		{"type", BucketConfig{Name: "t", RAMQuotaMB: 100, Type: "ephemeral"}, ErrInvalidBucket},
		{"duplicate", BucketConfig{Name: "b-1.x_%", RAMQuotaMB: 100}, ErrBucketExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.CreateBucket(tt.cfg)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tt.err), "got %v", err)
			}
		})
	}

	b, ok := c.Bucket("b-1.x_%")
	require.True(t, ok)
	assert.Equal(t, BucketTypeCouchbase, b.Config().Type)
}

func TestDeleteBucket(t *testing.T) {
	c := newTestCluster(t)
	require.NoError(t, c.DeleteBucket("default"))
	_, ok := c.Bucket("default")
	assert.False(t, ok)
	assert.True(t, errors.Is(c.DeleteBucket("default"), ErrNoSuchBucket))

	names := []string{}
	for _, b := range c.Buckets() {
		names = append(names, b.Config().Name)
	}
	assert.Equal(t, []string{"protected"}, names)
}

func TestAuthenticate(t *testing.T) {
	c := newTestCluster(t)

	assert.Equal(t, completion.StatusSuccess, c.Authenticate("default", "default", ""))
	assert.Equal(t, completion.StatusSuccess, c.Authenticate("protected", "protected", "pw"))
	assert.Equal(t, completion.StatusSuccess, c.Authenticate("protected", "admin", "secret"))
	assert.Equal(t, completion.StatusAuthError, c.Authenticate("protected", "protected", "wrong"))
	assert.Equal(t, completion.StatusAuthError, c.Authenticate("protected", "default", ""))
	assert.Equal(t, completion.StatusBucketEnoent, c.Authenticate("missing", "missing", ""))
}

func TestStats(t *testing.T) {
	c := newTestCluster(t)
	b, _ := c.Bucket("default")
	_, err := b.Store().Store(store.ModeSet, "k", []byte("v"), 0, 0, 0)
	require.NoError(t, err)

	stats, status := c.Stats("default", "")
	require.Equal(t, completion.StatusSuccess, status)
	values := map[string]string{}
	for _, s := range stats {
		values[s.Key] = s.Value
	}
	assert.Equal(t, "1", values["curr_items"])
	assert.Equal(t, DefaultVersion, values["version"])

	stats, status = c.Stats("protected", "settings")
	require.Equal(t, completion.StatusSuccess, status)
	values = map[string]string{}
	for _, s := range stats {
		values[s.Key] = s.Value
	}
	assert.Equal(t, "256", values["ram_quota_mb"])
	assert.Equal(t, "2", values["replica_number"])

	_, status = c.Stats("default", "nope")
	assert.Equal(t, completion.StatusKeyEnoent, status)
	_, status = c.Stats("missing", "")
	assert.Equal(t, completion.StatusBucketEnoent, status)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, completion.StatusSuccess, StatusOf(nil))
	assert.Equal(t, completion.StatusKeyEnoent, StatusOf(store.NewError(store.RetCKeyNotFound, "")))
	assert.Equal(t, completion.StatusKeyEexists, StatusOf(store.NewError(store.RetCKeyExists, "")))
	assert.Equal(t, completion.StatusNotStored, StatusOf(store.NewError(store.RetCNotStored, "")))
	assert.Equal(t, completion.StatusEtmpfail, StatusOf(store.NewError(store.RetCLocked, "")))
	assert.Equal(t, completion.StatusDeltaBadval, StatusOf(store.NewError(store.RetCDeltaBadval, "")))
	assert.Equal(t, completion.StatusE2Big, StatusOf(store.NewError(store.RetCTooBig, "")))
	assert.Equal(t, completion.StatusEinval, StatusOf(store.NewError(store.RetCInvalidArgument, "")))
	assert.Equal(t, completion.StatusEinternal, StatusOf(errors.New("boom")))
}

func TestVerbosity(t *testing.T) {
	c := New(Config{})
	c.SetVerbosity(3)
	assert.Equal(t, uint8(3), c.Verbosity())
}

func TestQueryView(t *testing.T) {
	c := newTestCluster(t)
	b, _ := c.Bucket("default")
	for i, k := range []string{"c", "a", "e", "b", "d"} {
		_, err := b.Store().Store(store.ModeSet, k, []byte(`{"n":`+string(rune('0'+i))+`}`), uint32(i%2), 0, 0)
		require.NoError(t, err)
	}

	keys := func(res ViewResult) []string {
		out := []string{}
		for _, r := range res.Rows {
			out = append(out, r.Key)
		}
		return out
	}
	str := func(s string) *string { return &s }

	res, err := c.QueryView("default", "kvbind", "all", ViewQuery{InclusiveEnd: true})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalRows)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys(res))

	res, _ = c.QueryView("default", "kvbind", "all", ViewQuery{StartKey: str("b"), EndKey: str("d"), InclusiveEnd: true})
	assert.Equal(t, []string{"b", "c", "d"}, keys(res))

	res, _ = c.QueryView("default", "kvbind", "all", ViewQuery{StartKey: str("b"), EndKey: str("d")})
	assert.Equal(t, []string{"b", "c"}, keys(res))

	res, _ = c.QueryView("default", "kvbind", "all", ViewQuery{Descending: true, StartKey: str("d"), InclusiveEnd: true, Limit: 2})
	assert.Equal(t, []string{"d", "c"}, keys(res))

	res, _ = c.QueryView("default", "kvbind", "all", ViewQuery{Skip: 3, InclusiveEnd: true})
	assert.Equal(t, []string{"d", "e"}, keys(res))

	res, _ = c.QueryView("default", "kvbind", "all", ViewQuery{Keys: []string{"e", "a"}, InclusiveEnd: true})
	assert.Equal(t, []string{"a", "e"}, keys(res))

	res, _ = c.QueryView("default", "kvbind", "by_flags", ViewQuery{Key: str("1"), InclusiveEnd: true})
	assert.Len(t, res.Rows, 2)

	_, err = c.QueryView("default", "kvbind", "missing", ViewQuery{})
	assert.True(t, errors.Is(err, ErrNoSuchView))
	_, err = c.AllDocs("missing", ViewQuery{})
	assert.True(t, errors.Is(err, ErrNoSuchBucket))
}
