package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ValentinKolb/kvbind/lib/binding"
	"github.com/ValentinKolb/kvbind/lib/cluster"
	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/engine"
	"github.com/ValentinKolb/kvbind/lib/slots"
	"github.com/ValentinKolb/kvbind/rpc/common"
	"github.com/ValentinKolb/kvbind/rpc/serializer"
	"github.com/ValentinKolb/kvbind/rpc/server"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// loopback hands every request directly to a server
type loopback struct {
	handle func(req []byte) []byte
}

func (l *loopback) Connect(common.ClientConfig) error { return nil }
func (l *loopback) Send(req []byte) ([]byte, error)   { return l.handle(req), nil }
func (l *loopback) Close() error                      { return nil }

type recorder struct {
	got []completion.Completion
}

func (r *recorder) sink(c completion.Completion) { r.got = append(r.got, c) }

func (r *recorder) take() []completion.Completion {
	out := r.got
	r.got = nil
	return out
}

func newServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := common.ServerConfig{
		NodeName:      "node-1",
		Buckets:       []string{"default", "secure:secret"},
		AdminUser:     "Administrator",
		AdminPassword: "password",
		Endpoint:      "unused",
	}
	s := server.NewRPCServer(cfg, nil, serializer.NewBinarySerializer())
	for _, b := range cfg.BucketConfigs() {
		require.NoError(t, s.Cluster().CreateBucket(b))
	}
	return s
}

func newEngine(t *testing.T, s *server.Server, config common.ClientConfig, handle func([]byte) []byte) *Engine {
	t.Helper()
	if len(config.Endpoints) == 0 {
		config.Endpoints = []string{"loopback"}
	}
	if handle == nil {
		handle = s.HandleRequest
	}
	e, err := NewRemoteEngine(config, &loopback{handle: handle}, serializer.NewBinarySerializer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func connect(t *testing.T, e *Engine, cfg engine.ConnConfig) (completion.Handle, *recorder) {
	t.Helper()
	rec := &recorder{}
	h, err := e.Create(cfg, rec.sink)
	require.NoError(t, err)
	require.NoError(t, e.Connect(h))
	require.NoError(t, e.Wait(context.Background(), h))
	got := rec.take()
	require.Len(t, got, 1)
	require.Equal(t, completion.StatusSuccess, got[0].Status, got[0].String())
	assert.Equal(t, completion.Configuration{State: completion.ConfigNew}, got[0].Payload)
	return h, rec
}

func TestConnect(t *testing.T) {
	e := newEngine(t, newServer(t), common.ClientConfig{}, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		cfg    engine.ConnConfig
		status completion.Status
	}{
		{"default bucket", engine.ConnConfig{}, completion.StatusSuccess},
		{"password", engine.ConnConfig{Bucket: "secure", Password: "secret"}, completion.StatusSuccess},
		{"wrong password", engine.ConnConfig{Bucket: "secure", Password: "nope"}, completion.StatusAuthError},
		{"missing bucket", engine.ConnConfig{Bucket: "missing"}, completion.StatusBucketEnoent},
		{"cluster admin", engine.ConnConfig{Type: completion.ConnectionCluster, User: "Administrator", Password: "password"}, completion.StatusSuccess},
		{"cluster no auth", engine.ConnConfig{Type: completion.ConnectionCluster}, completion.StatusAuthError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			h, err := e.Create(tt.cfg, rec.sink)
			require.NoError(t, err)
			require.NoError(t, e.Connect(h))
			require.NoError(t, e.Wait(ctx, h))

			got := rec.take()
			require.Len(t, got, 1)
			assert.Equal(t, tt.status, got[0].Status)
			if tt.status.OK() {
				assert.Equal(t, completion.KindConfiguration, got[0].Kind())
			} else {
				assert.Equal(t, completion.KindError, got[0].Kind())
			}
		})
	}

	// A second connect reports an unchanged configuration
	h, rec := connect(t, e, engine.ConnConfig{})
	require.NoError(t, e.Connect(h))
	require.NoError(t, e.Wait(ctx, h))
	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, completion.Configuration{State: completion.ConfigUnchanged}, got[0].Payload)
}

func TestKeyOperations(t *testing.T) {
	e := newEngine(t, newServer(t), common.ClientConfig{}, nil)
	ctx := context.Background()
	h, rec := connect(t, e, engine.ConnConfig{})

	require.NoError(t, e.Store(h, "set", engine.StoreCmd{Operation: completion.StoreSet, Key: "k", Value: []byte("v"), Flags: 7}))
	require.NoError(t, e.Wait(ctx, h))
	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, "set", got[0].Cookie)
	require.Equal(t, completion.StatusSuccess, got[0].Status)
	stored := got[0].Payload.(completion.Store)
	assert.Equal(t, completion.StoreSet, stored.Operation)
	assert.NotZero(t, stored.CAS)

	require.NoError(t, e.Get(h, "get", engine.GetCmd{Key: "k"}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, completion.Get{Key: "k", Value: []byte("v"), Flags: 7, CAS: stored.CAS}, got[0].Payload)

	require.NoError(t, e.Store(h, nil, engine.StoreCmd{Operation: completion.StoreAdd, Key: "k", Value: []byte("x")}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, completion.StatusKeyEexists, got[0].Status)

	for _, want := range []uint64{10, 15} {
		require.NoError(t, e.Arithmetic(h, nil, engine.ArithmeticCmd{Key: "n", Delta: 5, Initial: 10, Create: true}))
		require.NoError(t, e.Wait(ctx, h))
		got = rec.take()
		require.Len(t, got, 1)
		assert.Equal(t, want, got[0].Payload.(completion.Arithmetic).Value)
	}

	require.NoError(t, e.Remove(h, nil, engine.RemoveCmd{Key: "k"}))
	require.NoError(t, e.Wait(ctx, h))
	require.Len(t, rec.take(), 1)

	require.NoError(t, e.Get(h, nil, engine.GetCmd{Key: "k"}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, completion.StatusKeyEnoent, got[0].Status)
	assert.Equal(t, completion.Get{Key: "k"}, got[0].Payload)

	// Invalid commands are rejected synchronously
	assert.ErrorIs(t, e.Get(h, nil, engine.GetCmd{}), engine.ErrInvalidArgument)
	assert.Equal(t, 0, e.Poll())
}

func TestLockAndObserve(t *testing.T) {
	e := newEngine(t, newServer(t), common.ClientConfig{}, nil)
	ctx := context.Background()
	h, rec := connect(t, e, engine.ConnConfig{})

	require.NoError(t, e.Store(h, nil, engine.StoreCmd{Operation: completion.StoreSet, Key: "k", Value: []byte("v")}))
	require.NoError(t, e.Wait(ctx, h))
	rec.take()

	require.NoError(t, e.Get(h, nil, engine.GetCmd{Key: "k", Lock: time.Second}))
	require.NoError(t, e.Wait(ctx, h))
	got := rec.take()
	require.Len(t, got, 1)
	cas := got[0].Payload.(completion.Get).CAS

	require.NoError(t, e.Store(h, nil, engine.StoreCmd{Operation: completion.StoreSet, Key: "k", Value: []byte("w")}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 1)
	assert.False(t, got[0].Status.OK())

	require.NoError(t, e.Unlock(h, nil, engine.UnlockCmd{Key: "k", CAS: cas}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, completion.StatusSuccess, got[0].Status)

	require.NoError(t, e.Observe(h, "obs", engine.ObserveCmd{Key: "k"}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 2)
	first := got[0].Payload.(completion.Observe)
	assert.Equal(t, "node-1", first.Server)
	assert.Equal(t, completion.ObserveFound, first.State)
	assert.Equal(t, completion.Observe{Key: "k"}, got[1].Payload)
	assert.True(t, completion.Terminal(got[1].Payload))
}

func TestMultiServerOperations(t *testing.T) {
	e := newEngine(t, newServer(t), common.ClientConfig{}, nil)
	ctx := context.Background()
	h, rec := connect(t, e, engine.ConnConfig{})

	require.NoError(t, e.Stats(h, nil, engine.StatsCmd{}))
	require.NoError(t, e.Wait(ctx, h))
	got := rec.take()
	require.GreaterOrEqual(t, len(got), 2)
	for _, c := range got[:len(got)-1] {
		assert.Equal(t, "node-1", c.Payload.(completion.Stat).Server)
	}
	assert.Equal(t, completion.Stat{}, got[len(got)-1].Payload)

	require.NoError(t, e.Version(h, nil, engine.VersionCmd{}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].Payload.(completion.Version).Version)
	assert.Equal(t, completion.Version{}, got[1].Payload)

	require.NoError(t, e.Verbosity(h, nil, engine.VerbosityCmd{Level: 2, Server: "other"}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, completion.StatusUnknownHost, got[0].Status)

	require.NoError(t, e.Flush(h, nil, engine.FlushCmd{}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 2)
	assert.Equal(t, completion.Flush{Server: "node-1"}, got[0].Payload)
	assert.Equal(t, completion.Flush{}, got[1].Payload)
}

func TestNotConnected(t *testing.T) {
	e := newEngine(t, newServer(t), common.ClientConfig{}, nil)
	rec := &recorder{}
	h, err := e.Create(engine.ConnConfig{}, rec.sink)
	require.NoError(t, err)

	require.NoError(t, e.Get(h, "c", engine.GetCmd{Key: "k"}))
	require.NoError(t, e.Wait(context.Background(), h))
	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, completion.StatusAuthError, got[0].Status)
	assert.Equal(t, completion.Get{Key: "k"}, got[0].Payload)
	assert.Equal(t, "c", got[0].Cookie)
}

func TestTransportFailures(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		authenticated := false
		e := newEngine(t, s, common.ClientConfig{}, func(req []byte) []byte {
			if !authenticated {
				authenticated = true
				return s.HandleRequest(req)
			}
			<-release
			return nil
		})
		h, rec := connect(t, e, engine.ConnConfig{})
		require.NoError(t, e.SetTimeout(h, 20*time.Millisecond))
		d, err := e.Timeout(h)
		require.NoError(t, err)
		assert.Equal(t, 20*time.Millisecond, d)

		require.NoError(t, e.Get(h, nil, engine.GetCmd{Key: "k"}))
		require.NoError(t, e.Wait(ctx, h))
		got := rec.take()
		require.Len(t, got, 1)
		assert.Equal(t, completion.StatusEtimedout, got[0].Status)
		assert.Equal(t, completion.Get{Key: "k"}, got[0].Payload)
	})

	t.Run("protocol error", func(t *testing.T) {
		authenticated := false
		e := newEngine(t, s, common.ClientConfig{}, func(req []byte) []byte {
			if !authenticated {
				authenticated = true
				return s.HandleRequest(req)
			}
			return []byte{0xff}
		})
		h, rec := connect(t, e, engine.ConnConfig{})

		require.NoError(t, e.Touch(h, nil, engine.TouchCmd{Key: "k"}))
		require.NoError(t, e.Wait(ctx, h))
		got := rec.take()
		require.Len(t, got, 1)
		assert.Equal(t, completion.StatusProtocolError, got[0].Status)
	})
}

func TestHTTPRequests(t *testing.T) {
	s := newServer(t)
	mgmt := httptest.NewServer(s.Cluster().ManagementHandler())
	defer mgmt.Close()
	views := httptest.NewServer(s.Cluster().ViewHandler())
	defer views.Close()

	e := newEngine(t, s, common.ClientConfig{MgmtEndpoint: mgmt.URL, ViewEndpoint: views.URL}, nil)
	ctx := context.Background()

	h, rec := connect(t, e, engine.ConnConfig{})
	require.NoError(t, e.Store(h, nil, engine.StoreCmd{Operation: completion.StoreSet, Key: "doc", Value: []byte(`{"a":1}`)}))
	require.NoError(t, e.Wait(ctx, h))
	rec.take()

	require.NoError(t, e.HTTPRequest(h, nil, engine.HTTPCmd{Type: completion.HTTPTypeView, Path: "_design/kvbind/_view/all"}))
	require.NoError(t, e.Wait(ctx, h))
	got := rec.take()
	require.Len(t, got, 1)
	resp := got[0].Payload.(completion.HTTPComplete)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "/default/_design/kvbind/_view/all", resp.Path)
	var res cluster.ViewResult
	require.NoError(t, json.Unmarshal(resp.Body, &res))
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "doc", res.Rows[0].ID)

	require.NoError(t, e.HTTPRequest(h, nil, engine.HTTPCmd{Type: completion.HTTPTypeView, Path: "/_all_docs", Chunked: true}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.GreaterOrEqual(t, len(got), 2)
	var body []byte
	for _, c := range got[:len(got)-1] {
		body = append(body, c.Payload.(completion.HTTPData).Chunk...)
	}
	assert.True(t, json.Valid(body))
	assert.Empty(t, got[len(got)-1].Payload.(completion.HTTPComplete).Body)

	require.NoError(t, e.HTTPRequest(h, nil, engine.HTTPCmd{Type: completion.HTTPTypeRaw, Path: "/"}))
	require.NoError(t, e.Wait(ctx, h))
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, completion.StatusNotSupported, got[0].Status)

	admin, adminRec := connect(t, e, engine.ConnConfig{Type: completion.ConnectionCluster, User: "Administrator", Password: "password"})
	require.NoError(t, e.HTTPRequest(admin, nil, engine.HTTPCmd{
		Type:        completion.HTTPTypeManagement,
		Method:      completion.HTTPPost,
		Path:        "/pools/default/buckets",
		Body:        []byte("name=created&ramQuotaMB=100&authType=sasl"),
		ContentType: "application/x-www-form-urlencoded",
	}))
	require.NoError(t, e.Wait(ctx, admin))
	got = adminRec.take()
	require.Len(t, got, 1)
	assert.Equal(t, 202, got[0].Payload.(completion.HTTPComplete).StatusCode)
	_, ok := s.Cluster().Bucket("created")
	assert.True(t, ok)
}

func TestLifecycle(t *testing.T) {
	e := newEngine(t, newServer(t), common.ClientConfig{}, nil)
	h, _ := connect(t, e, engine.ConnConfig{})

	assert.ErrorIs(t, e.SetTimeout(h, 0), engine.ErrInvalidArgument)
	require.NoError(t, e.Destroy(h))
	assert.ErrorIs(t, e.Destroy(h), engine.ErrUnknownHandle)
	assert.ErrorIs(t, e.Get(h, nil, engine.GetCmd{Key: "k"}), engine.ErrUnknownHandle)
	_, err := e.Timeout(h)
	assert.ErrorIs(t, err, engine.ErrUnknownHandle)

	require.NoError(t, e.Close())
	_, err = e.Create(engine.ConnConfig{}, func(completion.Completion) {})
	assert.ErrorIs(t, err, engine.ErrClosed)
}

func TestBindingScenario(t *testing.T) {
	e := newEngine(t, newServer(t), common.ClientConfig{}, nil)
	b := binding.New(e)
	ctx := context.Background()

	conn, err := b.Create(engine.ConnConfig{})
	require.NoError(t, err)
	var statuses []completion.Status
	record := slots.ContinuationFunc(func(c completion.Completion) {
		statuses = append(statuses, c.Status)
	})
	require.NoError(t, conn.SetCallback(completion.KindConfiguration, record))
	require.NoError(t, conn.SetCallback(completion.KindStore, record))

	var values []string
	require.NoError(t, conn.SetCallback(completion.KindGet, slots.ContinuationFunc(func(c completion.Completion) {
		values = append(values, string(c.Payload.(completion.Get).Value))
	})))

	require.NoError(t, conn.Connect())
	require.NoError(t, conn.Wait(ctx))
	require.NoError(t, conn.Store(nil, engine.StoreCmd{Operation: completion.StoreSet, Key: "x", Value: []byte("42")}))
	require.NoError(t, conn.Wait(ctx))
	require.NoError(t, conn.Get(nil, engine.GetCmd{Key: "x"}))
	require.NoError(t, conn.Wait(ctx))

	assert.Equal(t, []completion.Status{completion.StatusSuccess, completion.StatusSuccess}, statuses)
	assert.Equal(t, []string{"42"}, values)
	require.NoError(t, conn.Destroy())
}
