package local

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvbind/lib/cluster"
	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/engine"
	"github.com/ValentinKolb/kvbind/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// ChunkSize is the size of the HTTPData chunks of a chunked HTTP request
const ChunkSize = 4096

type conn struct {
	cfg       engine.ConnConfig
	connected atomic.Bool
	timeout   atomic.Int64
}

var _ engine.Engine = (*Engine)(nil)

// Engine executes operations against a cluster.Cluster
type Engine struct {
	cluster    *cluster.Cluster
	loop       *engine.Loop
	conns      *xsync.MapOf[completion.Handle, *conn]
	management http.Handler
	views      http.Handler
	closed     atomic.Bool
}

// New creates an engine for c
func New(c *cluster.Cluster) *Engine {
	return &Engine{
		cluster:    c,
		loop:       engine.NewLoop(),
		conns:      xsync.NewMapOf[completion.Handle, *conn](),
		management: c.ManagementHandler(),
		views:      c.ViewHandler(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see engine/interface.go)
// --------------------------------------------------------------------------

func (e *Engine) Create(cfg engine.ConnConfig, sink engine.Sink) (completion.Handle, error) {
	if e.closed.Load() {
		return completion.NilHandle, engine.ErrClosed
	}
	if err := cfg.Validate(); err != nil {
		return completion.NilHandle, err
	}

	h := completion.NewHandle()
	if err := e.loop.Register(h, sink); err != nil {
		return completion.NilHandle, err
	}
	c := &conn{cfg: cfg}
	c.timeout.Store(int64(cfg.Timeout))
	e.conns.Store(h, c)
	engine.Logger.Debugf("local connection %s created\n%s", h, cfg)
	return h, nil
}

func (e *Engine) Connect(h completion.Handle) error {
	c, err := e.begin(h)
	if err != nil {
		return err
	}

	if c.connected.Load() {
		e.push(h, nil, completion.StatusSuccess, completion.Configuration{State: completion.ConfigUnchanged})
		return nil
	}

	var status completion.Status
	if c.cfg.Type == completion.ConnectionCluster {
		status = completion.StatusAuthError
		if e.cluster.AuthenticateAdmin(c.cfg.User, c.cfg.Password) {
			status = completion.StatusSuccess
		}
	} else {
		status = e.cluster.Authenticate(c.cfg.Bucket, c.cfg.User, c.cfg.Password)
	}

	if !status.OK() {
		e.push(h, nil, status, completion.Error{Info: fmt.Sprintf("connect to %q failed: %s", c.cfg.Bucket, status.Strerror())})
		return nil
	}
	c.connected.Store(true)
	e.push(h, nil, completion.StatusSuccess, completion.Configuration{State: completion.ConfigNew})
	return nil
}

func (e *Engine) Get(h completion.Handle, cookie any, cmd engine.GetCmd) error {
	return e.runKV(h, cookie, cmd.Validate(), completion.Get{Key: cmd.Key}, func(s store.IStore, _ *conn) []result {
		var item store.Item
		var err error
		if cmd.Lock > 0 {
			item, err = s.GetAndLock(cmd.Key, cmd.LockDuration())
		} else {
			item, err = s.Get(cmd.Key)
		}
		if err != nil {
			return single(cluster.StatusOf(err), completion.Get{Key: cmd.Key})
		}
		return single(completion.StatusSuccess, completion.Get{Key: item.Key, Value: item.Value, Flags: item.Flags, CAS: item.CAS})
	})
}

func (e *Engine) Store(h completion.Handle, cookie any, cmd engine.StoreCmd) error {
	return e.runKV(h, cookie, cmd.Validate(), completion.Store{Operation: cmd.Operation, Key: cmd.Key}, func(s store.IStore, _ *conn) []result {
		cas, err := s.Store(store.Mode(cmd.Operation), cmd.Key, cmd.Value, cmd.Flags, cmd.Expiry, cmd.CAS)
		return single(cluster.StatusOf(err), completion.Store{Operation: cmd.Operation, Key: cmd.Key, CAS: cas})
	})
}

func (e *Engine) Remove(h completion.Handle, cookie any, cmd engine.RemoveCmd) error {
	return e.runKV(h, cookie, cmd.Validate(), completion.Remove{Key: cmd.Key}, func(s store.IStore, _ *conn) []result {
		cas, err := s.Remove(cmd.Key, cmd.CAS)
		return single(cluster.StatusOf(err), completion.Remove{Key: cmd.Key, CAS: cas})
	})
}

func (e *Engine) Arithmetic(h completion.Handle, cookie any, cmd engine.ArithmeticCmd) error {
	return e.runKV(h, cookie, cmd.Validate(), completion.Arithmetic{Key: cmd.Key}, func(s store.IStore, _ *conn) []result {
		value, cas, err := s.Arithmetic(cmd.Key, cmd.Delta, cmd.Initial, cmd.Create, cmd.Expiry)
		return single(cluster.StatusOf(err), completion.Arithmetic{Key: cmd.Key, Value: value, CAS: cas})
	})
}

func (e *Engine) Stats(h completion.Handle, cookie any, cmd engine.StatsCmd) error {
	return e.runKV(h, cookie, nil, completion.Stat{}, func(_ store.IStore, c *conn) []result {
		stats, status := e.cluster.Stats(c.cfg.Bucket, cmd.Name)
		if !status.OK() {
			return single(status, completion.Stat{})
		}
		node := e.cluster.NodeName()
		out := make([]result, 0, len(stats)+1)
		for _, st := range stats {
			out = append(out, result{completion.StatusSuccess, completion.Stat{Server: node, Key: st.Key, Value: []byte(st.Value)}})
		}
		return append(out, result{completion.StatusSuccess, completion.Stat{}})
	})
}

func (e *Engine) Flush(h completion.Handle, cookie any, _ engine.FlushCmd) error {
	return e.runKV(h, cookie, nil, completion.Flush{}, func(s store.IStore, _ *conn) []result {
		if err := s.Flush(); err != nil {
			return single(cluster.StatusOf(err), completion.Flush{})
		}
		return []result{
			{completion.StatusSuccess, completion.Flush{Server: e.cluster.NodeName()}},
			{completion.StatusSuccess, completion.Flush{}},
		}
	})
}

func (e *Engine) Observe(h completion.Handle, cookie any, cmd engine.ObserveCmd) error {
	return e.runKV(h, cookie, cmd.Validate(), completion.Observe{Key: cmd.Key}, func(s store.IStore, _ *conn) []result {
		cas, found, err := s.Observe(cmd.Key)
		if err != nil {
			return single(cluster.StatusOf(err), completion.Observe{Key: cmd.Key})
		}
		state := completion.ObserveNotFound
		if found {
			state = completion.ObserveFound
		}
		return []result{
			{completion.StatusSuccess, completion.Observe{Key: cmd.Key, Server: e.cluster.NodeName(), State: state, CAS: cas, Master: true}},
			{completion.StatusSuccess, completion.Observe{Key: cmd.Key}},
		}
	})
}

func (e *Engine) Touch(h completion.Handle, cookie any, cmd engine.TouchCmd) error {
	return e.runKV(h, cookie, cmd.Validate(), completion.Touch{Key: cmd.Key}, func(s store.IStore, _ *conn) []result {
		cas, err := s.Touch(cmd.Key, cmd.Expiry)
		return single(cluster.StatusOf(err), completion.Touch{Key: cmd.Key, CAS: cas})
	})
}

func (e *Engine) Unlock(h completion.Handle, cookie any, cmd engine.UnlockCmd) error {
	return e.runKV(h, cookie, cmd.Validate(), completion.Unlock{Key: cmd.Key}, func(s store.IStore, _ *conn) []result {
		return single(cluster.StatusOf(s.Unlock(cmd.Key, cmd.CAS)), completion.Unlock{Key: cmd.Key})
	})
}

func (e *Engine) Verbosity(h completion.Handle, cookie any, cmd engine.VerbosityCmd) error {
	return e.issue(h, cookie, nil, completion.Verbosity{}, func(*conn) []result {
		node := e.cluster.NodeName()
		if cmd.Server != "" && cmd.Server != node {
			return single(completion.StatusUnknownHost, completion.Verbosity{})
		}
		e.cluster.SetVerbosity(cmd.Level)
		return []result{
			{completion.StatusSuccess, completion.Verbosity{Server: node}},
			{completion.StatusSuccess, completion.Verbosity{}},
		}
	})
}

func (e *Engine) Version(h completion.Handle, cookie any, _ engine.VersionCmd) error {
	return e.issue(h, cookie, nil, completion.Version{}, func(*conn) []result {
		return []result{
			{completion.StatusSuccess, completion.Version{Server: e.cluster.NodeName(), Version: e.cluster.Version()}},
			{completion.StatusSuccess, completion.Version{}},
		}
	})
}

func (e *Engine) HTTPRequest(h completion.Handle, cookie any, cmd engine.HTTPCmd) error {
	path := cmd.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	failed := completion.HTTPComplete{Path: path}

	return e.issue(h, cookie, cmd.Validate(), failed, func(c *conn) []result {
		var handler http.Handler
		switch cmd.Type {
		case completion.HTTPTypeView:
			handler = e.views
			if c.cfg.Type == completion.ConnectionBucket {
				path = "/" + c.cfg.Bucket + path
			}
		case completion.HTTPTypeManagement:
			handler = e.management
		default:
			return single(completion.StatusNotSupported, failed)
		}

		req := httptest.NewRequest(cmd.Method.String(), path, bytes.NewReader(cmd.Body))
		if cmd.ContentType != "" {
			req.Header.Set("Content-Type", cmd.ContentType)
		}
		if c.cfg.User != "" || c.cfg.Password != "" {
			req.SetBasicAuth(c.cfg.User, c.cfg.Password)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		resp := rec.Result()
		body := rec.Body.Bytes()
		if !cmd.Chunked {
			return single(completion.StatusSuccess, completion.HTTPComplete{
				StatusCode: resp.StatusCode, Path: path, Headers: resp.Header, Body: body,
			})
		}

		out := make([]result, 0, len(body)/ChunkSize+2)
		for len(body) > 0 {
			n := min(ChunkSize, len(body))
			out = append(out, result{completion.StatusSuccess, completion.HTTPData{
				StatusCode: resp.StatusCode, Path: path, Headers: resp.Header, Chunk: body[:n],
			}})
			body = body[n:]
		}
		return append(out, result{completion.StatusSuccess, completion.HTTPComplete{
			StatusCode: resp.StatusCode, Path: path, Headers: resp.Header,
		}})
	})
}

func (e *Engine) Poll() int {
	return e.loop.Poll()
}

func (e *Engine) Wait(ctx context.Context, h completion.Handle) error {
	if _, ok := e.conns.Load(h); !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownHandle, h)
	}
	return e.loop.Wait(ctx, h)
}

func (e *Engine) Destroy(h completion.Handle) error {
	if _, ok := e.conns.LoadAndDelete(h); !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownHandle, h)
	}
	engine.Logger.Debugf("local connection %s destroyed", h)
	return e.loop.Unregister(h)
}

func (e *Engine) Timeout(h completion.Handle) (time.Duration, error) {
	c, ok := e.conns.Load(h)
	if !ok {
		return 0, fmt.Errorf("%w: %s", engine.ErrUnknownHandle, h)
	}
	return time.Duration(c.timeout.Load()), nil
}

func (e *Engine) SetTimeout(h completion.Handle, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: timeout must be positive", engine.ErrInvalidArgument)
	}
	c, ok := e.conns.Load(h)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownHandle, h)
	}
	c.timeout.Store(int64(d))
	return nil
}

func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.conns.Range(func(h completion.Handle, _ *conn) bool {
		_ = e.Destroy(h)
		return true
	})
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

type result struct {
	status  completion.Status
	payload completion.Payload
}

func single(status completion.Status, p completion.Payload) []result {
	return []result{{status, p}}
}

// begin looks up h and records a new operation on the loop
func (e *Engine) begin(h completion.Handle) (*conn, error) {
	c, ok := e.conns.Load(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownHandle, h)
	}
	if err := e.loop.Begin(h); err != nil {
		return nil, err
	}
	return c, nil
}

// runKV executes a key-value operation on the bucket of h. Operations of
// connections that are not connected complete with StatusAuthError and the
// failed payload.
func (e *Engine) runKV(h completion.Handle, cookie any, invalid error, failed completion.Payload, op func(s store.IStore, c *conn) []result) error {
	return e.issue(h, cookie, invalid, failed, func(c *conn) []result {
		b, ok := e.cluster.Bucket(c.cfg.Bucket)
		if !ok || c.cfg.Type != completion.ConnectionBucket {
			return single(completion.StatusBucketEnoent, failed)
		}
		return op(b.Store(), c)
	})
}

// issue validates, records and executes one operation and queues its
// completions
func (e *Engine) issue(h completion.Handle, cookie any, invalid error, failed completion.Payload, op func(c *conn) []result) error {
	if invalid != nil {
		return invalid
	}
	c, err := e.begin(h)
	if err != nil {
		return err
	}
	if !c.connected.Load() {
		e.push(h, cookie, completion.StatusAuthError, failed)
		return nil
	}

	results := op(c)
	seq := make([]completion.Completion, len(results))
	for i, r := range results {
		seq[i] = completion.Completion{Handle: h, Cookie: cookie, Status: r.status, Payload: r.payload}
	}
	e.loop.PushSequence(seq)
	return nil
}

func (e *Engine) push(h completion.Handle, cookie any, status completion.Status, p completion.Payload) {
	e.loop.Push(completion.Completion{Handle: h, Cookie: cookie, Status: status, Payload: p}, true)
}
