package redisengine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/engine"
	"github.com/ValentinKolb/kvbind/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

var _ engine.Engine = (*Engine)(nil)

type conn struct {
	cfg       engine.ConnConfig
	connected atomic.Bool
	timeout   atomic.Int64
}

// Engine executes operations against a Redis server
type Engine struct {
	client redis.UniversalClient
	server string
	loop   *engine.Loop
	conns  *xsync.MapOf[completion.Handle, *conn]
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	now    func() time.Time
}

// New creates an engine using client. server names the Redis node in
// server scoped completions.
func New(client redis.UniversalClient, server string) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		client: client,
		server: server,
		loop:   engine.NewLoop(),
		conns:  xsync.NewMapOf[completion.Handle, *conn](),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
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
	if cfg.Type != completion.ConnectionBucket {
		return completion.NilHandle, fmt.Errorf("%w: redis engine supports bucket connections only", engine.ErrInvalidArgument)
	}

	h := completion.NewHandle()
	if err := e.loop.Register(h, sink); err != nil {
		return completion.NilHandle, err
	}
	c := &conn{cfg: cfg}
	c.timeout.Store(int64(cfg.Timeout))
	e.conns.Store(h, c)
	return h, nil
}

// Connect pings the server. Authentication is part of the Redis client
// options, the connection credentials are not used.
func (e *Engine) Connect(h completion.Handle) error {
	c, err := e.begin(h)
	if err != nil {
		return err
	}
	go func() {
		ctx, cancel := e.opContext(c)
		defer cancel()

		if err := e.client.Ping(ctx).Err(); err != nil {
			status := statusOf(err)
			if status == completion.StatusNetworkError {
				status = completion.StatusConnectError
			}
			e.loop.Push(completion.Completion{Handle: h, Status: status, Payload: completion.Error{Info: err.Error()}}, true)
			return
		}
		state := completion.ConfigNew
		if !c.connected.CompareAndSwap(false, true) {
			state = completion.ConfigUnchanged
		}
		e.loop.Push(completion.Completion{Handle: h, Payload: completion.Configuration{State: state}}, true)
	}()
	return nil
}

func (e *Engine) Get(h completion.Handle, cookie any, cmd engine.GetCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Get{Key: cmd.Key}, func(ctx context.Context, c *conn) []result {
		key, casKey := itemKey(c.cfg.Bucket, cmd.Key), casKey(c.cfg.Bucket)
		if cmd.Lock > 0 {
			until := e.now().Add(cmd.LockDuration()).UnixMilli()
			res, err := getAndLockScript.Run(ctx, e.client, []string{key, casKey}, e.now().UnixMilli(), until).Slice()
			if err != nil {
				return single(statusOf(err), completion.Get{Key: cmd.Key})
			}
			return single(completion.StatusSuccess, completion.Get{
				Key: cmd.Key, Value: toBytes(res[0]), Flags: uint32(toUint(res[1])), CAS: toUint(res[2]),
			})
		}

		vals, err := e.client.HMGet(ctx, key, "v", "f", "c").Result()
		if err != nil {
			return single(statusOf(err), completion.Get{Key: cmd.Key})
		}
		if vals[0] == nil {
			return single(completion.StatusKeyEnoent, completion.Get{Key: cmd.Key})
		}
		return single(completion.StatusSuccess, completion.Get{
			Key: cmd.Key, Value: toBytes(vals[0]), Flags: uint32(toUint(vals[1])), CAS: toUint(vals[2]),
		})
	})
}

func (e *Engine) Store(h completion.Handle, cookie any, cmd engine.StoreCmd) error {
	failed := completion.Store{Operation: cmd.Operation, Key: cmd.Key}
	return e.run(h, cookie, cmd.Validate(), failed, func(ctx context.Context, c *conn) []result {
		if len(cmd.Value) > store.MaxValueSize {
			return single(completion.StatusE2Big, failed)
		}
		cas, err := storeScript.Run(ctx, e.client, []string{itemKey(c.cfg.Bucket, cmd.Key), casKey(c.cfg.Bucket)},
			e.now().UnixMilli(), int(cmd.Operation), cmd.Value, cmd.Flags, e.expireAt(cmd.Expiry), cmd.CAS).Uint64()
		if err != nil {
			return single(statusOf(err), failed)
		}
		return single(completion.StatusSuccess, completion.Store{Operation: cmd.Operation, Key: cmd.Key, CAS: cas})
	})
}

func (e *Engine) Remove(h completion.Handle, cookie any, cmd engine.RemoveCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Remove{Key: cmd.Key}, func(ctx context.Context, c *conn) []result {
		cas, err := removeScript.Run(ctx, e.client, []string{itemKey(c.cfg.Bucket, cmd.Key), casKey(c.cfg.Bucket)},
			e.now().UnixMilli(), cmd.CAS).Uint64()
		if err != nil {
			return single(statusOf(err), completion.Remove{Key: cmd.Key})
		}
		return single(completion.StatusSuccess, completion.Remove{Key: cmd.Key, CAS: cas})
	})
}

func (e *Engine) Arithmetic(h completion.Handle, cookie any, cmd engine.ArithmeticCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Arithmetic{Key: cmd.Key}, func(ctx context.Context, c *conn) []result {
		create := 0
		if cmd.Create {
			create = 1
		}
		res, err := arithmeticScript.Run(ctx, e.client, []string{itemKey(c.cfg.Bucket, cmd.Key), casKey(c.cfg.Bucket)},
			e.now().UnixMilli(), cmd.Delta, cmd.Initial, create, e.expireAt(cmd.Expiry)).Slice()
		if err != nil {
			return single(statusOf(err), completion.Arithmetic{Key: cmd.Key})
		}
		return single(completion.StatusSuccess, completion.Arithmetic{Key: cmd.Key, Value: toUint(res[0]), CAS: toUint(res[1])})
	})
}

func (e *Engine) Stats(h completion.Handle, cookie any, cmd engine.StatsCmd) error {
	return e.run(h, cookie, nil, completion.Stat{}, func(ctx context.Context, _ *conn) []result {
		var info string
		var err error
		if cmd.Name == "" {
			info, err = e.client.Info(ctx).Result()
		} else {
			info, err = e.client.Info(ctx, cmd.Name).Result()
		}
		if err != nil {
			return single(statusOf(err), completion.Stat{})
		}
		stats := parseInfo(info)
		if len(stats) == 0 {
			return single(completion.StatusKeyEnoent, completion.Stat{})
		}
		out := make([]result, 0, len(stats)+1)
		for _, st := range stats {
			out = append(out, result{completion.StatusSuccess, completion.Stat{Server: e.server, Key: st.Key, Value: []byte(st.Value)}})
		}
		return append(out, result{completion.StatusSuccess, completion.Stat{}})
	})
}

// Flush deletes the items and the CAS counter of the bucket
func (e *Engine) Flush(h completion.Handle, cookie any, _ engine.FlushCmd) error {
	return e.run(h, cookie, nil, completion.Flush{}, func(ctx context.Context, c *conn) []result {
		iter := e.client.Scan(ctx, 0, bucketPrefix(c.cfg.Bucket)+"*", 512).Iterator()
		batch := make([]string, 0, 512)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == cap(batch) {
				if err := e.client.Unlink(ctx, batch...).Err(); err != nil {
					return single(statusOf(err), completion.Flush{})
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return single(statusOf(err), completion.Flush{})
		}
		batch = append(batch, casKey(c.cfg.Bucket))
		if err := e.client.Unlink(ctx, batch...).Err(); err != nil {
			return single(statusOf(err), completion.Flush{})
		}
		return []result{
			{completion.StatusSuccess, completion.Flush{Server: e.server}},
			{completion.StatusSuccess, completion.Flush{}},
		}
	})
}

func (e *Engine) Observe(h completion.Handle, cookie any, cmd engine.ObserveCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Observe{Key: cmd.Key}, func(ctx context.Context, c *conn) []result {
		cas, err := e.client.HGet(ctx, itemKey(c.cfg.Bucket, cmd.Key), "c").Uint64()
		state := completion.ObserveFound
		if errors.Is(err, redis.Nil) {
			state, err = completion.ObserveNotFound, nil
		}
		if err != nil {
			return single(statusOf(err), completion.Observe{Key: cmd.Key})
		}
		return []result{
			{completion.StatusSuccess, completion.Observe{Key: cmd.Key, Server: e.server, State: state, CAS: cas, Master: true}},
			{completion.StatusSuccess, completion.Observe{Key: cmd.Key}},
		}
	})
}

func (e *Engine) Touch(h completion.Handle, cookie any, cmd engine.TouchCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Touch{Key: cmd.Key}, func(ctx context.Context, c *conn) []result {
		cas, err := touchScript.Run(ctx, e.client, []string{itemKey(c.cfg.Bucket, cmd.Key), casKey(c.cfg.Bucket)},
			e.now().UnixMilli(), e.expireAt(cmd.Expiry)).Uint64()
		if err != nil {
			return single(statusOf(err), completion.Touch{Key: cmd.Key})
		}
		return single(completion.StatusSuccess, completion.Touch{Key: cmd.Key, CAS: cas})
	})
}

func (e *Engine) Unlock(h completion.Handle, cookie any, cmd engine.UnlockCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Unlock{Key: cmd.Key}, func(ctx context.Context, c *conn) []result {
		err := unlockScript.Run(ctx, e.client, []string{itemKey(c.cfg.Bucket, cmd.Key)}, e.now().UnixMilli(), cmd.CAS).Err()
		return single(statusOf(err), completion.Unlock{Key: cmd.Key})
	})
}

// Verbosity maps the level to the Redis loglevel setting
func (e *Engine) Verbosity(h completion.Handle, cookie any, cmd engine.VerbosityCmd) error {
	return e.run(h, cookie, nil, completion.Verbosity{}, func(ctx context.Context, _ *conn) []result {
		if cmd.Server != "" && cmd.Server != e.server {
			return single(completion.StatusUnknownHost, completion.Verbosity{})
		}
		if err := e.client.ConfigSet(ctx, "loglevel", logLevel(cmd.Level)).Err(); err != nil {
			return single(statusOf(err), completion.Verbosity{})
		}
		return []result{
			{completion.StatusSuccess, completion.Verbosity{Server: e.server}},
			{completion.StatusSuccess, completion.Verbosity{}},
		}
	})
}

func (e *Engine) Version(h completion.Handle, cookie any, _ engine.VersionCmd) error {
	return e.run(h, cookie, nil, completion.Version{}, func(ctx context.Context, _ *conn) []result {
		info, err := e.client.Info(ctx, "server").Result()
		if err != nil {
			return single(statusOf(err), completion.Version{})
		}
		version := ""
		for _, st := range parseInfo(info) {
			if st.Key == "redis_version" {
				version = st.Value
			}
		}
		return []result{
			{completion.StatusSuccess, completion.Version{Server: e.server, Version: version}},
			{completion.StatusSuccess, completion.Version{}},
		}
	})
}

func (e *Engine) HTTPRequest(h completion.Handle, cookie any, cmd engine.HTTPCmd) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if _, err := e.begin(h); err != nil {
		return err
	}
	e.loop.Push(completion.Completion{
		Handle: h, Cookie: cookie, Status: completion.StatusNotSupported,
		Payload: completion.HTTPComplete{Path: cmd.Path},
	}, true)
	return nil
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

// Close destroys all connections and cancels the running operations. The
// Redis client is owned by the caller and stays open.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()
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

func (e *Engine) opContext(c *conn) (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, time.Duration(c.timeout.Load()))
}

// run validates and records an operation and executes op on a new goroutine
func (e *Engine) run(h completion.Handle, cookie any, invalid error, failed completion.Payload, op func(ctx context.Context, c *conn) []result) error {
	if invalid != nil {
		return invalid
	}
	c, err := e.begin(h)
	if err != nil {
		return err
	}
	if !c.connected.Load() {
		e.loop.Push(completion.Completion{Handle: h, Cookie: cookie, Status: completion.StatusAuthError, Payload: failed}, true)
		return nil
	}

	go func() {
		ctx, cancel := e.opContext(c)
		defer cancel()

		results := op(ctx, c)
		seq := make([]completion.Completion, len(results))
		for i, r := range results {
			seq[i] = completion.Completion{Handle: h, Cookie: cookie, Status: r.status, Payload: r.payload}
		}
		e.loop.PushSequence(seq)
	}()
	return nil
}

// expireAt converts a memcached expiry to a unix millisecond deadline (0 = none)
func (e *Engine) expireAt(expiry uint32) int64 {
	t := store.ExpiryTime(expiry, e.now())
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func bucketPrefix(bucket string) string {
	return "kvbind:{" + bucket + "}:k:"
}

func itemKey(bucket, key string) string {
	return bucketPrefix(bucket) + key
}

func casKey(bucket string) string {
	return "kvbind:{" + bucket + "}:cas"
}

// statusOf maps Redis and script errors to completion statuses
func statusOf(err error) completion.Status {
	if err == nil {
		return completion.StatusSuccess
	}
	if errors.Is(err, redis.Nil) {
		return completion.StatusKeyEnoent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return completion.StatusEtimedout
	}
	if errors.Is(err, context.Canceled) {
		return completion.StatusNetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return completion.StatusEtimedout
		}
		return completion.StatusNetworkError
	}

	switch msg := err.Error(); {
	case msg == "KEY_ENOENT":
		return completion.StatusKeyEnoent
	case msg == "KEY_EEXISTS":
		return completion.StatusKeyEexists
	case msg == "NOT_STORED":
		return completion.StatusNotStored
	case msg == "LOCKED", msg == "NOT_LOCKED":
		return completion.StatusEtmpfail
	case msg == "DELTA_BADVAL":
		return completion.StatusDeltaBadval
	case strings.HasPrefix(msg, "NOAUTH"), strings.HasPrefix(msg, "WRONGPASS"):
		return completion.StatusAuthError
	case strings.HasPrefix(msg, "LOADING"), strings.HasPrefix(msg, "BUSY"):
		return completion.StatusEbusy
	case strings.HasPrefix(msg, "ERR unknown command"):
		return completion.StatusUnknownCommand
	case strings.HasPrefix(msg, "OOM"):
		return completion.StatusEnomem
	default:
		return completion.StatusError
	}
}

// parseInfo splits the output of INFO into key/value pairs
func parseInfo(info string) []store.Stat {
	var stats []store.Stat
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		stats = append(stats, store.Stat{Key: k, Value: v})
	}
	return stats
}

func logLevel(level uint8) string {
	switch level {
	case 0:
		return "warning"
	case 1:
		return "notice"
	case 2:
		return "verbose"
	default:
		return "debug"
	}
}

func toBytes(v any) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	case nil:
		return []byte{}
	default:
		return []byte(fmt.Sprint(t))
	}
}

func toUint(v any) uint64 {
	switch t := v.(type) {
	case int64:
		return uint64(t)
	case string:
		n, _ := strconv.ParseUint(t, 10, 64)
		return n
	default:
		return 0
	}
}
