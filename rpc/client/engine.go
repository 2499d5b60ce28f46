package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/engine"
	"github.com/ValentinKolb/kvbind/rpc/common"
	"github.com/ValentinKolb/kvbind/rpc/serializer"
	"github.com/ValentinKolb/kvbind/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// ChunkSize is the read size of chunked HTTP responses
const ChunkSize = 4096

type conn struct {
	cfg     engine.ConnConfig
	token   atomic.Pointer[string]
	timeout atomic.Int64
}

// connected reports whether Connect succeeded and returns the session token
func (c *conn) session() (string, bool) {
	t := c.token.Load()
	if t == nil {
		return "", false
	}
	return *t, true
}

var _ engine.Engine = (*Engine)(nil)

// Engine implements engine.Engine against a remote node. Every operation
// runs on its own goroutine and pushes its completions into the loop.
type Engine struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	http       *http.Client
	loop       *engine.Loop
	conns      *xsync.MapOf[completion.Handle, *conn]
	ctx        context.Context
	cancel     context.CancelFunc
	closed     atomic.Bool
}

// NewRemoteEngine creates a new remote engine
// The function connects the transport with the given configuration
//
// Usage:
//
//	e, err := client.NewRemoteEngine(
//		common.ClientConfig{Endpoints: []string{"localhost:11210"}, TimeoutSecond: 5},
//		tcp.NewTCPClientTransport(),
//		serializer.NewBinarySerializer(),
//	)
func NewRemoteEngine(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		config:     config,
		transport:  transport,
		serializer: serializer,
		http:       &http.Client{},
		loop:       engine.NewLoop(),
		conns:      xsync.NewMapOf[completion.Handle, *conn](),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
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
	Logger.Debugf("remote connection %s created\n%s", h, cfg)
	return h, nil
}

func (e *Engine) Connect(h completion.Handle) error {
	c, err := e.begin(h)
	if err != nil {
		return err
	}
	if _, ok := c.session(); ok {
		e.loop.Push(completion.Completion{Handle: h, Payload: completion.Configuration{State: completion.ConfigUnchanged}}, true)
		return nil
	}

	bucket := c.cfg.Bucket
	if c.cfg.Type == completion.ConnectionCluster {
		bucket = ""
	}
	req := common.NewAuthRequest(bucket, c.cfg.User, c.cfg.Password)

	go func() {
		ctx, cancel := e.opContext(c)
		defer cancel()

		resp, err := invokeRPCRequest(ctx, req, e.transport, e.serializer)
		if err != nil {
			status := statusOf(err)
			if status == completion.StatusNetworkError {
				status = completion.StatusConnectError
			}
			e.loop.Push(completion.Completion{Handle: h, Status: status, Payload: completion.Error{Info: err.Error()}}, true)
			return
		}
		status := completion.Status(resp.Status)
		if !status.OK() {
			e.loop.Push(completion.Completion{Handle: h, Status: status, Payload: completion.Error{
				Info: fmt.Sprintf("connect to %q failed: %s", c.cfg.Bucket, status.Strerror()),
			}}, true)
			return
		}

		state := completion.ConfigNew
		if !c.token.CompareAndSwap(nil, &resp.Token) {
			state = completion.ConfigUnchanged
		}
		e.loop.Push(completion.Completion{Handle: h, Payload: completion.Configuration{State: state}}, true)
	}()
	return nil
}

func (e *Engine) Get(h completion.Handle, cookie any, cmd engine.GetCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Get{Key: cmd.Key},
		func(token string) *common.Message {
			return common.NewGetRequest(token, cmd.Key, cmd.LockDuration())
		},
		func(resp *common.Message) []result {
			return single(resp, completion.Get{Key: cmd.Key, Value: resp.Value, Flags: resp.Flags, CAS: resp.CAS})
		})
}

func (e *Engine) Store(h completion.Handle, cookie any, cmd engine.StoreCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Store{Operation: cmd.Operation, Key: cmd.Key},
		func(token string) *common.Message {
			return common.NewStoreRequest(token, uint8(cmd.Operation), cmd.Key, cmd.Value, cmd.Flags, cmd.Expiry, cmd.CAS)
		},
		func(resp *common.Message) []result {
			return single(resp, completion.Store{Operation: cmd.Operation, Key: cmd.Key, CAS: resp.CAS})
		})
}

func (e *Engine) Remove(h completion.Handle, cookie any, cmd engine.RemoveCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Remove{Key: cmd.Key},
		func(token string) *common.Message {
			return common.NewRemoveRequest(token, cmd.Key, cmd.CAS)
		},
		func(resp *common.Message) []result {
			return single(resp, completion.Remove{Key: cmd.Key, CAS: resp.CAS})
		})
}

func (e *Engine) Arithmetic(h completion.Handle, cookie any, cmd engine.ArithmeticCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Arithmetic{Key: cmd.Key},
		func(token string) *common.Message {
			return common.NewArithmeticRequest(token, cmd.Key, cmd.Delta, cmd.Initial, cmd.Create, cmd.Expiry)
		},
		func(resp *common.Message) []result {
			return single(resp, completion.Arithmetic{Key: cmd.Key, Value: resp.Initial, CAS: resp.CAS})
		})
}

func (e *Engine) Stats(h completion.Handle, cookie any, cmd engine.StatsCmd) error {
	return e.run(h, cookie, nil, completion.Stat{},
		func(token string) *common.Message {
			return common.NewStatsRequest(token, cmd.Name)
		},
		func(resp *common.Message) []result {
			status := completion.Status(resp.Status)
			if !status.OK() {
				return []result{{status, completion.Stat{}}}
			}
			out := make([]result, 0, len(resp.Rows)+1)
			for _, row := range resp.Rows {
				out = append(out, result{status, completion.Stat{Server: resp.Server, Key: row.Key, Value: row.Value}})
			}
			return append(out, result{status, completion.Stat{}})
		})
}

func (e *Engine) Flush(h completion.Handle, cookie any, _ engine.FlushCmd) error {
	return e.run(h, cookie, nil, completion.Flush{},
		common.NewFlushRequest,
		func(resp *common.Message) []result {
			return terminated(resp, completion.Flush{Server: resp.Server}, completion.Flush{})
		})
}

func (e *Engine) Observe(h completion.Handle, cookie any, cmd engine.ObserveCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Observe{Key: cmd.Key},
		func(token string) *common.Message {
			return common.NewObserveRequest(token, cmd.Key)
		},
		func(resp *common.Message) []result {
			return terminated(resp,
				completion.Observe{Key: cmd.Key, Server: resp.Server, State: completion.ObserveState(resp.Mode), CAS: resp.CAS, Master: true},
				completion.Observe{Key: cmd.Key})
		})
}

func (e *Engine) Touch(h completion.Handle, cookie any, cmd engine.TouchCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Touch{Key: cmd.Key},
		func(token string) *common.Message {
			return common.NewTouchRequest(token, cmd.Key, cmd.Expiry)
		},
		func(resp *common.Message) []result {
			return single(resp, completion.Touch{Key: cmd.Key, CAS: resp.CAS})
		})
}

func (e *Engine) Unlock(h completion.Handle, cookie any, cmd engine.UnlockCmd) error {
	return e.run(h, cookie, cmd.Validate(), completion.Unlock{Key: cmd.Key},
		func(token string) *common.Message {
			return common.NewUnlockRequest(token, cmd.Key, cmd.CAS)
		},
		func(resp *common.Message) []result {
			return single(resp, completion.Unlock{Key: cmd.Key})
		})
}

func (e *Engine) Verbosity(h completion.Handle, cookie any, cmd engine.VerbosityCmd) error {
	return e.run(h, cookie, nil, completion.Verbosity{},
		func(token string) *common.Message {
			return common.NewVerbosityRequest(token, cmd.Level, cmd.Server)
		},
		func(resp *common.Message) []result {
			return terminated(resp, completion.Verbosity{Server: resp.Server}, completion.Verbosity{})
		})
}

func (e *Engine) Version(h completion.Handle, cookie any, _ engine.VersionCmd) error {
	return e.run(h, cookie, nil, completion.Version{},
		common.NewVersionRequest,
		func(resp *common.Message) []result {
			return terminated(resp, completion.Version{Server: resp.Server, Version: string(resp.Value)}, completion.Version{})
		})
}

func (e *Engine) HTTPRequest(h completion.Handle, cookie any, cmd engine.HTTPCmd) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	path := cmd.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	failed := completion.HTTPComplete{Path: path}

	c, err := e.begin(h)
	if err != nil {
		return err
	}
	if _, ok := c.session(); !ok {
		e.loop.Push(completion.Completion{Handle: h, Cookie: cookie, Status: completion.StatusAuthError, Payload: failed}, true)
		return nil
	}

	var base string
	switch cmd.Type {
	case completion.HTTPTypeView:
		base = e.config.ViewEndpoint
		if c.cfg.Type == completion.ConnectionBucket {
			path = "/" + c.cfg.Bucket + path
		}
	case completion.HTTPTypeManagement:
		base = e.config.MgmtEndpoint
	}
	if base == "" {
		// Raw requests and services without an endpoint
		e.loop.Push(completion.Completion{Handle: h, Cookie: cookie, Status: completion.StatusNotSupported, Payload: failed}, true)
		return nil
	}

	go e.doHTTP(h, cookie, c, cmd, strings.TrimSuffix(base, "/")+path, path)
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
	c, ok := e.conns.LoadAndDelete(h)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownHandle, h)
	}

	// Close the session in the background
	if token, ok := c.session(); ok && !e.closed.Load() {
		go func() {
			ctx, cancel := e.opContext(c)
			defer cancel()
			if _, err := invokeRPCRequest(ctx, common.NewLogoutRequest(token), e.transport, e.serializer); err != nil {
				Logger.Debugf("logout of %s failed: %v", h, err)
			}
		}()
	}
	Logger.Debugf("remote connection %s destroyed", h)
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
	e.cancel()
	e.http.CloseIdleConnections()
	return e.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

type result struct {
	status  completion.Status
	payload completion.Payload
}

// single returns the one completion of a single key operation
func single(resp *common.Message, p completion.Payload) []result {
	return []result{{completion.Status(resp.Status), p}}
}

// terminated returns the completion of the responding server followed by
// the terminator, or only the terminator if the operation failed
func terminated(resp *common.Message, row, end completion.Payload) []result {
	status := completion.Status(resp.Status)
	if !status.OK() {
		return []result{{status, end}}
	}
	return []result{{status, row}, {status, end}}
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

// opContext bounds an operation by the timeout of its connection
func (e *Engine) opContext(c *conn) (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, time.Duration(c.timeout.Load()))
}

// run validates and records one operation, then sends the request built by
// req on a new goroutine. build turns the response into completions. Failed
// requests complete with the failed payload.
func (e *Engine) run(h completion.Handle, cookie any, invalid error, failed completion.Payload,
	req func(token string) *common.Message, build func(resp *common.Message) []result) error {
	if invalid != nil {
		return invalid
	}
	c, err := e.begin(h)
	if err != nil {
		return err
	}
	token, ok := c.session()
	if !ok {
		e.loop.Push(completion.Completion{Handle: h, Cookie: cookie, Status: completion.StatusAuthError, Payload: failed}, true)
		return nil
	}
	msg := req(token)

	go func() {
		ctx, cancel := e.opContext(c)
		defer cancel()

		var results []result
		resp, err := invokeRPCRequest(ctx, msg, e.transport, e.serializer)
		if err != nil {
			Logger.Debugf("%s request of %s failed: %v", msg.MsgType, h, err)
			results = []result{{statusOf(err), failed}}
		} else {
			results = build(resp)
		}

		seq := make([]completion.Completion, len(results))
		for i, r := range results {
			seq[i] = completion.Completion{Handle: h, Cookie: cookie, Status: r.status, Payload: r.payload}
		}
		e.loop.PushSequence(seq)
	}()
	return nil
}

// doHTTP performs an HTTP request with the credentials of c. Chunked
// responses are streamed as HTTPData completions.
func (e *Engine) doHTTP(h completion.Handle, cookie any, c *conn, cmd engine.HTTPCmd, url, path string) {
	ctx, cancel := e.opContext(c)
	defer cancel()

	push := func(status completion.Status, p completion.Payload, final bool) {
		e.loop.Push(completion.Completion{Handle: h, Cookie: cookie, Status: status, Payload: p}, final)
	}

	req, err := http.NewRequestWithContext(ctx, cmd.Method.String(), url, bytes.NewReader(cmd.Body))
	if err != nil {
		push(completion.StatusEinval, completion.HTTPComplete{Path: path}, true)
		return
	}
	if cmd.ContentType != "" {
		req.Header.Set("Content-Type", cmd.ContentType)
	}
	if c.cfg.User != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		push(statusOf(err), completion.HTTPComplete{Path: path}, true)
		return
	}
	defer resp.Body.Close()

	if !cmd.Chunked {
		body, err := io.ReadAll(resp.Body)
		status := statusOf(err)
		push(status, completion.HTTPComplete{StatusCode: resp.StatusCode, Path: path, Headers: resp.Header, Body: body}, true)
		return
	}

	buf := make([]byte, ChunkSize)
	for {
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			push(completion.StatusSuccess, completion.HTTPData{StatusCode: resp.StatusCode, Path: path, Headers: resp.Header, Chunk: chunk}, false)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			push(statusOf(err), completion.HTTPComplete{StatusCode: resp.StatusCode, Path: path, Headers: resp.Header}, true)
			return
		}
	}
	push(completion.StatusSuccess, completion.HTTPComplete{StatusCode: resp.StatusCode, Path: path, Headers: resp.Header}, true)
}
