package server

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/kvbind/lib/cluster"
	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/store"
	"github.com/ValentinKolb/kvbind/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// session is the state of an authenticated connection
type session struct {
	bucket string
	admin  bool
	since  time.Time
}

// Handler executes messages against a cluster. It is safe for concurrent use.
type Handler struct {
	cluster  *cluster.Cluster
	sessions *xsync.MapOf[string, session]
}

// NewHandler creates a handler for c
func NewHandler(c *cluster.Cluster) *Handler {
	return &Handler{
		cluster:  c,
		sessions: xsync.NewMapOf[string, session](),
	}
}

// Sessions returns the number of open sessions
func (h *Handler) Sessions() int {
	return h.sessions.Size()
}

// Handle handles a request and returns a response. Operation failures are
// reported in the Status of the response, protocol failures as MsgTError.
func (h *Handler) Handle(req *common.Message) (resp *common.Message) {
	start := time.Now()
	defer func() {
		status := completion.Status(resp.Status).String()
		if resp.MsgType == common.MsgTError {
			status = "ProtocolError"
		}
		metrics.GetOrCreateCounter(fmt.Sprintf(`kvbind_rpc_requests_total{type=%q,status=%q}`, req.MsgType, status)).Inc()
		metrics.GetOrCreateHistogram(fmt.Sprintf(`kvbind_rpc_request_duration_seconds{type=%q}`, req.MsgType)).UpdateDuration(start)
	}()

	switch req.MsgType {
	case common.MsgTAuth:
		return h.auth(req)
	case common.MsgTLogout:
		h.sessions.Delete(req.Token)
		return common.NewStatusResponse(common.MsgTLogout, 0, h.cluster.NodeName())
	case common.MsgTVersion:
		return h.node(req, func() *common.Message {
			resp := h.response(req, completion.StatusSuccess)
			resp.Value = []byte(h.cluster.Version())
			return resp
		})
	case common.MsgTVerbosity:
		return h.node(req, func() *common.Message {
			if req.Server != "" && req.Server != h.cluster.NodeName() {
				return h.response(req, completion.StatusUnknownHost)
			}
			h.cluster.SetVerbosity(req.Mode)
			return h.response(req, completion.StatusSuccess)
		})
	case common.MsgTStats:
		return h.bucket(req, func(s session, _ store.IStore) *common.Message {
			stats, status := h.cluster.Stats(s.bucket, req.Key)
			resp := h.response(req, status)
			if status.OK() {
				resp.Rows = make([]common.Row, len(stats))
				for i, st := range stats {
					resp.Rows[i] = common.Row{Key: st.Key, Value: []byte(st.Value)}
				}
			}
			return resp
		})
	case common.MsgTGet:
		return h.bucket(req, func(_ session, st store.IStore) *common.Message {
			var item store.Item
			var err error
			if req.Lock > 0 {
				lock := time.Duration(req.Lock) * time.Millisecond
				item, err = st.GetAndLock(req.Key, min(lock, store.MaxLockTime))
			} else {
				item, err = st.Get(req.Key)
			}
			resp := h.response(req, cluster.StatusOf(err))
			resp.Key = req.Key
			if err == nil {
				resp.Value, resp.Flags, resp.CAS = item.Value, item.Flags, item.CAS
				if resp.Value == nil {
					resp.Value = []byte{}
				}
			}
			return resp
		})
	case common.MsgTStore:
		return h.bucket(req, func(_ session, st store.IStore) *common.Message {
			cas, err := st.Store(store.Mode(req.Mode), req.Key, req.Value, req.Flags, req.Expiry, req.CAS)
			return h.itemResponse(req, err, cas)
		})
	case common.MsgTRemove:
		return h.bucket(req, func(_ session, st store.IStore) *common.Message {
			cas, err := st.Remove(req.Key, req.CAS)
			return h.itemResponse(req, err, cas)
		})
	case common.MsgTArithmetic:
		return h.bucket(req, func(_ session, st store.IStore) *common.Message {
			value, cas, err := st.Arithmetic(req.Key, req.Delta, req.Initial, req.Mode != 0, req.Expiry)
			resp := h.itemResponse(req, err, cas)
			resp.Initial = value
			return resp
		})
	case common.MsgTObserve:
		return h.bucket(req, func(_ session, st store.IStore) *common.Message {
			cas, found, err := st.Observe(req.Key)
			resp := h.itemResponse(req, err, cas)
			resp.Mode = uint8(completion.ObserveNotFound)
			if found {
				resp.Mode = uint8(completion.ObserveFound)
			}
			return resp
		})
	case common.MsgTTouch:
		return h.bucket(req, func(_ session, st store.IStore) *common.Message {
			cas, err := st.Touch(req.Key, req.Expiry)
			return h.itemResponse(req, err, cas)
		})
	case common.MsgTUnlock:
		return h.bucket(req, func(_ session, st store.IStore) *common.Message {
			return h.itemResponse(req, st.Unlock(req.Key, req.CAS), 0)
		})
	case common.MsgTFlush:
		return h.bucket(req, func(_ session, st store.IStore) *common.Message {
			return h.response(req, cluster.StatusOf(st.Flush()))
		})
	default:
		return common.NewErrorResponse(fmt.Sprintf("unsupported message type: %s", req.MsgType))
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// auth opens a session. An empty bucket requests an administrator session.
func (h *Handler) auth(req *common.Message) *common.Message {
	password := string(req.Value)

	var status completion.Status
	admin := req.Bucket == ""
	if admin {
		status = completion.StatusAuthError
		if h.cluster.AuthenticateAdmin(req.Key, password) {
			status = completion.StatusSuccess
		}
	} else {
		status = h.cluster.Authenticate(req.Bucket, req.Key, password)
	}

	if !status.OK() {
		Logger.Infof("authentication of %q for bucket %q failed: %s", req.Key, req.Bucket, status)
		return common.NewAuthResponse("", h.cluster.NodeName(), uint16(status))
	}

	token := uuid.NewString()
	h.sessions.Store(token, session{bucket: req.Bucket, admin: admin, since: time.Now()})
	Logger.Debugf("session for bucket %q opened", req.Bucket)
	return common.NewAuthResponse(token, h.cluster.NodeName(), uint16(completion.StatusSuccess))
}

// node runs fn for any authenticated session
func (h *Handler) node(req *common.Message, fn func() *common.Message) *common.Message {
	if _, ok := h.sessions.Load(req.Token); !ok {
		return h.response(req, completion.StatusAuthError)
	}
	return fn()
}

// bucket runs fn against the bucket of the session
func (h *Handler) bucket(req *common.Message, fn func(s session, st store.IStore) *common.Message) *common.Message {
	s, ok := h.sessions.Load(req.Token)
	if !ok {
		return h.response(req, completion.StatusAuthError)
	}
	if s.admin {
		return h.response(req, completion.StatusBucketEnoent)
	}
	b, ok := h.cluster.Bucket(s.bucket)
	if !ok {
		return h.response(req, completion.StatusBucketEnoent)
	}
	return fn(s, b.Store())
}

// response creates a response of the request type
func (h *Handler) response(req *common.Message, status completion.Status) *common.Message {
	return common.NewStatusResponse(req.MsgType, uint16(status), h.cluster.NodeName())
}

// itemResponse creates the response of a single key operation
func (h *Handler) itemResponse(req *common.Message, err error, cas uint64) *common.Message {
	resp := h.response(req, cluster.StatusOf(err))
	resp.Key = req.Key
	resp.CAS = cas
	return resp
}
