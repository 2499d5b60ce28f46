package server

import (
	"testing"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/rpc/common"
	"github.com/ValentinKolb/kvbind/rpc/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer creates a server with a "default" and a protected bucket
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewRPCServer(common.ServerConfig{
		NodeName:      "node-1",
		Buckets:       []string{"default", "secure:secret"},
		AdminUser:     "Administrator",
		AdminPassword: "password",
		Endpoint:      "unused",
		LogLevel:      "info",
		LogFormat:     "console",
	}, nil, serializer.NewBinarySerializer())
	for _, b := range s.config.BucketConfigs() {
		require.NoError(t, s.cluster.CreateBucket(b))
	}
	return s
}

func login(t *testing.T, h *Handler, bucket, user, password string) string {
	t.Helper()
	resp := h.Handle(common.NewAuthRequest(bucket, user, password))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status, "auth failed: %s", completion.Status(resp.Status))
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, "node-1", resp.Server)
	return resp.Token
}

func TestAuth(t *testing.T) {
	h := newTestServer(t).Handler()

	login(t, h, "default", "default", "")
	login(t, h, "secure", "secure", "secret")
	login(t, h, "secure", "Administrator", "password")
	login(t, h, "", "Administrator", "password")
	assert.Equal(t, 4, h.Sessions())

	cases := []struct {
		bucket, user, password string
		status                 completion.Status
	}{
		{"secure", "secure", "wrong", completion.StatusAuthError},
		{"missing", "missing", "", completion.StatusBucketEnoent},
		{"", "Administrator", "wrong", completion.StatusAuthError},
	}
	for _, tc := range cases {
		resp := h.Handle(common.NewAuthRequest(tc.bucket, tc.user, tc.password))
		assert.Equal(t, uint16(tc.status), resp.Status, "%s/%s", tc.bucket, tc.user)
		assert.Empty(t, resp.Token)
	}
	assert.Equal(t, 4, h.Sessions())
}

func TestUnauthenticated(t *testing.T) {
	h := newTestServer(t).Handler()

	resp := h.Handle(common.NewGetRequest("no-such-token", "k", 0))
	assert.Equal(t, uint16(completion.StatusAuthError), resp.Status)

	resp = h.Handle(common.NewVersionRequest(""))
	assert.Equal(t, uint16(completion.StatusAuthError), resp.Status)

	// A closed session is gone
	token := login(t, h, "default", "default", "")
	h.Handle(common.NewLogoutRequest(token))
	resp = h.Handle(common.NewGetRequest(token, "k", 0))
	assert.Equal(t, uint16(completion.StatusAuthError), resp.Status)
}

func TestKeyValueOperations(t *testing.T) {
	h := newTestServer(t).Handler()
	token := login(t, h, "default", "default", "")

	// Store and get
	resp := h.Handle(common.NewStoreRequest(token, uint8(completion.StoreSet), "K1", []byte("x"), 7, 0, 0))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	cas := resp.CAS
	assert.NotZero(t, cas)

	resp = h.Handle(common.NewGetRequest(token, "K1", 0))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	assert.Equal(t, "K1", resp.Key)
	assert.Equal(t, []byte("x"), resp.Value)
	assert.Equal(t, uint32(7), resp.Flags)
	assert.Equal(t, cas, resp.CAS)

	// Add on an existing key fails
	resp = h.Handle(common.NewStoreRequest(token, uint8(completion.StoreAdd), "K1", []byte("y"), 0, 0, 0))
	assert.Equal(t, uint16(completion.StatusKeyEexists), resp.Status)

	// Arithmetic creates the counter
	resp = h.Handle(common.NewArithmeticRequest(token, "counter", 5, 10, true, 0))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	assert.Equal(t, uint64(10), resp.Initial)
	resp = h.Handle(common.NewArithmeticRequest(token, "counter", -3, 0, false, 0))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	assert.Equal(t, uint64(7), resp.Initial)

	// Lock, write fails, unlock
	resp = h.Handle(common.NewGetRequest(token, "K1", 0))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	resp = h.Handle(common.NewGetRequest(token, "K1", 1000))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	lockCAS := resp.CAS
	resp = h.Handle(common.NewStoreRequest(token, uint8(completion.StoreSet), "K1", []byte("z"), 0, 0, 0))
	assert.Equal(t, uint16(completion.StatusEtmpfail), resp.Status)
	resp = h.Handle(common.NewUnlockRequest(token, "K1", lockCAS))
	assert.Equal(t, uint16(completion.StatusSuccess), resp.Status)

	// Observe
	resp = h.Handle(common.NewObserveRequest(token, "K1"))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	assert.Equal(t, uint8(completion.ObserveFound), resp.Mode)
	resp = h.Handle(common.NewObserveRequest(token, "missing"))
	assert.Equal(t, uint8(completion.ObserveNotFound), resp.Mode)

	// Touch, remove, get miss
	resp = h.Handle(common.NewTouchRequest(token, "K1", 100))
	assert.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	resp = h.Handle(common.NewRemoveRequest(token, "K1", 0))
	assert.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	resp = h.Handle(common.NewGetRequest(token, "K1", 0))
	assert.Equal(t, uint16(completion.StatusKeyEnoent), resp.Status)
	assert.Nil(t, resp.Value)

	// Flush
	resp = h.Handle(common.NewFlushRequest(token))
	assert.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	resp = h.Handle(common.NewGetRequest(token, "counter", 0))
	assert.Equal(t, uint16(completion.StatusKeyEnoent), resp.Status)
}

func TestNodeOperations(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	token := login(t, h, "default", "default", "")

	resp := h.Handle(common.NewStatsRequest(token, ""))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	assert.NotEmpty(t, resp.Rows)
	assert.Equal(t, "node-1", resp.Server)

	resp = h.Handle(common.NewStatsRequest(token, "settings"))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	keys := make([]string, len(resp.Rows))
	for i, r := range resp.Rows {
		keys[i] = r.Key
	}
	assert.Contains(t, keys, "bucket_name")

	resp = h.Handle(common.NewStatsRequest(token, "no-such-group"))
	assert.Equal(t, uint16(completion.StatusKeyEnoent), resp.Status)

	resp = h.Handle(common.NewVersionRequest(token))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	assert.Equal(t, s.Cluster().Version(), string(resp.Value))

	resp = h.Handle(common.NewVerbosityRequest(token, 3, ""))
	require.Equal(t, uint16(completion.StatusSuccess), resp.Status)
	assert.Equal(t, uint8(3), s.Cluster().Verbosity())

	resp = h.Handle(common.NewVerbosityRequest(token, 1, "other-node"))
	assert.Equal(t, uint16(completion.StatusUnknownHost), resp.Status)
	assert.Equal(t, uint8(3), s.Cluster().Verbosity())
}

func TestAdminSessionHasNoBucket(t *testing.T) {
	h := newTestServer(t).Handler()
	token := login(t, h, "", "Administrator", "password")

	resp := h.Handle(common.NewGetRequest(token, "k", 0))
	assert.Equal(t, uint16(completion.StatusBucketEnoent), resp.Status)

	resp = h.Handle(common.NewVersionRequest(token))
	assert.Equal(t, uint16(completion.StatusSuccess), resp.Status)
}

func TestHandleRequest(t *testing.T) {
	s := newTestServer(t)
	ser := serializer.NewBinarySerializer()

	// Garbage is answered with an error message
	var resp common.Message
	require.NoError(t, ser.Deserialize(s.HandleRequest([]byte{1}), &resp))
	assert.Equal(t, common.MsgTError, resp.MsgType)
	assert.Contains(t, resp.Err, "deserialize")

	// Unknown message types too
	req, err := ser.Serialize(common.Message{MsgType: common.MsgTUnknown})
	require.NoError(t, err)
	require.NoError(t, ser.Deserialize(s.HandleRequest(req), &resp))
	assert.Equal(t, common.MsgTError, resp.MsgType)

	// A full round trip
	req, err = ser.Serialize(*common.NewAuthRequest("default", "default", ""))
	require.NoError(t, err)
	require.NoError(t, ser.Deserialize(s.HandleRequest(req), &resp))
	assert.Equal(t, common.MsgTAuth, resp.MsgType)
	assert.NotEmpty(t, resp.Token)
}
