package http

import (
	"net/http/httptest"
	"testing"

	"github.com/ValentinKolb/kvbind/rpc/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport(t *testing.T) {
	gin.SetMode(gin.TestMode)

	server := &httpServerTransport{}
	server.RegisterHandler(func(req []byte) []byte {
		return append([]byte("echo:"), req...)
	})
	ts := httptest.NewServer(server.router())
	defer ts.Close()

	client := NewHttpClientTransport()
	require.NoError(t, client.Connect(common.ClientConfig{
		Endpoints:     []string{ts.URL},
		TimeoutSecond: 2,
	}))
	defer client.Close()

	resp, err := client.Send([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(resp))

	// Empty requests are forwarded too
	resp, err = client.Send(nil)
	require.NoError(t, err)
	assert.Equal(t, "echo:", string(resp))
}

func TestHTTPTransportNotConnected(t *testing.T) {
	client := NewHttpClientTransport()
	_, err := client.Send([]byte("x"))
	assert.Error(t, err)

	assert.Error(t, client.Connect(common.ClientConfig{}))
}

func TestHTTPServerCloseBeforeListen(t *testing.T) {
	server := NewHttpServerTransport()
	server.RegisterHandler(func(req []byte) []byte { return req })
	require.NoError(t, server.Close())
	assert.NoError(t, server.Listen(common.ServerConfig{Endpoint: "127.0.0.1:0"}))
}
