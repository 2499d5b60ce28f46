package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ValentinKolb/kvbind/lib/cluster"
	"github.com/ValentinKolb/kvbind/rpc/common"
	"github.com/ValentinKolb/kvbind/rpc/serializer"
	"github.com/ValentinKolb/kvbind/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

var Logger = logger.GetLogger("rpc/server")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *Server {
	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	c := cluster.New(cluster.Config{
		NodeName:      config.NodeName,
		AdminUser:     config.AdminUser,
		AdminPassword: config.AdminPassword,
	})

	return &Server{
		config:     config,
		transport:  transport,
		serializer: serializer,
		cluster:    c,
		handler:    NewHandler(c),
	}
}

// Server serves a cluster over an RPC transport and, if configured, the
// management and view routers over HTTP
type Server struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	cluster    *cluster.Cluster
	handler    *Handler

	mu          sync.Mutex
	httpServers []*http.Server
}

// Cluster returns the cluster served by s
func (s *Server) Cluster() *cluster.Cluster { return s.cluster }

// Handler returns the message handler of s
func (s *Server) Handler() *Handler { return s.handler }

// HandleRequest deserializes a request, handles it and returns the
// serialized response. It is the handler registered on the transport.
func (s *Server) HandleRequest(req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = s.handler.Handle(&msg)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// init creates the configured buckets and registers the transport handler
func (s *Server) init() error {
	for _, b := range s.config.BucketConfigs() {
		if err := s.cluster.CreateBucket(b); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", b.Name, err)
		}
	}

	s.transport.RegisterHandler(s.HandleRequest)
	Logger.Infof("kvbind setup completed successfully")
	return nil
}

// Serve starts the RPC server
// This function will also create the buckets, start the HTTP routers and
// block in the transport layer until Close is called
func (s *Server) Serve() error {
	if err := s.init(); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	s.serveHTTP("management", s.config.MgmtEndpoint, s.cluster.ManagementHandler(), errCh)
	s.serveHTTP("view", s.config.ViewEndpoint, s.cluster.ViewHandler(), errCh)

	go func() {
		errCh <- s.transport.Listen(s.config)
	}()

	// The first failing listener stops the server
	err := <-errCh
	if err != nil {
		_ = s.Close()
	}
	return err
}

// Close stops the transport and the HTTP routers
func (s *Server) Close() error {
	err := s.transport.Close()

	s.mu.Lock()
	servers := s.httpServers
	s.httpServers = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	return err
}

// serveHTTP serves handler on endpoint in the background. An empty
// endpoint disables it.
func (s *Server) serveHTTP(name, endpoint string, handler http.Handler, errCh chan<- error) {
	if endpoint == "" {
		return
	}
	srv := &http.Server{Addr: endpoint, Handler: handler}

	s.mu.Lock()
	s.httpServers = append(s.httpServers, srv)
	s.mu.Unlock()

	Logger.Infof("Starting %s router on %s", name, endpoint)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s router: %w", name, err)
		}
	}()
}
