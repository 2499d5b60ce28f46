package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/rpc/common"
	"github.com/ValentinKolb/kvbind/rpc/serializer"
	"github.com/ValentinKolb/kvbind/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc/client")
)

// ErrProtocol is returned for responses that do not match their request
var ErrProtocol = errors.New("protocol error")

// invokeRPCRequest is a helper function used to send requests
// It takes a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type
func invokeRPCRequest(ctx context.Context, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	// Send the request, the transport has its own timeout but the
	// connection timeout may be shorter
	type sendResult struct {
		data []byte
		err  error
	}
	done := make(chan sendResult, 1)
	go func() {
		data, err := transport.Send(reqBytes)
		done <- sendResult{data, err}
	}()

	var respBytes []byte
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		respBytes = r.data
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, fmt.Errorf("%w: %s", ErrProtocol, resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("%w: unexpected message type: %s, expected %s", ErrProtocol, resp.MsgType, req.MsgType)
	}

	return resp, nil
}

// statusOf maps a request error to the status reported in completions
func statusOf(err error) completion.Status {
	switch {
	case err == nil:
		return completion.StatusSuccess
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, transport.ErrTimeout):
		return completion.StatusEtimedout
	case errors.Is(err, transport.ErrNotConnected):
		return completion.StatusConnectError
	case errors.Is(err, ErrProtocol):
		return completion.StatusProtocolError
	default:
		return completion.StatusNetworkError
	}
}
