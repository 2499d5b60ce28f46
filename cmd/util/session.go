package util

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/kvbind/lib/binding"
	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/dispatch"
	"github.com/ValentinKolb/kvbind/lib/slots"
	"github.com/ValentinKolb/kvbind/rpc/client"
	"github.com/getsentry/sentry-go"
)

// Session is one connected binding connection on its own remote engine
type Session struct {
	Binding *binding.Binding
	Conn    *binding.Connection
	hub     *sentry.Hub
}

// OpenSession creates a remote engine from the configuration, opens a
// connection of type t on it and waits until the connection is established
func OpenSession(t completion.ConnectionType) (*Session, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	tr, err := GetTransport()
	if err != nil {
		return nil, err
	}
	hub, err := InitSentry()
	if err != nil {
		return nil, err
	}

	e, err := client.NewRemoteEngine(*GetClientConfig(), tr, s)
	if err != nil {
		return nil, err
	}

	var opts []binding.Option
	if hub != nil {
		opts = append(opts, binding.WithDispatchOptions(dispatch.WithDiagnostic(dispatch.SentryDiagnostic(hub))))
	}
	sess := &Session{Binding: binding.New(e, opts...), hub: hub}

	sess.Conn, err = sess.Binding.Create(GetConnConfig(t))
	if err != nil {
		sess.Close()
		return nil, err
	}
	if err := sess.connect(); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// connect authenticates the connection. Connection errors arrive on the
// error slot, which stays installed for the lifetime of the session.
func (s *Session) connect() error {
	var connectErr error
	err := s.Conn.SetCallback(completion.KindError, slots.ContinuationFunc(func(c completion.Completion) {
		info := ""
		if p, ok := c.Payload.(completion.Error); ok {
			info = p.Info
		}
		err := fmt.Errorf("%w: %s", c.Err(), info)
		connectErr = errors.Join(connectErr, err)
		Logger.Errorf("connection error: %v", err)
	}))
	if err != nil {
		return err
	}

	err = s.Conn.SetCallback(completion.KindConfiguration, slots.ContinuationFunc(func(c completion.Completion) {
		Logger.Debugf("connection %s configured (%s)", c.Handle, c.Payload.(completion.Configuration).State)
	}))
	if err != nil {
		return err
	}

	if err := s.Conn.Connect(); err != nil {
		return err
	}
	if err := s.Conn.Wait(context.Background()); err != nil {
		return err
	}
	return connectErr
}

// Do registers a continuation collecting every completion of kind, issues
// the operation and waits until the connection is idle
func (s *Session) Do(kind completion.Kind, issue func(conn *binding.Connection) error) ([]completion.Completion, error) {
	var got []completion.Completion
	err := s.Conn.SetCallback(kind, slots.ContinuationFunc(func(c completion.Completion) {
		got = append(got, c)
	}))
	if err != nil {
		return nil, err
	}
	if err := issue(s.Conn); err != nil {
		return nil, err
	}
	if err := s.Conn.Wait(context.Background()); err != nil {
		return nil, err
	}
	return got, nil
}

// Close destroys the connection and the engine
func (s *Session) Close() {
	if s.Conn != nil {
		if err := s.Conn.Destroy(); err != nil {
			Logger.Warningf("failed to destroy connection: %v", err)
		}
	}
	if err := s.Binding.Close(); err != nil {
		Logger.Warningf("failed to close engine: %v", err)
	}
	FlushSentry(s.hub)
}
