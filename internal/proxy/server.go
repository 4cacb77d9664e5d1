package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fenwick-labs/hookproxy/internal/codec"
	"github.com/fenwick-labs/hookproxy/internal/dispatch"
	"github.com/fenwick-labs/hookproxy/pkg/logger"
)

// ConnectOptions configures where a Server listens and which upstream it
// dials on each accepted connection.
type ConnectOptions struct {
	// ListenAddr is the address the proxy accepts client connections on.
	ListenAddr string
	// UpstreamAddr is the real game server address each accepted client
	// is paired with.
	UpstreamAddr string
}

// DispatchFunc is invoked once per accepted connection with a freshly
// constructed Dispatcher, so the caller can load modules onto it before
// traffic starts flowing.
type DispatchFunc func(d *dispatch.Dispatcher)

// Server accepts client connections, dials the upstream server for each,
// and drives the resulting Connection.
type Server struct {
	opts         ConnectOptions
	onDispatch   DispatchFunc
	codecFactory func() codec.Codec
	log          logger.Logger
	dispatchOpts []dispatch.Option

	listener net.Listener
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// New builds a Server from its listen/upstream options and the hooks a
// caller wants attached to each connection's Dispatcher. codecFactory
// builds a fresh Codec per connection (a TableCodec is
// typically safe to share across connections via a single closure
// returning the same instance, since its state is read-mostly after
// startup).
func New(opts ConnectOptions, onDispatch DispatchFunc, codecFactory func() codec.Codec, log logger.Logger, dispatchOpts ...dispatch.Option) *Server {
	return &Server{
		opts:         opts,
		onDispatch:   onDispatch,
		codecFactory: codecFactory,
		log:          log,
		dispatchOpts: dispatchOpts,
	}
}

// ListenAndServe binds the listener and accepts connections until
// Shutdown is called or the listener errors.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind listener on %s: %w", s.opts.ListenAddr, err)
	}
	s.listener = ln
	defer ln.Close()

	s.log.Infow("proxy listening", "listen", s.opts.ListenAddr, "upstream", s.opts.UpstreamAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warnw("accept error", "err", err)
			continue
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(clientConn net.Conn) {
	defer s.wg.Done()

	serverConn, err := net.Dial("tcp", s.opts.UpstreamAddr)
	if err != nil {
		s.log.Errorw("failed to connect to upstream", "addr", s.opts.UpstreamAddr, "err", err)
		_ = clientConn.Close()
		return
	}

	id := uuid.New().String()
	connLog := s.log.With("conn", id)

	d := dispatch.New(s.codecFactory(), connLog, s.dispatchOpts...)
	conn := newConnection(id, clientConn, serverConn, d, connLog)
	d.SetSender(conn)

	if s.onDispatch != nil {
		s.onDispatch(d)
	}

	conn.Run()
}

// Shutdown stops accepting new connections and waits for in-flight
// connections to finish, bounded by ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("proxy: graceful shutdown deadline exceeded: %w", ctx.Err())
	}
}
