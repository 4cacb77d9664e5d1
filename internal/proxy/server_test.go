package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fenwick-labs/hookproxy/internal/codec"
)

func TestServerShutdownStopsAcceptingWithoutActiveConnections(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	defer upstreamLn.Close()
	go func() {
		for {
			conn, err := upstreamLn.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	srv := New(ConnectOptions{ListenAddr: "127.0.0.1:0", UpstreamAddr: upstreamLn.Addr().String()},
		nil, func() codec.Codec { return codec.NewTableCodec() }, testLogger(t))

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	// Give ListenAndServe a moment to bind before shutting down.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}

func TestServerShutdownIsIdempotent(t *testing.T) {
	srv := New(ConnectOptions{ListenAddr: "127.0.0.1:0", UpstreamAddr: "127.0.0.1:1"},
		nil, func() codec.Codec { return codec.NewTableCodec() }, testLogger(t))

	go srv.ListenAndServe()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown (idempotent) returned an error: %v", err)
	}
}
