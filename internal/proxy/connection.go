// Package proxy owns the accept loop, the per-connection handshake state
// machine, and the bidirectional splice between a client socket and the
// dialed backend, routed through a Dispatcher.
//
// The handshake tracks each direction's progress with its own counter,
// serverPhase and clientPhase, rather than one shared state value: a
// client can race ahead and finish both of its keys before the server
// has even sent its magic datagram. ConnectionState folds those two
// counters into a single externally-visible phase, gated first on
// whether the server side has progressed past its magic handshake at
// all; after that it reports awaiting-second-keys as soon as either side
// has sent its first key, and steady only once both sides have sent both.
package proxy

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/fenwick-labs/hookproxy/internal/cipher"
	"github.com/fenwick-labs/hookproxy/internal/dispatch"
	"github.com/fenwick-labs/hookproxy/internal/protoerr"
	"github.com/fenwick-labs/hookproxy/internal/wire"
	"github.com/fenwick-labs/hookproxy/pkg/logger"
)

// ConnectionState is one of the four handshake phases, computed from the
// independent progress of each direction.
type ConnectionState int32

const (
	// StateAwaitingServerMagic is the state before the server's initial
	// datagram has been seen.
	StateAwaitingServerMagic ConnectionState = -1
	// StateAwaitingFirstKeys is the state after the server's magic
	// datagram while neither side has sent its first key datagram yet.
	StateAwaitingFirstKeys ConnectionState = 0
	// StateAwaitingSecondKeys is the state once at least one side has
	// sent its first key but the handshake isn't complete on both sides.
	StateAwaitingSecondKeys ConnectionState = 1
	// StateSteady is the state once both sides have sent both keys and
	// both ciphers are initialized; ordinary game traffic flows.
	StateSteady ConnectionState = 2
)

// serverMagicValue is the expected contents of the server's first
// datagram, a single little-endian uint32.
const serverMagicValue uint32 = 1

const readBufferSize = 64 * 1024

// Connection owns one accepted client socket and its dialed backend
// socket, and drives both through the handshake and steady-state splice.
type Connection struct {
	id string
	log logger.Logger

	clientConn net.Conn
	serverConn net.Conn

	session1 *cipher.Cipher // client<->proxy
	session2 *cipher.Cipher // proxy<->server

	clientBuffer *wire.PacketBuffer
	serverBuffer *wire.PacketBuffer

	dispatcher *dispatch.Dispatcher

	serverPhase atomic.Int32 // -1, 0, 1, 2
	clientPhase atomic.Int32 // 0, 1, 2
	initOnce    sync.Once

	// clientWriteMu serializes every Encrypt+Write pair bound for
	// clientConn (the splice drain reading off serverConn, and
	// SendToClient's fake-injection path), so the two never interleave
	// their session1.Encrypt calls out of order with their writes.
	// serverWriteMu does the same for serverConn/session2. Without this,
	// a hook calling SendToClient from pumpClientToServer's goroutine
	// could race pumpServerToClient's own drain loop over the same
	// cipher and socket, desyncing the receiver's decKey from the
	// Encrypt-call order its bytes actually arrived in.
	clientWriteMu sync.Mutex
	serverWriteMu sync.Mutex

	closeOnce sync.Once
}

func newConnection(id string, clientConn, serverConn net.Conn, d *dispatch.Dispatcher, log logger.Logger) *Connection {
	c := &Connection{
		id:           id,
		log:          log,
		clientConn:   clientConn,
		serverConn:   serverConn,
		session1:     cipher.New(),
		session2:     cipher.New(),
		clientBuffer: wire.New(),
		serverBuffer: wire.New(),
		dispatcher:   d,
	}
	c.serverPhase.Store(int32(StateAwaitingServerMagic))
	return c
}

// ID returns this connection's opaque identifier, used in log fields.
func (c *Connection) ID() string { return c.id }

// State reports the handshake's externally-visible progress.
func (c *Connection) State() ConnectionState {
	sp := c.serverPhase.Load()
	cp := c.clientPhase.Load()
	switch {
	case sp < 0:
		return StateAwaitingServerMagic
	case sp >= 2 && cp >= 2:
		return StateSteady
	case sp >= 1 || cp >= 1:
		return StateAwaitingSecondKeys
	default:
		return StateAwaitingFirstKeys
	}
}

// Run drives both directions of the connection until either side closes
// or errors, then closes both sockets and tears down the connection's
// modules.
func (c *Connection) Run() {
	errCh := make(chan error, 2)
	go func() { errCh <- c.pumpClientToServer() }()
	go func() { errCh <- c.pumpServerToClient() }()

	if err := <-errCh; err != nil {
		c.log.Debugw("connection pipe ended", "conn", c.id, "err", err)
	}
	c.Close()
	<-errCh

	c.dispatcher.ResetModules()
}

// Close closes both sockets. Idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		_ = c.clientConn.Close()
		_ = c.serverConn.Close()
	})
}

// SendToClient implements dispatch.Sender: encrypts buf with session1 and
// writes it to the client socket, used for fake/outbound message
// injection (Wrapper.ToClient). Serialized against the splice drain's own
// session1.Encrypt+Write via clientWriteMu so the two can't interleave.
func (c *Connection) SendToClient(buf []byte) error {
	out := append([]byte(nil), buf...)
	c.clientWriteMu.Lock()
	defer c.clientWriteMu.Unlock()
	c.session1.Encrypt(out)
	_, err := c.clientConn.Write(out)
	return err
}

// SendToServer implements dispatch.Sender: encrypts buf with session2 and
// writes it to the server socket, used for fake/outbound message
// injection (Wrapper.ToServer). Serialized against the splice drain's own
// session2.Encrypt+Write via serverWriteMu so the two can't interleave.
func (c *Connection) SendToServer(buf []byte) error {
	out := append([]byte(nil), buf...)
	c.serverWriteMu.Lock()
	defer c.serverWriteMu.Unlock()
	c.session2.Encrypt(out)
	_, err := c.serverConn.Write(out)
	return err
}

func (c *Connection) readyForSteadyState() bool {
	return c.serverPhase.Load() == int32(StateSteady) &&
		c.clientPhase.Load() == 2 &&
		c.session1.Ready() && c.session2.Ready()
}

func (c *Connection) tryInitCiphers() {
	if c.session1.AllKeysSet() && c.session2.AllKeysSet() {
		c.initOnce.Do(func() {
			c.session1.Init()
			c.session2.Init()
			c.log.Debugw("handshake keys complete; ciphers initialized", "conn", c.id)
		})
	}
}

func expectKeyDatagram(chunk []byte) error {
	if len(chunk) != cipher.KeySize {
		return fmt.Errorf("%w: expected a %d-byte key datagram, got %d bytes", protoerr.ErrFraming, cipher.KeySize, len(chunk))
	}
	return nil
}

func expectServerMagic(chunk []byte) error {
	if len(chunk) < 4 {
		return fmt.Errorf("%w: server magic datagram too short (%d bytes)", protoerr.ErrFraming, len(chunk))
	}
	if v := binary.LittleEndian.Uint32(chunk[:4]); v != serverMagicValue {
		return fmt.Errorf("%w: unexpected server magic value %d", protoerr.ErrFraming, v)
	}
	return nil
}

// pumpClientToServer handles the client→proxy side of the connection: the
// first two datagrams are the client's half-keys (forwarded verbatim,
// then copied into both ciphers), every datagram after that is decrypted
// with session1 and fed through the Dispatcher before being re-encrypted
// with session2 and written to the server.
func (c *Connection) pumpClientToServer() error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.clientConn.Read(buf)
		if err != nil {
			return fmt.Errorf("read client: %w", err)
		}
		chunk := append([]byte(nil), buf[:n]...)

		switch c.clientPhase.Load() {
		case 0:
			if err := expectKeyDatagram(chunk); err != nil {
				return err
			}
			_ = c.session1.SetClientKey(0, chunk)
			_ = c.session2.SetClientKey(0, chunk)
			if _, err := c.serverConn.Write(chunk); err != nil {
				return fmt.Errorf("forward client key0: %w", err)
			}
			c.clientPhase.Store(1)

		case 1:
			if err := expectKeyDatagram(chunk); err != nil {
				return err
			}
			_ = c.session1.SetClientKey(1, chunk)
			_ = c.session2.SetClientKey(1, chunk)
			if _, err := c.serverConn.Write(chunk); err != nil {
				return fmt.Errorf("forward client key1: %w", err)
			}
			c.clientPhase.Store(2)
			c.tryInitCiphers()

		default:
			if !c.readyForSteadyState() {
				return fmt.Errorf("%w: client sent data before the handshake completed", protoerr.ErrFraming)
			}
			c.session1.Decrypt(chunk)
			c.clientBuffer.Write(chunk)
			if err := c.drain(c.clientBuffer, false, c.session2, c.serverConn, &c.serverWriteMu); err != nil {
				return err
			}
		}
	}
}

// pumpServerToClient handles the server→proxy side of the connection: the
// first datagram is the magic value, the next two are the server's
// half-keys, every datagram after that is decrypted with session2 and fed
// through the Dispatcher before being re-encrypted with session1 and
// written to the client.
func (c *Connection) pumpServerToClient() error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.serverConn.Read(buf)
		if err != nil {
			return fmt.Errorf("read server: %w", err)
		}
		chunk := append([]byte(nil), buf[:n]...)

		switch ConnectionState(c.serverPhase.Load()) {
		case StateAwaitingServerMagic:
			if err := expectServerMagic(chunk); err != nil {
				return err
			}
			if _, err := c.clientConn.Write(chunk); err != nil {
				return fmt.Errorf("forward server magic: %w", err)
			}
			c.serverPhase.Store(int32(StateAwaitingFirstKeys))

		case StateAwaitingFirstKeys:
			if err := expectKeyDatagram(chunk); err != nil {
				return err
			}
			_ = c.session1.SetServerKey(0, chunk)
			_ = c.session2.SetServerKey(0, chunk)
			if _, err := c.clientConn.Write(chunk); err != nil {
				return fmt.Errorf("forward server key0: %w", err)
			}
			c.serverPhase.Store(int32(StateAwaitingSecondKeys))

		case StateAwaitingSecondKeys:
			if err := expectKeyDatagram(chunk); err != nil {
				return err
			}
			_ = c.session1.SetServerKey(1, chunk)
			_ = c.session2.SetServerKey(1, chunk)
			if _, err := c.clientConn.Write(chunk); err != nil {
				return fmt.Errorf("forward server key1: %w", err)
			}
			c.serverPhase.Store(int32(StateSteady))
			c.tryInitCiphers()

		default:
			if !c.readyForSteadyState() {
				return fmt.Errorf("%w: server sent data before the handshake completed", protoerr.ErrFraming)
			}
			c.session2.Decrypt(chunk)
			c.serverBuffer.Write(chunk)
			if err := c.drain(c.serverBuffer, true, c.session1, c.clientConn, &c.clientWriteMu); err != nil {
				return err
			}
		}
	}
}

// drain reads every complete message currently sitting in pb, runs each
// through the Dispatcher, and writes the (possibly hook-modified) result
// re-encrypted with outCipher to out. writeMu is the same mutex guarding
// that direction's Sender (SendToClient/SendToServer), so a hook firing
// mid-drain and injecting a fake message on the same direction can never
// land its Encrypt+Write between this loop's own Encrypt and Write.
func (c *Connection) drain(pb *wire.PacketBuffer, incoming bool, outCipher *cipher.Cipher, out net.Conn, writeMu *sync.Mutex) error {
	for {
		msg, err := pb.Read()
		if err != nil {
			return fmt.Errorf("frame stream: %w", err)
		}
		if msg == nil {
			return nil
		}

		result := c.dispatcher.Handle(msg, incoming, false)
		if result.Silenced {
			continue
		}

		data := result.Data
		writeMu.Lock()
		outCipher.Encrypt(data)
		_, err = out.Write(data)
		writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("write splice output: %w", err)
		}
	}
}
