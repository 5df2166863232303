package server

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blockwire/classicserver/internal/buffer"
	"github.com/blockwire/classicserver/internal/entity"
)

// outboundHighWater is the per-connection outbound queue depth above
// which the connection is dropped rather than let the write loop block
// the rest of the server, per spec §5's backpressure policy.
const outboundHighWater = 256

// Connection is one TCP peer session: its correlation id, the shared
// dispatcher, an optional attached entity (set once PlayerIdentification
// succeeds) and a buffered single-writer outbound path.
type Connection struct {
	ID uuid.UUID

	conn    net.Conn
	factory *Factory
	log     zerolog.Logger

	mu     sync.Mutex
	entity *entity.Entity
	closed bool

	outbound chan []byte
	done     chan struct{}
}

// newConnection wraps an accepted net.Conn. The caller must call Run to
// start reading and writing.
func newConnection(conn net.Conn, factory *Factory) *Connection {
	id := uuid.New()
	c := &Connection{
		ID:       id,
		conn:     conn,
		factory:  factory,
		log:      factory.log.With().Str("conn", id.String()).Logger(),
		outbound: make(chan []byte, outboundHighWater),
		done:     make(chan struct{}),
	}
	return c
}

// Entity returns the connection's attached entity, or nil if no
// PlayerIdentification has succeeded yet.
func (c *Connection) Entity() *entity.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entity
}

// SetEntity attaches e to this connection, and back-references the
// connection from e per spec §3's stable-key cyclic reference idiom.
func (c *Connection) SetEntity(e *entity.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entity = e
	if e != nil {
		e.Connection = c
	}
}

// EntityID returns the attached entity's id, and true, or (0, false) if
// no entity is attached.
func (c *Connection) EntityID() (uint8, bool) {
	e := c.Entity()
	if e == nil {
		return 0, false
	}
	return e.ID, true
}

// Dispatcher returns the shared packet dispatcher.
func (c *Connection) Dispatcher() *Dispatcher {
	return c.factory.dispatcher
}

// SendUpstream runs the dispatcher's full serialize/write/complete
// chain for an upstream packet on this connection.
func (c *Connection) SendUpstream(id uint8, args any) error {
	return c.factory.dispatcher.DispatchUpstream(c, id, args)
}

// send writes a fully-framed (id-prefixed) packet to the outbound
// queue. If the queue is already at its high-water mark the connection
// is dropped instead of blocking the caller, per spec §5.
func (c *Connection) send(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return net.ErrClosed
	}
	c.mu.Unlock()

	select {
	case c.outbound <- frame:
		return nil
	case <-c.done:
		return net.ErrClosed
	default:
		// The queue is already saturated, so routing a polite
		// DisconnectPlayer through the same queue would just recurse
		// back into this branch. Tear down directly instead.
		c.log.Warn().Msg("connection: outbound queue full, dropping connection")
		c.teardown()
		return errors.New("server: outbound queue full")
	}
}

// writeLoop drains the outbound queue onto the socket until the
// connection is closed. Run as its own goroutine by Run.
func (c *Connection) writeLoop() {
	for {
		select {
		case frame, ok := <-c.outbound:
			if !ok {
				return
			}
			if _, err := c.conn.Write(frame); err != nil {
				c.teardown()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Run drives the inbound frame loop: read a one-byte packet id, read
// its fixed-size body, dispatch it, repeat until the peer disconnects
// or a ShortRead/unrecoverable error occurs. Run blocks until the
// connection is torn down.
func (c *Connection) Run() {
	go c.writeLoop()
	defer c.teardown()

	for {
		idBuf := make([]byte, 1)
		if _, err := io.ReadFull(c.conn, idBuf); err != nil {
			return
		}
		id := idBuf[0]

		bodyLen, ok := c.Dispatcher().bodyLength(id)
		if !ok {
			c.log.Warn().Uint8("id", id).Msg("connection: unknown downstream packet id, closing")
			return
		}

		body := make([]byte, bodyLen)
		if bodyLen > 0 {
			if _, err := io.ReadFull(c.conn, body); err != nil {
				return
			}
		}

		buf := buffer.New(body)
		if err := c.Dispatcher().DispatchDownstream(c, id, buf); err != nil {
			if errors.Is(err, buffer.ErrShortRead) {
				c.log.Debug().Err(err).Msg("connection: short read, closing")
			} else {
				c.log.Warn().Err(err).Msg("connection: handler error, closing")
			}
			return
		}
	}
}

// teardown removes the connection from the factory's registry and, if
// a player entity is attached, removes it from its world and
// deallocates its id, per spec §4.5 removePlayer / §5's guarantee that
// an id is always released even on abrupt disconnect.
func (c *Connection) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	_ = c.conn.Close()

	c.factory.removeConnection(c)

	if e := c.Entity(); e != nil {
		if w, ok := c.factory.worlds.GetWorldFromEntity(e.ID); ok {
			c.factory.removePlayer(w, c)
		}
	}
}

// Close tears the connection down immediately, without sending a
// DisconnectPlayer first.
func (c *Connection) Close() {
	c.teardown()
}
