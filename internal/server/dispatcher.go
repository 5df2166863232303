// Package server wires the wire codec, world runtime and broadcast
// fabric together into per-connection handling, grounded on the
// teacher's connection.go/server.go accept-loop shape merged with
// original_source/redstone/packet.py's PacketDispatcher and
// network.py's NetworkFactory.
package server

import (
	"github.com/rs/zerolog"

	"github.com/blockwire/classicserver/internal/buffer"
	"github.com/blockwire/classicserver/internal/classic"
)

// UpstreamEntry is a server->client packet: Serialize builds the body
// (or nil, meaning "suppress this dispatch"), Complete runs after the
// frame has been written and is where post-dispatch chaining happens
// (spec §4.3's "serializeComplete" hook).
type UpstreamEntry struct {
	ID        uint8
	Serialize func(c *Connection, args any) (*buffer.Buffer, error)
	Complete  func(c *Connection, args any) error
}

// DownstreamEntry is a client->server packet: BodyLen is the fixed
// number of body bytes the frame loop must read before invoking
// Deserialize, which parses the body and carries out the action.
type DownstreamEntry struct {
	ID          uint8
	BodyLen     int
	Deserialize func(c *Connection, b *buffer.Buffer) error
}

// Dispatcher is the per-connection (direction, id) -> handler table
// described in spec §4.3. A single Dispatcher instance is shared by
// every connection since the handler tables are stateless; all
// per-connection state lives on *Connection.
type Dispatcher struct {
	upstream   map[uint8]UpstreamEntry
	downstream map[uint8]DownstreamEntry
	log        zerolog.Logger
}

// NewDispatcher builds the complete dispatcher with every packet in
// spec §4.2 registered.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		upstream:   make(map[uint8]UpstreamEntry),
		downstream: make(map[uint8]DownstreamEntry),
		log:        log,
	}
	registerUpstream(d)
	registerDownstream(d)
	return d
}

func (d *Dispatcher) addUpstream(e UpstreamEntry) {
	d.upstream[e.ID] = e
}

func (d *Dispatcher) addDownstream(e DownstreamEntry) {
	d.downstream[e.ID] = e
}

// DispatchUpstream runs the full serialize -> write -> complete chain
// for an upstream packet, per spec §4.3 step 2. A missing (direction,
// id) pair is logged and ignored, not an error, matching the spec's
// "record a discard warning and return".
func (d *Dispatcher) DispatchUpstream(c *Connection, id uint8, args any) error {
	entry, ok := d.upstream[id]
	if !ok {
		d.log.Warn().Uint8("id", id).Str("direction", classic.Upstream.String()).Msg("dispatch: discarding unknown packet")
		return nil
	}

	body, err := entry.Serialize(c, args)
	if err != nil {
		return err
	}
	if body != nil {
		frame := make([]byte, 0, 1+body.Len())
		frame = append(frame, entry.ID)
		frame = append(frame, body.Bytes()...)
		if err := c.send(frame); err != nil {
			return err
		}
	}
	if entry.Complete != nil {
		return entry.Complete(c, args)
	}
	return nil
}

// DispatchDownstream runs a downstream packet's action, per spec §4.3
// step 3. The frame loop has already read exactly BodyLen bytes into
// body before calling this.
func (d *Dispatcher) DispatchDownstream(c *Connection, id uint8, body *buffer.Buffer) error {
	entry, ok := d.downstream[id]
	if !ok {
		d.log.Warn().Uint8("id", id).Str("direction", classic.Downstream.String()).Msg("dispatch: discarding unknown packet")
		return nil
	}
	return entry.Deserialize(c, body)
}

// bodyLength reports the fixed body size for a downstream packet id,
// or ok=false if id is unknown, used by the connection's frame loop to
// know how many bytes to read before decoding.
func (d *Dispatcher) bodyLength(id uint8) (int, bool) {
	e, ok := d.downstream[id]
	if !ok {
		return 0, false
	}
	return e.BodyLen, true
}
