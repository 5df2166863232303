package server

import (
	"github.com/blockwire/classicserver/internal/buffer"
	"github.com/blockwire/classicserver/internal/classic"
)

func registerDownstream(d *Dispatcher) {
	d.addDownstream(DownstreamEntry{
		ID:          classic.IDPlayerIdentification,
		BodyLen:     1 + buffer.StringLength + buffer.StringLength + 1,
		Deserialize: handlePlayerIdentification,
	})

	d.addDownstream(DownstreamEntry{
		ID:          classic.IDSetBlockClient,
		BodyLen:     2 + 2 + 2 + 1 + 1,
		Deserialize: handleSetBlockClient,
	})

	d.addDownstream(DownstreamEntry{
		ID:          classic.IDPositionAndOrientation,
		BodyLen:     1 + 2 + 2 + 2 + 1 + 1,
		Deserialize: handlePositionAndOrientation,
	})

	d.addDownstream(DownstreamEntry{
		ID:          classic.IDMessage,
		BodyLen:     1 + buffer.StringLength,
		Deserialize: handleClientMessage,
	})
}

// handleSetBlockClient implements spec §4.2/§4.6/§7: a client edit is
// applied (destroy -> AIR, place -> the requested block, with physics
// if applicable), broadcast world-scoped to every other connection, and
// silently ignored if out of range.
func handleSetBlockClient(c *Connection, b *buffer.Buffer) error {
	var p classic.SetBlockClientPacket
	if err := p.Decode(b); err != nil {
		return err
	}

	e := c.Entity()
	if e == nil {
		return nil
	}
	w, ok := c.factory.worlds.GetWorld(e.World)
	if !ok {
		return nil
	}

	block := p.Block
	if p.Mode == classic.ModeDestroy {
		block = classic.BlockAir
	}

	if err := w.SetBlock(int(p.X), int(p.Y), int(p.Z), block, true); err != nil {
		return nil // ErrOutOfRange: ignore silently, per spec §7
	}

	c.factory.worldBroadcast(w, classic.IDSetBlockServer, []*Connection{c}, SetBlockServerArgs{
		X: p.X, Y: p.Y, Z: p.Z, Block: block,
	})
	return nil
}
