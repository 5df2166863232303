package server

import (
	"fmt"

	"github.com/blockwire/classicserver/internal/buffer"
	"github.com/blockwire/classicserver/internal/classic"
	"github.com/blockwire/classicserver/internal/entity"
	"github.com/blockwire/classicserver/internal/world"
)

// levelChunkSize is the fixed chunk width spec §4.3's level-streaming
// chain slices the gzipped world payload into.
const levelChunkSize = buffer.ArrayLength

// ServerIdentArgs carries the fields spec §4.2's ServerIdentification
// needs beyond the fixed protocol version/userType.
type ServerIdentArgs struct {
	Name string
	MOTD string
}

// SetBlockServerArgs is SetBlockServer's payload.
type SetBlockServerArgs struct {
	X, Y, Z int16
	Block   uint8
}

// SpawnArgs carries an entity to announce. Self-id encoding (spec §4.2's
// "self-id" rule) is applied at serialize time against the recipient
// connection's own attached entity.
type SpawnArgs struct {
	Entity *entity.Entity
}

// MoveUpdateArgs is PositionAndOrientationUpdate's payload: a relative
// delta against the entity's previously broadcast position.
type MoveUpdateArgs struct {
	Entity     *entity.Entity
	DX, DY, DZ int8
}

// DespawnArgs names the entity whose DespawnPlayer frame to send.
type DespawnArgs struct {
	EntityID uint8
}

// MessageArgs is ServerMessage's payload: the speaker's entity id
// (self-id encoded per recipient) and the already-colorized text.
type MessageArgs struct {
	SenderID uint8
	Text     string
}

// DisconnectArgs is DisconnectPlayer's payload.
type DisconnectArgs struct {
	Reason string
}

func selfEncode(c *Connection, id uint8) int8 {
	own, ok := c.EntityID()
	if !ok {
		return int8(id)
	}
	return classic.EncodeEntityID(id, own)
}

func registerUpstream(d *Dispatcher) {
	d.addUpstream(UpstreamEntry{
		ID: classic.IDServerIdentification,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			a := args.(ServerIdentArgs)
			b := buffer.New(nil)
			p := classic.ServerIdentificationPacket{Name: a.Name, MOTD: a.MOTD}
			p.Encode(b)
			return b, nil
		},
		Complete: func(c *Connection, args any) error {
			return c.SendUpstream(classic.IDLevelInitialize, nil)
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDPing,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			return buffer.New(nil), nil
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDLevelInitialize,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			return buffer.New(nil), nil
		},
		Complete: func(c *Connection, args any) error {
			return streamLevel(c)
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDLevelDataChunk,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			a := args.(classic.LevelDataChunkPacket)
			b := buffer.New(nil)
			a.Encode(b)
			return b, nil
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDLevelFinalize,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			b := buffer.New(nil)
			p := classic.LevelFinalizePacket{Width: world.Width, Height: world.Height, Depth: world.Depth}
			p.Encode(b)
			return b, nil
		},
		Complete: func(c *Connection, args any) error {
			return completeLevelFinalize(c)
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDSetBlockServer,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			a := args.(SetBlockServerArgs)
			b := buffer.New(nil)
			p := classic.SetBlockServerPacket{X: a.X, Y: a.Y, Z: a.Z, Block: a.Block}
			p.Encode(b)
			return b, nil
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDSpawnPlayer,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			a := args.(SpawnArgs)
			e := a.Entity
			x, y, z, yaw, pitch := e.Position()
			b := buffer.New(nil)
			p := classic.SpawnPlayerPacket{
				ID:     selfEncode(c, e.ID),
				Name:   e.Username,
				FixedX: int16(x * 32),
				FixedY: int16(y * 32),
				FixedZ: int16(z * 32),
				Yaw:    yaw,
				Pitch:  pitch,
			}
			p.Encode(b)
			return b, nil
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDPositionAndOrientationStatic,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			a := args.(SpawnArgs)
			e := a.Entity
			x, y, z, yaw, pitch := e.Position()
			b := buffer.New(nil)
			p := classic.PositionAndOrientationStaticPacket{
				ID:     selfEncode(c, e.ID),
				FixedX: int16(x * 32.0),
				FixedY: int16(y * 32.0),
				FixedZ: int16(z * 32.0),
				Yaw:    yaw,
				Pitch:  pitch,
			}
			p.Encode(b)
			return b, nil
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDPositionAndOrientationUpdate,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			a := args.(MoveUpdateArgs)
			e := a.Entity
			_, _, _, yaw, pitch := e.Position()
			b := buffer.New(nil)
			p := classic.PositionAndOrientationUpdatePacket{
				ID:    selfEncode(c, e.ID),
				DX:    a.DX,
				DY:    a.DY,
				DZ:    a.DZ,
				Yaw:   yaw,
				Pitch: pitch,
			}
			p.Encode(b)
			return b, nil
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDDespawnPlayer,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			a := args.(DespawnArgs)
			b := buffer.New(nil)
			p := classic.DespawnPlayerPacket{ID: selfEncode(c, a.EntityID)}
			p.Encode(b)
			return b, nil
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDMessage,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			a := args.(MessageArgs)
			b := buffer.New(nil)
			p := classic.MessagePacket{ID: selfEncode(c, a.SenderID), Text: a.Text}
			p.Encode(b)
			return b, nil
		},
	})

	d.addUpstream(UpstreamEntry{
		ID: classic.IDDisconnectPlayer,
		Serialize: func(c *Connection, args any) (*buffer.Buffer, error) {
			a := args.(DisconnectArgs)
			b := buffer.New(nil)
			p := classic.DisconnectPlayerPacket{Reason: a.Reason}
			p.Encode(b)
			return b, nil
		},
		Complete: func(c *Connection, args any) error {
			c.teardown()
			return nil
		},
	})
}

// streamLevel implements spec §4.3's LevelInitialize-complete chain:
// gzip the connection's world, slice into fixed chunks, dispatch one
// LevelDataChunk per chunk with the legacy percent formula preserved,
// then LevelFinalize.
func streamLevel(c *Connection) error {
	e := c.Entity()
	if e == nil {
		return fmt.Errorf("server: streamLevel called without an attached entity")
	}
	w, ok := c.factory.worlds.GetWorld(e.World)
	if !ok {
		return fmt.Errorf("server: streamLevel: world %q not found", e.World)
	}

	payload, err := w.Serialize()
	if err != nil {
		return err
	}

	for i := 0; i < len(payload); i += levelChunkSize {
		end := i + levelChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[i:end]
		chunkIndex := i / levelChunkSize
		percent := classic.LevelDataChunkPercent(chunk, chunkIndex)
		pkt := classic.LevelDataChunkPacket{Chunk: chunk, Percent: percent}
		if err := c.SendUpstream(classic.IDLevelDataChunk, pkt); err != nil {
			return err
		}
	}
	return c.SendUpstream(classic.IDLevelFinalize, nil)
}

// completeLevelFinalize implements spec §4.3's final post-callback via
// updatePlayers: every other live entity in the world is spawned to the
// new connection first, then the new entity is broadcast to every
// connection in the world, the new connection included (it sees itself
// as self-id -1).
func completeLevelFinalize(c *Connection) error {
	e := c.Entity()
	if e == nil {
		return fmt.Errorf("server: completeLevelFinalize called without an attached entity")
	}
	w, ok := c.factory.worlds.GetWorld(e.World)
	if !ok {
		return fmt.Errorf("server: completeLevelFinalize: world %q not found", e.World)
	}
	c.factory.updatePlayers(w, c)
	return nil
}
