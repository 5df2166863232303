package classic

import "github.com/blockwire/classicserver/internal/buffer"

// Each packet type below encodes/decodes exactly the fixed body layout
// from spec §4.2 (the id byte itself is handled by the dispatcher, not
// here). Coordinates on the wire are already fixed-point (block units *
// 32) where the table calls for it; callers convert.

type PlayerIdentificationPacket struct {
	ProtocolVersion uint8
	Username        string
	VerifyKey       string
	UserType        uint8
}

func (p *PlayerIdentificationPacket) Decode(b *buffer.Buffer) error {
	var err error
	if p.ProtocolVersion, err = b.ReadU8(); err != nil {
		return err
	}
	if p.Username, err = b.ReadString(0); err != nil {
		return err
	}
	if p.VerifyKey, err = b.ReadString(0); err != nil {
		return err
	}
	if p.UserType, err = b.ReadU8(); err != nil {
		return err
	}
	return nil
}

type ServerIdentificationPacket struct {
	Name string
	MOTD string
}

func (p *ServerIdentificationPacket) Encode(b *buffer.Buffer) {
	b.WriteU8(ProtocolVersion)
	b.WriteString(p.Name, 0)
	b.WriteString(p.MOTD, 0)
	b.WriteU8(0) // userType: always 0, no op permissions
}

type LevelDataChunkPacket struct {
	Chunk   []byte // raw chunk bytes, <=1024
	Percent uint8
}

// Encode writes the chunk length, the zero-padded chunk and the
// precomputed Percent as-is; the legacy percent formula lives in
// LevelDataChunkPercent. See DESIGN.md.
func (p *LevelDataChunkPacket) Encode(b *buffer.Buffer) {
	b.WriteI16(int16(len(p.Chunk)))
	b.WriteArray(p.Chunk, 0)
	b.WriteU8(p.Percent)
}

// LevelDataChunkPercent computes the legacy, intentionally-preserved
// percent field: int((100 / len(chunk)) * chunkIndex).
func LevelDataChunkPercent(chunk []byte, chunkIndex int) uint8 {
	if len(chunk) == 0 {
		return 0
	}
	return uint8((100 / len(chunk)) * chunkIndex)
}

type LevelFinalizePacket struct {
	Width, Height, Depth int16
}

func (p *LevelFinalizePacket) Encode(b *buffer.Buffer) {
	b.WriteI16(p.Width)
	b.WriteI16(p.Height)
	b.WriteI16(p.Depth)
}

type SetBlockClientPacket struct {
	X, Y, Z int16
	Mode    uint8
	Block   uint8
}

func (p *SetBlockClientPacket) Decode(b *buffer.Buffer) error {
	var err error
	if p.X, err = b.ReadI16(); err != nil {
		return err
	}
	if p.Y, err = b.ReadI16(); err != nil {
		return err
	}
	if p.Z, err = b.ReadI16(); err != nil {
		return err
	}
	if p.Mode, err = b.ReadU8(); err != nil {
		return err
	}
	if p.Block, err = b.ReadU8(); err != nil {
		return err
	}
	return nil
}

type SetBlockServerPacket struct {
	X, Y, Z int16
	Block   uint8
}

func (p *SetBlockServerPacket) Encode(b *buffer.Buffer) {
	b.WriteI16(p.X)
	b.WriteI16(p.Y)
	b.WriteI16(p.Z)
	b.WriteU8(p.Block)
}

// SpawnPlayerPacket carries fixed-point (block units * 32) positions.
type SpawnPlayerPacket struct {
	ID                 int8
	Name               string
	FixedX, FixedY, FixedZ int16
	Yaw, Pitch         uint8
}

func (p *SpawnPlayerPacket) Encode(b *buffer.Buffer) {
	b.WriteI8(p.ID)
	b.WriteString(p.Name, 0)
	b.WriteI16(p.FixedX)
	b.WriteI16(p.FixedY)
	b.WriteI16(p.FixedZ)
	b.WriteU8(p.Yaw)
	b.WriteU8(p.Pitch)
}

type PositionAndOrientationPacket struct {
	ID         uint8
	X, Y, Z    int16
	Yaw, Pitch uint8
}

func (p *PositionAndOrientationPacket) Decode(b *buffer.Buffer) error {
	var err error
	if p.ID, err = b.ReadU8(); err != nil {
		return err
	}
	if p.X, err = b.ReadI16(); err != nil {
		return err
	}
	if p.Y, err = b.ReadI16(); err != nil {
		return err
	}
	if p.Z, err = b.ReadI16(); err != nil {
		return err
	}
	if p.Yaw, err = b.ReadU8(); err != nil {
		return err
	}
	if p.Pitch, err = b.ReadU8(); err != nil {
		return err
	}
	return nil
}

type PositionAndOrientationStaticPacket struct {
	ID                     int8
	FixedX, FixedY, FixedZ int16
	Yaw, Pitch             uint8
}

func (p *PositionAndOrientationStaticPacket) Encode(b *buffer.Buffer) {
	b.WriteI8(p.ID)
	b.WriteI16(p.FixedX)
	b.WriteI16(p.FixedY)
	b.WriteI16(p.FixedZ)
	b.WriteU8(p.Yaw)
	b.WriteU8(p.Pitch)
}

type PositionAndOrientationUpdatePacket struct {
	ID             int8
	DX, DY, DZ     int8
	Yaw, Pitch     uint8
}

func (p *PositionAndOrientationUpdatePacket) Encode(b *buffer.Buffer) {
	b.WriteI8(p.ID)
	b.WriteI8(p.DX)
	b.WriteI8(p.DY)
	b.WriteI8(p.DZ)
	b.WriteU8(p.Yaw)
	b.WriteU8(p.Pitch)
}

type DespawnPlayerPacket struct {
	ID int8
}

func (p *DespawnPlayerPacket) Encode(b *buffer.Buffer) {
	b.WriteI8(p.ID)
}

// MessagePacket is the 0x0d body shared by ClientMessage (downstream,
// u8 id) and ServerMessage (upstream, i8 id with self-id encoding).
type MessagePacket struct {
	ID   int8
	Text string
}

func (p *MessagePacket) Encode(b *buffer.Buffer) {
	b.WriteI8(p.ID)
	b.WriteString(p.Text, 0)
}

func (p *MessagePacket) DecodeDownstream(b *buffer.Buffer) error {
	id, err := b.ReadU8()
	if err != nil {
		return err
	}
	p.ID = int8(id)
	if p.Text, err = b.ReadString(0); err != nil {
		return err
	}
	return nil
}

type DisconnectPlayerPacket struct {
	Reason string
}

func (p *DisconnectPlayerPacket) Encode(b *buffer.Buffer) {
	b.WriteString(p.Reason, 0)
}
