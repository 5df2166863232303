package server

import (
	"github.com/blockwire/classicserver/internal/buffer"
	"github.com/blockwire/classicserver/internal/classic"
)

// deltaFitsI8 reports whether v (already scaled to fixed-point wire
// units) fits in a signed byte, per spec §4.7/testable property 9.
func deltaFitsI8(v int32) bool {
	return v >= -128 && v <= 127
}

// handlePositionAndOrientation implements spec §4.7: dequantize the
// client's fixed-point position, compute the delta against the
// entity's last-known position, and world-broadcast either a relative
// PositionAndOrientationUpdate (delta fits in i8) or an absolute
// PositionAndOrientationStatic otherwise.
func handlePositionAndOrientation(c *Connection, b *buffer.Buffer) error {
	var p classic.PositionAndOrientationPacket
	if err := p.Decode(b); err != nil {
		return err
	}

	e := c.Entity()
	if e == nil {
		return nil
	}

	targetID := p.ID
	if targetID == classic.SelfID {
		targetID = e.ID
	}

	w, ok := c.factory.worlds.GetWorld(e.World)
	if !ok {
		return nil
	}
	target, ok := w.GetEntity(targetID)
	if !ok {
		return nil
	}

	newX := float32(p.X) / 32.0
	newY := float32(p.Y) / 32.0
	newZ := float32(p.Z) / 32.0

	oldX, oldY, oldZ, _, _ := target.SwapPosition(newX, newY, newZ, p.Yaw, p.Pitch)

	dx := int32(newX*32.0) - int32(oldX*32.0)
	dy := int32(newY*32.0) - int32(oldY*32.0)
	dz := int32(newZ*32.0) - int32(oldZ*32.0)

	exceptions := []*Connection{c}
	if deltaFitsI8(dx) && deltaFitsI8(dy) && deltaFitsI8(dz) {
		c.factory.worldBroadcast(w, classic.IDPositionAndOrientationUpdate, exceptions, MoveUpdateArgs{
			Entity: target,
			DX:     int8(dx),
			DY:     int8(dy),
			DZ:     int8(dz),
		})
	} else {
		c.factory.worldBroadcast(w, classic.IDPositionAndOrientationStatic, exceptions, SpawnArgs{Entity: target})
	}
	return nil
}
