package server

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/blockwire/classicserver/internal/buffer"
	"github.com/blockwire/classicserver/internal/classic"
	"github.com/blockwire/classicserver/internal/entity"
	"github.com/blockwire/classicserver/internal/world"
)

// ErrAuthFailed is returned internally when a client's verifyKey
// doesn't match the expected salted hash.
var ErrAuthFailed = errors.New("server: authentication failed")

// ErrNameTaken is returned internally when a username is already
// attached to a live player entity.
var ErrNameTaken = errors.New("server: username already in use")

// handlePlayerIdentification implements spec §4.4's authentication
// handshake: reject duplicate usernames, verify the salted md5 key with
// a constant-time comparison, then join the player to the main world
// and kick off the level-streaming chain.
func handlePlayerIdentification(c *Connection, b *buffer.Buffer) error {
	var p classic.PlayerIdentificationPacket
	if err := p.Decode(b); err != nil {
		return err
	}

	f := c.factory

	if f.IsUsernameTaken(p.Username) {
		return c.SendUpstream(classic.IDDisconnectPlayer, DisconnectArgs{
			Reason: "There is already a player logged in with that username!",
		})
	}

	if !verifyKey(f.Salt(), p.Username, p.VerifyKey) {
		return c.SendUpstream(classic.IDDisconnectPlayer, DisconnectArgs{
			Reason: "Not authenticated with classicube.net!",
		})
	}

	main, err := f.worlds.GetMainWorld()
	if err != nil {
		return err
	}

	if _, joinErr := f.addPlayer(main, c, p.Username); joinErr != nil {
		if errors.Is(joinErr, entity.ErrResourceExhausted) {
			return c.SendUpstream(classic.IDDisconnectPlayer, DisconnectArgs{Reason: "Server full."})
		}
		return joinErr
	}

	return c.SendUpstream(classic.IDServerIdentification, ServerIdentArgs{
		Name: f.Info.Name,
		MOTD: f.Info.MOTD,
	})
}

// verifyKey computes md5(salt||username) as lowercase hex and compares
// it to candidate in constant time, per spec §4.4 step 2.
func verifyKey(salt, username, candidate string) bool {
	sum := md5.Sum([]byte(salt + username))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}

// teleport implements spec S6's cross-world move: remove the player
// from their current world, join them to dst, and replay the
// level-streaming chain exactly as a fresh login would.
func teleport(c *Connection, dst *world.World) error {
	e := c.Entity()
	if e == nil {
		return errors.New("server: teleport requires an attached entity")
	}
	username := e.Username

	src, ok := c.factory.worlds.GetWorldFromEntity(e.ID)
	if ok {
		c.factory.removePlayer(src, c)
	}

	if _, err := c.factory.addPlayer(dst, c, username); err != nil {
		return err
	}

	return c.SendUpstream(classic.IDServerIdentification, ServerIdentArgs{
		Name: c.factory.Info.Name,
		MOTD: c.factory.Info.MOTD,
	})
}
