package server

import (
	"fmt"
	"strings"

	"github.com/blockwire/classicserver/internal/buffer"
	"github.com/blockwire/classicserver/internal/classic"
)

// handleClientMessage implements spec §4.2's downstream Message and its
// two onward paths: text starting with "/" is routed to the command
// dispatcher (spec §4.9), everything else is rendered with the
// speaker's rank color and world-broadcast, unless the speaker is
// currently muted.
func handleClientMessage(c *Connection, b *buffer.Buffer) error {
	var p classic.MessagePacket
	if err := p.DecodeDownstream(b); err != nil {
		return err
	}

	e := c.Entity()
	if e == nil {
		return nil
	}

	if strings.HasPrefix(p.Text, "/") {
		c.factory.commands.Dispatch(c, p.Text)
		return nil
	}

	if e.IsMuted() {
		return nil
	}

	w, ok := c.factory.worlds.GetWorld(e.World)
	if !ok {
		return nil
	}

	rendered := fmt.Sprintf("%s%s&f: %s", classic.ColorForRank(e.Rank()), e.Username, p.Text)
	c.factory.worldBroadcast(w, classic.IDMessage, nil, MessageArgs{SenderID: e.ID, Text: rendered})
	return nil
}
