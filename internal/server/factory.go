package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blockwire/classicserver/internal/classic"
	"github.com/blockwire/classicserver/internal/entity"
	"github.com/blockwire/classicserver/internal/scheduler"
	"github.com/blockwire/classicserver/internal/world"
)

// saltAlphabet is the base62 character set spec §3 draws the 16-char
// server salt from.
const saltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Info is the server's own advertised identity: the fields spec §4.2's
// ServerIdentification and spec §6's heartbeat both need.
type Info struct {
	Name       string
	MOTD       string
	Software   string
	Public     bool
	MaxPlayers int
}

// Factory is the spec's NetworkFactory: the connection registry, the
// generated salt, the world manager and the global/world-scoped
// broadcast fabric, grounded on the teacher's Server (sync.Map of
// players) merged with original_source/redstone/network.py's
// NetworkFactory.
type Factory struct {
	Info Info
	salt string

	log    zerolog.Logger
	worlds *world.Manager

	mu          sync.Mutex
	connections []*Connection // insertion order

	dispatcher *Dispatcher
	commands   *CommandDispatcher
	scheduler  *scheduler.Manager
}

// SetScheduler installs the task scheduler commands like /mute use to
// schedule delayed unmutes. Call before serving connections.
func (f *Factory) SetScheduler(s *scheduler.Manager) {
	f.scheduler = s
}

// Log returns the factory's logger, for collaborators (heartbeat, cmd
// wiring) that need to log under the same correlation scheme.
func (f *Factory) Log() zerolog.Logger {
	return f.log
}

// Usernames returns the usernames of every currently-connected player,
// in connection insertion order, used by the /list command.
func (f *Factory) Usernames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.connections))
	for _, c := range f.connections {
		if e := c.Entity(); e != nil {
			out = append(out, e.Username)
		}
	}
	return out
}

// FindConnectionByUsername returns the connection whose attached
// entity has the given username, if any is currently online.
func (f *Factory) FindConnectionByUsername(username string) (*Connection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.connections {
		if e := c.Entity(); e != nil && e.Username == username {
			return c, true
		}
	}
	return nil, false
}

// NewFactory builds a Factory around an already-populated world
// Manager. The salt is generated once here and is stable for the
// process lifetime.
func NewFactory(info Info, worlds *world.Manager, log zerolog.Logger) (*Factory, error) {
	salt, err := generateSalt()
	if err != nil {
		return nil, err
	}
	f := &Factory{
		Info:   info,
		salt:   salt,
		log:    log,
		worlds: worlds,
	}
	f.dispatcher = NewDispatcher(log)
	f.commands = newCommandDispatcher(f)
	worlds.SetNotifier(f.onPhysicsChange)
	return f, nil
}

// NewFactoryWithSalt is NewFactory with a caller-supplied salt instead
// of a randomly generated one, used by tests that need a deterministic
// auth handshake (spec §8 scenario S1/S2 fix the salt explicitly).
func NewFactoryWithSalt(info Info, worlds *world.Manager, log zerolog.Logger, salt string) (*Factory, error) {
	f, err := NewFactory(info, worlds, log)
	if err != nil {
		return nil, err
	}
	f.salt = salt
	return f, nil
}

func generateSalt() (string, error) {
	out := make([]byte, 16)
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		out[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}
	return string(out), nil
}

// Salt returns the process-lifetime auth salt.
func (f *Factory) Salt() string {
	return f.salt
}

// Worlds returns the world manager backing this factory.
func (f *Factory) Worlds() *world.Manager {
	return f.worlds
}

// PlayerCount reports the number of currently-registered connections,
// used by the heartbeat task.
func (f *Factory) PlayerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connections)
}

// Serve accepts connections on listener until ctx is cancelled, running
// each one in its own goroutine under group, matching the teacher's
// "go s.newPlayer(conn)" pattern but supervised instead of fire-and-
// forget.
func (f *Factory) Serve(ctx context.Context, listener net.Listener, group *errgroup.Group) {
	group.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})
	group.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					f.log.Warn().Err(err).Msg("factory: accept error")
					continue
				}
			}
			c := f.register(conn)
			group.Go(func() error {
				c.Run()
				return nil
			})
		}
	})
}

func (f *Factory) register(conn net.Conn) *Connection {
	c := newConnection(conn, f)
	f.addConnection(c)
	return c
}

// Accept registers conn as a new connection and starts its inbound
// frame loop on its own untracked goroutine, returning immediately.
// Serve is the normal entry point for a real TCP listener; Accept is
// exported separately so tests can drive the handshake over a
// net.Pipe without standing up a listener or an errgroup.
func (f *Factory) Accept(conn net.Conn) *Connection {
	c := f.register(conn)
	go c.Run()
	return c
}

func (f *Factory) addConnection(c *Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections = append(f.connections, c)
}

func (f *Factory) removeConnection(c *Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.connections {
		if existing == c {
			f.connections = append(f.connections[:i], f.connections[i+1:]...)
			return
		}
	}
}

// Drop tears c down after telling it why, used by admin commands like
// /kick. The backpressure path does not use it: a saturated queue is
// torn down directly in Connection.send.
func (f *Factory) Drop(c *Connection, reason string) {
	_ = c.SendUpstream(classic.IDDisconnectPlayer, DisconnectArgs{Reason: reason})
}

// Broadcast implements spec §4.8's factory.broadcast: dispatch to every
// registered connection in insertion order except those in exceptions.
// exceptions is never mutated and the caller's slice is never retained.
func (f *Factory) Broadcast(id uint8, exceptions []*Connection, args any) {
	f.mu.Lock()
	targets := make([]*Connection, len(f.connections))
	copy(targets, f.connections)
	f.mu.Unlock()

	for _, c := range targets {
		if containsConn(exceptions, c) {
			continue
		}
		if err := c.SendUpstream(id, args); err != nil {
			f.log.Debug().Err(err).Str("conn", c.ID.String()).Msg("factory: broadcast send failed")
		}
	}
}

func containsConn(set []*Connection, c *Connection) bool {
	for _, s := range set {
		if s == c {
			return true
		}
	}
	return false
}

// BroadcastMessage sends a plain server message (used for join/leave
// announcements) to every connection, applying
// spec §4.8's global broadcast.
func (f *Factory) BroadcastMessage(text string, exceptions []*Connection) {
	f.Broadcast(classic.IDMessage, exceptions, MessageArgs{SenderID: classic.SelfID, Text: text})
}

// worldBroadcast implements spec §4.8's worldManager.broadcast: extend
// exceptions with every connection whose entity isn't in world (or has
// none), then defer to Factory.Broadcast. The input exceptions slice is
// copied, never mutated in place, matching the spec's "exception lists
// must be copied, never shared" rule.
func (f *Factory) worldBroadcast(w *world.World, id uint8, exceptions []*Connection, args any) {
	f.mu.Lock()
	all := make([]*Connection, len(f.connections))
	copy(all, f.connections)
	f.mu.Unlock()

	extended := make([]*Connection, len(exceptions), len(exceptions)+len(all))
	copy(extended, exceptions)
	for _, c := range all {
		if containsConn(extended, c) {
			continue
		}
		e := c.Entity()
		if e == nil || e.World != w.Name {
			extended = append(extended, c)
		}
	}
	f.Broadcast(id, extended, args)
}

// onPhysicsChange is installed on the world Manager as its NotifyFunc;
// it routes a physics-settled block change through the world-scoped
// broadcast fabric, avoiding an internal/world -> internal/server
// import cycle (see DESIGN.md).
func (f *Factory) onPhysicsChange(w *world.World, x, y, z int16, block uint8) {
	f.worldBroadcast(w, classic.IDSetBlockServer, nil, SetBlockServerArgs{X: x, Y: y, Z: z, Block: block})
}

// IsUsernameTaken reports whether username already belongs to a live
// player entity in any loaded world, per spec §4.4 step 1.
func (f *Factory) IsUsernameTaken(username string) bool {
	for _, w := range f.worlds.Worlds() {
		for _, e := range w.Entities() {
			if e.IsPlayer() && e.Username == username {
				return true
			}
		}
	}
	return false
}

// addPlayer implements spec §4.5's World.addPlayer: allocate a fresh
// id, build the player entity, attach it to the connection, register
// it, and announce the join globally.
func (f *Factory) addPlayer(w *world.World, c *Connection, username string) (*entity.Entity, error) {
	id, err := w.Allocator().Allocate()
	if err != nil {
		return nil, err
	}
	e := entity.NewPlayer(id, w.Name, username)
	c.SetEntity(e)
	w.AddEntity(e)

	f.BroadcastMessage(fmt.Sprintf("%s%s joined the game.%s", classic.ChatColorBlue, username, classic.ChatColorWhite), nil)
	return e, nil
}

// removePlayer implements spec §4.5's World.removePlayer: unregister
// the entity, deallocate its id, announce a world-scoped despawn and a
// global leave message, then detach the connection's entity reference.
func (f *Factory) removePlayer(w *world.World, c *Connection) {
	e := c.Entity()
	if e == nil {
		return
	}
	w.RemoveEntity(e.ID)
	w.Allocator().Deallocate(e.ID)

	f.worldBroadcast(w, classic.IDDespawnPlayer, []*Connection{c}, DespawnArgs{EntityID: e.ID})
	f.BroadcastMessage(fmt.Sprintf("%s%s left the game.%s", classic.ChatColorBlue, e.Username, classic.ChatColorWhite), nil)

	c.SetEntity(nil)
}

// updatePlayers implements spec §4.5's World.updatePlayers: spawn every
// other entity in the world to the new connection, then world-scope
// broadcast the new connection's entity to everyone (no exceptions, per
// spec: "broadcasts SpawnPlayer(connection.entity) with [] as the
// exception list").
func (f *Factory) updatePlayers(w *world.World, c *Connection) {
	e := c.Entity()
	if e == nil {
		return
	}
	for _, other := range w.Entities() {
		if other.ID == e.ID {
			continue
		}
		_ = c.SendUpstream(classic.IDSpawnPlayer, SpawnArgs{Entity: other})
	}
	f.worldBroadcast(w, classic.IDSpawnPlayer, nil, SpawnArgs{Entity: e})
}
