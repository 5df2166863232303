// Package entity implements the spec's Entity record and the fixed
// 255-id allocator worlds draw from, grounded on
// original_source/redstone/entity.py's Entity/PlayerEntity/
// UniqueIdAllocator, redesigned (per spec §3) into a real free/taken
// pool instead of the original's never-reused monotonic counter.
package entity

import (
	"errors"
	"sync"

	"github.com/blockwire/classicserver/internal/classic"
)

// ErrResourceExhausted is returned by Allocator.Allocate when all 255
// ids are taken.
var ErrResourceExhausted = errors.New("entity: id pool exhausted")

// Kind distinguishes a human player connection from any future
// non-player entity (mobs are out of this spec's scope, but the
// discrimination is part of the data model).
type Kind int

const (
	Player Kind = iota
	NonPlayer
)

// Entity is the common attribute record for anything placed in a world.
// ID, World, Kind, Username and Connection are set once at construction
// and never change afterward, so they're safe to read without
// synchronization. Position, rank and mute state are mutated from more
// than one connection's I/O loop (a player moving themselves, an admin
// muting or teleporting someone else) and from the scheduler's own
// goroutine (a delayed unmute), so mu guards all of them; callers use
// the accessor methods below rather than touching fields directly.
type Entity struct {
	ID    uint8
	World string
	Kind  Kind

	// Username is a player-only field; empty for NonPlayer entities.
	Username string

	// Connection is an opaque back-reference to the owning connection,
	// set once by the server package. Entity itself never dereferences
	// it; it only exists so callers can go from an Entity to its
	// connection via a type assertion, the same stable-key idiom the
	// spec's Design Notes calls for instead of a strong struct coupling.
	Connection interface{}

	mu             sync.Mutex
	x, y, z        float32
	yaw, pitch     uint8
	rank           classic.PlayerRank
	muted          bool
	muteGeneration uint64
}

// NewPlayer builds a player entity at the spec's default spawn position,
// unmuted and ranked Guest.
func NewPlayer(id uint8, world, username string) *Entity {
	return &Entity{
		ID:       id,
		World:    world,
		Kind:     Player,
		Username: username,
		x:        33,
		y:        34,
		z:        33,
		rank:     classic.Guest,
	}
}

// IsPlayer reports whether this entity represents a human player.
func (e *Entity) IsPlayer() bool {
	return e.Kind == Player
}

// Position returns the entity's current coordinates and orientation.
func (e *Entity) Position() (x, y, z float32, yaw, pitch uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.x, e.y, e.z, e.yaw, e.pitch
}

// SwapPosition atomically replaces the entity's position/orientation and
// returns what it was immediately before, so a caller computing a
// movement delta never races a concurrent writer between its read and
// its write.
func (e *Entity) SwapPosition(x, y, z float32, yaw, pitch uint8) (oldX, oldY, oldZ float32, oldYaw, oldPitch uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	oldX, oldY, oldZ, oldYaw, oldPitch = e.x, e.y, e.z, e.yaw, e.pitch
	e.x, e.y, e.z, e.yaw, e.pitch = x, y, z, yaw, pitch
	return
}

// Rank returns the entity's current permission tier.
func (e *Entity) Rank() classic.PlayerRank {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rank
}

// SetRank changes the entity's permission tier.
func (e *Entity) SetRank(r classic.PlayerRank) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rank = r
}

// IsMuted reports whether chat from this entity is currently suppressed.
func (e *Entity) IsMuted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// ToggleMuted flips the entity's mute state and returns the new value.
func (e *Entity) ToggleMuted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = !e.muted
	return e.muted
}

// BeginMute increments the mute generation counter and returns the new
// generation, to be captured by a scheduled unmute callback.
func (e *Entity) BeginMute() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muteGeneration++
	e.muted = true
	return e.muteGeneration
}

// UnmuteIfGeneration clears the mute flag only if gen is still the most
// recent mute invocation, so a scheduled unmute can't undo a later
// /mute issued while it was waiting (see DESIGN.md's Open Question on
// the mute-timeout bug). The check and the write happen under the same
// lock, so this is race-free against a concurrent BeginMute.
func (e *Entity) UnmuteIfGeneration(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.muteGeneration == gen {
		e.muted = false
	}
}

// Allocator is a fixed pool of 255 ids (0..254); id 255 is reserved as
// the wire "self" sentinel and is never handed out. Allocate always
// returns the lowest free id, deterministically.
type Allocator struct {
	mu    sync.Mutex
	taken [classic.SelfID]bool // indices 0..254
}

// NewAllocator returns an empty (all-free) allocator.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Allocate returns the lowest free id and marks it taken, or
// ErrResourceExhausted if the pool is full.
func (a *Allocator) Allocate() (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.taken {
		if !a.taken[i] {
			a.taken[i] = true
			return uint8(i), nil
		}
	}
	return 0, ErrResourceExhausted
}

// Deallocate returns id to the free pool. Deallocating an id that was
// never allocated (or id 255) is a no-op.
func (a *Allocator) Deallocate(id uint8) {
	if id >= classic.SelfID {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.taken[id] = false
}

// Live reports how many ids are currently allocated.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, t := range a.taken {
		if t {
			n++
		}
	}
	return n
}
