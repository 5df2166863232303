package world

import "github.com/blockwire/classicserver/internal/classic"

// hasPhysics reports whether block is subject to the sand/gravel fall
// rule.
func hasPhysics(block uint8) bool {
	return block == classic.BlockSand || block == classic.BlockGravel
}

// applyPhysics implements the spec §4.6 fall rule: a freshly placed
// sand/gravel block slides straight down through air to the first
// resting surface. Every vacated cell settles to AIR and the block's
// final resting cell settles to block — each touched cell is reported
// to the notifier exactly once, which is what lets a client (and the
// property 5 test) see a deterministic, minimal stream of
// SetBlockServer updates instead of the interim place-then-clear pairs
// a naive step-by-step simulation would emit for the same result. Once
// the fall settles, the cell directly above the block's *original*
// placement is inspected: if another physics block was resting there,
// it has just lost its support and recurses through the same rule.
func (w *World) applyPhysics(x, y, z int, block uint8) {
	landed := y
	for dy := y - 1; InRange(x, dy, z); dy-- {
		cur, err := w.GetBlock(x, dy, z)
		if err != nil || cur != classic.BlockAir {
			break
		}
		landed = dy
	}

	if landed != y {
		for cy := y; cy > landed; cy-- {
			w.settle(x, cy, z, classic.BlockAir)
		}
		w.settle(x, landed, z, block)
	}

	above := y + 1
	if !InRange(x, above, z) {
		return
	}
	aboveBlock, err := w.GetBlock(x, above, z)
	if err != nil || !hasPhysics(aboveBlock) {
		return
	}
	w.applyPhysics(x, above, z, aboveBlock)
}

// settle writes a physics-driven block change directly (bypassing
// physics re-entry, matching setBlock(..., update=false) in the
// original) and reports it to the notifier, if any.
func (w *World) settle(x, y, z int, block uint8) {
	w.mu.Lock()
	w.blocks[index(x, y, z)] = block
	w.mu.Unlock()

	if w.notify != nil {
		w.notify(int16(x), int16(y), int16(z), block)
	}
}
