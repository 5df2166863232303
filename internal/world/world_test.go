package world_test

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockwire/classicserver/internal/classic"
	"github.com/blockwire/classicserver/internal/world"
)

func TestInRangeRejectsOutOfVolume(t *testing.T) {
	require.True(t, world.InRange(0, 0, 0))
	require.True(t, world.InRange(world.Width-1, world.Height-1, world.Depth-1))
	require.False(t, world.InRange(-1, 0, 0))
	require.False(t, world.InRange(0, world.Height, 0))
	require.False(t, world.InRange(world.Width, 0, 0))
}

func TestSetBlockOutOfRangeIsRejected(t *testing.T) {
	w := world.New("main")
	err := w.SetBlock(-1, 0, 0, classic.BlockDirt, false)
	require.ErrorIs(t, err, world.ErrOutOfRange)
}

func TestSerializeLoadRoundTrip(t *testing.T) {
	w := world.New("main")
	require.NoError(t, w.SetBlock(10, 10, 10, classic.BlockGravel, false))

	data, err := w.Serialize()
	require.NoError(t, err)

	blocks, err := world.Load(data)
	require.NoError(t, err)

	loaded := world.FromBlocks("main", blocks)
	got, err := loaded.GetBlock(10, 10, 10)
	require.NoError(t, err)
	require.Equal(t, classic.BlockGravel, got)
}

func TestLoadDetectsCorruptPrefix(t *testing.T) {
	w := world.New("main")
	data, err := w.Serialize()
	require.NoError(t, err)

	// Re-encode the same payload behind a length prefix one larger than
	// the block array that follows it, so decompression succeeds and
	// only the length check can reject it.
	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	raw, err := io.ReadAll(gr)
	require.NoError(t, err)
	binary.BigEndian.PutUint32(raw[:4], binary.BigEndian.Uint32(raw[:4])+1)

	var tampered bytes.Buffer
	gw := gzip.NewWriter(&tampered)
	_, err = gw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	_, err = world.Load(tampered.Bytes())
	require.ErrorIs(t, err, world.ErrCorruptWorld)
}

func TestSandFallsToRestWithMinimalBroadcasts(t *testing.T) {
	w := world.New("main")

	// Carve an air shaft from y=9 down to y=1 below the y=10 placement
	// cell, with dirt already at y=0 from terrain generation (generate()
	// puts dirt below y=32).
	for y := 1; y <= 9; y++ {
		require.NoError(t, w.SetBlock(5, y, 5, classic.BlockAir, false))
	}

	type change struct {
		x, y, z int16
		block   uint8
	}
	var changes []change
	w.SetNotifier(func(x, y, z int16, block uint8) {
		changes = append(changes, change{x, y, z, block})
	})

	require.NoError(t, w.SetBlock(5, 10, 5, classic.BlockSand, true))

	for y := 10; y >= 2; y-- {
		b, err := w.GetBlock(5, y, 5)
		require.NoError(t, err)
		require.Equal(t, classic.BlockAir, b, "y=%d should be air", y)
	}
	b, err := w.GetBlock(5, 1, 5)
	require.NoError(t, err)
	require.Equal(t, classic.BlockSand, b)

	require.Len(t, changes, 10, "one SetBlockServer per intermediate cell plus the terminal cell")
}

func TestSandAtRestOnNonAirDoesNotFall(t *testing.T) {
	w := world.New("main")

	var changes int
	w.SetNotifier(func(x, y, z int16, block uint8) { changes++ })

	// y=33 is air per generate(), y=32 is grass: sand placed directly on
	// grass has nowhere to fall.
	require.NoError(t, w.SetBlock(5, 33, 5, classic.BlockSand, true))

	b, err := w.GetBlock(5, 33, 5)
	require.NoError(t, err)
	require.Equal(t, classic.BlockSand, b)
	require.Zero(t, changes)
}
