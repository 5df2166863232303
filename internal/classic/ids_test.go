package classic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockwire/classicserver/internal/classic"
)

func TestEncodeEntityIDSubstitutesSelfSentinel(t *testing.T) {
	assert.Equal(t, int8(-1), classic.EncodeEntityID(7, 7))
	assert.Equal(t, int8(7), classic.EncodeEntityID(7, 3))
	assert.Equal(t, int8(0), classic.EncodeEntityID(0, 9))
}

func TestHasPermission(t *testing.T) {
	assert.True(t, classic.HasPermission(classic.Guest, classic.Guest))
	assert.True(t, classic.HasPermission(classic.Administrator, classic.Guest))
	assert.False(t, classic.HasPermission(classic.Guest, classic.Administrator))
	assert.True(t, classic.HasPermission(classic.Administrator, classic.Administrator))
}

func TestColorForRank(t *testing.T) {
	assert.Equal(t, classic.ChatColorYellow, classic.ColorForRank(classic.Administrator))
	assert.Equal(t, classic.ChatColorDarkGray, classic.ColorForRank(classic.Guest))
}
