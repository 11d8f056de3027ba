package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ObserveSensorThenMaxNodeID(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.ObserveSensor(1, 1, 6, "humidity"))

	sensorType, desc, ok := m.SensorType(1, 1)
	require.True(t, ok)
	assert.Equal(t, uint8(6), sensorType)
	assert.Equal(t, "humidity", desc)

	max, err := m.MaxNodeID()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), max)
}

func TestMemoryStore_AllocateNodeIDIsMonotonic(t *testing.T) {
	m := NewMemoryStore()
	first, err := m.AllocateNodeID()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), first)

	second, err := m.AllocateNodeID()
	require.NoError(t, err)
	assert.Equal(t, uint8(2), second)
}

func TestMemoryStore_AllocateNodeIDOverflow(t *testing.T) {
	m := NewMemoryStore()
	for i := 0; i < 254; i++ {
		_, err := m.AllocateNodeID()
		require.NoError(t, err)
	}
	_, err := m.AllocateNodeID()
	assert.ErrorIs(t, err, ErrNodeIDOverflow)
}
