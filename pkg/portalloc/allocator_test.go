package portalloc

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
)

func TestAllocateWithinRange(t *testing.T) {
	a := NewAllocator(23000, 23100)

	for i := 0; i < 20; i++ {
		port, err := a.Allocate()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, port, 23000)
		assert.LessOrEqual(t, port, 23100)
	}
}

func TestAllocateKernelAssigned(t *testing.T) {
	a := NewAllocator(0, 0)

	port, err := a.Allocate()

	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.LessOrEqual(t, port, 65535)
}

func TestAllocateRerollsOccupiedPort(t *testing.T) {
	// Occupy the first port of a two-port range and steer the rolls at it
	// first
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	occupied := listener.Addr().(*net.TCPAddr).Port

	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	freePort := free.Addr().(*net.TCPAddr).Port
	free.Close()

	rolls := 0
	a := &Allocator{
		Min:        occupied,
		Max:        occupied,
		MaxRetries: 4,
		Rand:       func(n int) int { rolls++; return 0 },
	}
	_, err = a.Allocate()
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
	assert.Equal(t, 4, rolls)

	// With the free port reachable the re-roll must land on it
	if freePort < occupied {
		a = &Allocator{Min: freePort, Max: occupied, MaxRetries: 4,
			Rand: rollSequence(occupied-freePort, 0)}
	} else {
		a = &Allocator{Min: occupied, Max: freePort, MaxRetries: 4,
			Rand: rollSequence(0, freePort-occupied)}
	}
	port, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, freePort, port)
}

// rollSequence returns the given values in order, then repeats the last one
func rollSequence(values ...int) func(int) int {
	i := 0
	return func(int) int {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

func TestAllocateHalfZeroRange(t *testing.T) {
	for _, a := range []*Allocator{
		NewAllocator(0, 22000),
		NewAllocator(21000, 0),
		NewAllocator(-1, 22000),
	} {
		_, err := a.Allocate()
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	}
}

func TestAllocateInvertedRange(t *testing.T) {
	a := NewAllocator(30000, 20000)

	_, err := a.Allocate()

	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestAllocatedPortIsBindable(t *testing.T) {
	a := NewAllocator(24000, 24100)

	port, err := a.Allocate()
	require.NoError(t, err)

	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	l.Close()
}
