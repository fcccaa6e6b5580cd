package portalloc

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/phayes/freeport"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
)

// DefaultMaxRetries bounds the collision re-roll loop
const DefaultMaxRetries = 16

// Allocator hands out provably-unused loopback TCP ports from a configured
// high-port range. Two concurrent callers may roll the same port; the bind
// check makes one of them re-roll.
type Allocator struct {
	// Min/Max bound the port range (inclusive). Both zero delegates to a
	// kernel-assigned free port.
	Min int
	Max int

	// Rand returns a value in [0, n); injectable for tests. Defaults to
	// math/rand.Intn.
	Rand func(n int) int

	// MaxRetries bounds the re-roll loop on bind conflicts
	MaxRetries int
}

// NewAllocator creates an allocator over the given inclusive port range
func NewAllocator(min, max int) *Allocator {
	return &Allocator{
		Min:        min,
		Max:        max,
		Rand:       rand.Intn,
		MaxRetries: DefaultMaxRetries,
	}
}

// Allocate returns a loopback TCP port that was unused at the time of the
// bind check
func (a *Allocator) Allocate() (int, error) {
	if a.Min == 0 && a.Max == 0 {
		port, err := freeport.GetFreePort()
		if err != nil {
			return 0, errors.NewNetworkError("failed to get a kernel-assigned free port", err)
		}
		return port, nil
	}

	// Port 0 would pass the bind check with a kernel-assigned port the
	// engine inbound cannot use
	if a.Min <= 0 || a.Max <= 0 {
		return 0, errors.NewValidationError("port range must be fully set or fully zero", nil).
			WithContext("min", a.Min).WithContext("max", a.Max)
	}
	if a.Min > a.Max {
		return 0, errors.NewValidationError("port range minimum exceeds maximum", nil).
			WithContext("min", a.Min).WithContext("max", a.Max)
	}

	randFn := a.Rand
	if randFn == nil {
		randFn = rand.Intn
	}
	retries := a.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}

	for i := 0; i < retries; i++ {
		port := a.Min + randFn(a.Max-a.Min+1)
		if !portAvailable(port) {
			continue
		}
		return port, nil
	}

	return 0, errors.NewConflictError(
		fmt.Sprintf("no free port found in range %d-%d after %d attempts", a.Min, a.Max, retries),
		nil)
}

// portAvailable bind-checks a loopback port
func portAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
