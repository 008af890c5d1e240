package scanning

import (
	"context"
	"net/netip"
	"sync"

	"github.com/anstrom/netscan/internal/errors"
)

// HostLimiter caps how many probes run against one host at a time, so a
// wide port range does not look like a flood to the target. Each host gets
// its own fixed-capacity semaphore.
type HostLimiter struct {
	perHost int
	mutex   sync.Mutex
	slots   map[netip.Addr]chan struct{}
	active  map[netip.Addr]int
}

// NewHostLimiter creates a limiter allowing perHost concurrent probes.
func NewHostLimiter(perHost int) *HostLimiter {
	if perHost <= 0 {
		perHost = 1
	}
	return &HostLimiter{
		perHost: perHost,
		slots:   make(map[netip.Addr]chan struct{}),
		active:  make(map[netip.Addr]int),
	}
}

func (l *HostLimiter) semaphore(addr netip.Addr) chan struct{} {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	sem, ok := l.slots[addr]
	if !ok {
		sem = make(chan struct{}, l.perHost)
		l.slots[addr] = sem
	}
	return sem
}

// Acquire blocks until a slot for addr is free or ctx is done.
func (l *HostLimiter) Acquire(ctx context.Context, addr netip.Addr) error {
	sem := l.semaphore(addr)
	select {
	case sem <- struct{}{}:
		l.mutex.Lock()
		l.active[addr]++
		l.mutex.Unlock()
		return nil
	case <-ctx.Done():
		return errors.WrapScanErrorWithTarget(errors.CodeCanceled, "host slot wait canceled", addr.String(), ctx.Err())
	}
}

// Release frees a slot previously acquired for addr.
func (l *HostLimiter) Release(addr netip.Addr) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.active[addr] == 0 {
		return
	}
	l.active[addr]--
	if l.active[addr] == 0 {
		delete(l.active, addr)
	}
	select {
	case <-l.slots[addr]:
	default:
	}
}

// Active returns the number of probes currently holding a slot for addr.
func (l *HostLimiter) Active(addr netip.Addr) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.active[addr]
}
