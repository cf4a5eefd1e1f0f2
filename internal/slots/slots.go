// Package slots implements the per-provider instance slot pool. A slot is
// a named ticket ("claude-0", "claude-1", ...) authorizing one concurrent
// worker of that provider; the total pool size bounds orchestrator
// concurrency.
package slots

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/errors"
)

// Allocator hands out and reclaims instance slots. Safe for concurrent
// use.
type Allocator struct {
	mu       sync.Mutex
	capacity map[assignment.Provider]int
	inUse    map[string]bool // slot id -> held
}

// New creates an Allocator with the given per-provider capacities.
// Providers with zero capacity never hand out slots.
func New(capacity map[assignment.Provider]int) *Allocator {
	cp := make(map[assignment.Provider]int, len(capacity))
	for p, n := range capacity {
		if n > 0 {
			cp[p] = n
		}
	}
	return &Allocator{
		capacity: cp,
		inUse:    make(map[string]bool),
	}
}

// SlotID formats the slot id for a provider and index.
func SlotID(p assignment.Provider, n int) string {
	return fmt.Sprintf("%s-%d", p, n)
}

// ParseSlotID splits a slot id back into provider and index.
func ParseSlotID(id string) (assignment.Provider, int, error) {
	i := strings.LastIndex(id, "-")
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed slot id %q", id)
	}
	p := assignment.Provider(id[:i])
	if !p.Valid() {
		return "", 0, fmt.Errorf("unknown provider in slot id %q", id)
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("malformed slot index in %q", id)
	}
	return p, n, nil
}

// Acquire reserves the lowest free slot for a provider. Returns
// errors.ErrNoSlotAvailable when the provider's pool is exhausted.
func (a *Allocator) Acquire(p assignment.Provider) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.capacity[p]
	if !ok {
		return "", fmt.Errorf("%w: provider %s has no capacity", errors.ErrNoSlotAvailable, p)
	}
	for i := 0; i < n; i++ {
		id := SlotID(p, i)
		if !a.inUse[id] {
			a.inUse[id] = true
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: all %d %s slots in use", errors.ErrNoSlotAvailable, n, p)
}

// AcquireAny reserves a slot from any provider with free capacity,
// preferring providers in assignment.Providers() order.
func (a *Allocator) AcquireAny() (string, error) {
	for _, p := range assignment.Providers() {
		if id, err := a.Acquire(p); err == nil {
			return id, nil
		}
	}
	return "", errors.ErrNoSlotAvailable
}

// Release returns a slot to the pool. Releasing a free slot is a no-op.
func (a *Allocator) Release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, id)
}

// MarkInUse reserves a specific slot, for rebuilding state on startup.
// Returns errors.ErrSlotInUse if already held, or an error for ids outside
// the configured capacity.
func (a *Allocator) MarkInUse(id string) error {
	p, n, err := ParseSlotID(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n >= a.capacity[p] {
		return fmt.Errorf("slot %s exceeds configured capacity %d", id, a.capacity[p])
	}
	if a.inUse[id] {
		return fmt.Errorf("%w: %s", errors.ErrSlotInUse, id)
	}
	a.inUse[id] = true
	return nil
}

// Free returns the number of free slots for a provider.
func (a *Allocator) Free(p assignment.Provider) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	free := 0
	for i := 0; i < a.capacity[p]; i++ {
		if !a.inUse[SlotID(p, i)] {
			free++
		}
	}
	return free
}

// FreeTotal returns the number of free slots across all providers.
func (a *Allocator) FreeTotal() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	free := 0
	for p, n := range a.capacity {
		for i := 0; i < n; i++ {
			if !a.inUse[SlotID(p, i)] {
				free++
			}
		}
	}
	return free
}

// InUse returns the held slot ids in sorted order.
func (a *Allocator) InUse() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.inUse))
	for id := range a.inUse {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
