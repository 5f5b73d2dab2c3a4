// Package seatguard serializes check-then-write sequences per seat.
package seatguard

import (
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"ms-boxoffice/internal/models"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Guard is a keyed mutex. Callers contend only when their seat sets overlap.
type Guard struct {
	entries *xsync.MapOf[string, *entry]
}

func New() *Guard {
	return &Guard{entries: xsync.NewMapOf[string, *entry]()}
}

// Lock acquires every key in a global order and returns the matching unlock.
func (g *Guard) Lock(keys ...models.SeatKey) (unlock func()) {
	names := dedupe(keys)

	held := make([]*entry, 0, len(names))
	for _, name := range names {
		e := g.ref(name)
		e.mu.Lock()
		held = append(held, e)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				g.unref(names[i])
			}
		})
	}
}

// Len returns the number of keys currently held or waited on.
func (g *Guard) Len() int {
	return g.entries.Size()
}

func (g *Guard) ref(name string) *entry {
	e, _ := g.entries.Compute(name, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{}
		}
		old.refs++
		return old, false
	})
	return e
}

func (g *Guard) unref(name string) {
	g.entries.Compute(name, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return nil, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}

func dedupe(keys []models.SeatKey) []string {
	seen := make(map[string]struct{}, len(keys))
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := k.String()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
