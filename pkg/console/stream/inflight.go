package stream

import (
	"sync"

	"analytics-console/pkg/console"
)

// InFlight tracks at most one open turn per mode. Modes never block each other.
type InFlight struct {
	mu   sync.Mutex
	open map[console.Mode]bool
}

func NewInFlight() *InFlight {
	return &InFlight{open: make(map[console.Mode]bool, len(console.Modes))}
}

// TryAcquire claims the mode token. It returns false if a turn is already open.
func (f *InFlight) TryAcquire(mode console.Mode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open[mode] {
		return false
	}
	f.open[mode] = true
	return true
}

func (f *InFlight) Release(mode console.Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, mode)
}

func (f *InFlight) Active(mode console.Mode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[mode]
}

// Snapshot reports the token state of every mode.
func (f *InFlight) Snapshot() map[console.Mode]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[console.Mode]bool, len(console.Modes))
	for _, m := range console.Modes {
		out[m] = f.open[m]
	}
	return out
}
