package limiter

import "sync"

// tracker is the set of store keys a limiter has touched since they were
// last brought back to their resting state. Each Track bumps a generation
// so a maintenance pass only forgets keys nobody touched meanwhile.
type tracker struct {
	mu   sync.Mutex
	gen  uint64
	keys map[string]uint64
}

func newTracker() *tracker {
	return &tracker{keys: make(map[string]uint64)}
}

func (t *tracker) Track(key string) {
	t.mu.Lock()
	t.gen++
	t.keys[key] = t.gen
	t.mu.Unlock()
}

// Snapshot returns a copy of the tracked keys and their generations.
func (t *tracker) Snapshot() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]uint64, len(t.keys))
	for k, g := range t.keys {
		out[k] = g
	}
	return out
}

// Forget drops key if it was not tracked again after gen.
func (t *tracker) Forget(key string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.keys[key] != gen {
		return false
	}
	delete(t.keys, key)
	return true
}

func (t *tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}
