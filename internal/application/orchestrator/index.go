package orchestrator

import "sync"

// Index maps unit ids to the checkpoint hash taken before the unit last ran.
// Writes happen only on the manager loop; the lock serves API readers.
type Index struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewIndex creates an empty checkpoint index
func NewIndex() *Index {
	return &Index{
		entries: make(map[string]string),
	}
}

// Record inserts or overwrites the checkpoint for a unit
func (i *Index) Record(unitID, hash string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries[unitID] = hash
}

// Lookup returns the checkpoint hash for a unit
func (i *Index) Lookup(unitID string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	hash, ok := i.entries[unitID]
	return hash, ok
}

// Snapshot returns a copy of all entries
func (i *Index) Snapshot() map[string]string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make(map[string]string, len(i.entries))
	for k, v := range i.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of units with a checkpoint
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}
