package engine

import (
	"fmt"
	"sync"

	"github.com/roach88/relfill/internal/ir"
)

// CycleDetector tracks the (entity, relation) pairs written per operation
// so that a self-referencing payload cannot recurse forever.
//
// A cycle occurs when a nested payload leads back to a relation that was
// already written in the same operation:
//
//	User#1.posts → Post#3.comments → Comment#7.author {id: 1, posts: [...]}
//	→ User#1.posts (again) ← CYCLE DETECTED
//
// A well-formed payload never writes the same relation of the same entity
// twice, because duplicate items in a collection are coalesced before
// recursion.
type CycleDetector struct {
	mu      sync.Mutex
	history map[string]map[string]bool // map[operation_id]map[entity:relation]bool
}

// NewCycleDetector creates a new cycle detector.
func NewCycleDetector() *CycleDetector {
	return &CycleDetector{
		history: make(map[string]map[string]bool),
	}
}

// Visit records that relation of e is being written in operation opID.
// It returns false when the pair was already recorded.
//
// Thread-safe: Can be called concurrently.
func (c *CycleDetector) Visit(opID string, e *ir.Entity, relation string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history[opID] == nil {
		c.history[opID] = make(map[string]bool)
	}
	key := entityRef(e) + ":" + relation
	if c.history[opID][key] {
		return false
	}
	c.history[opID][key] = true
	return true
}

// Clear removes all history for an operation.
//
// Thread-safe: Can be called concurrently.
func (c *CycleDetector) Clear(opID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.history, opID)
}

// HistorySize returns the number of operations with tracked history.
func (c *CycleDetector) HistorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.history)
}

// entityRef identifies e within one operation. Unsaved entities have no key
// yet, so they are told apart by address.
func entityRef(e *ir.Entity) string {
	if e.Exists() {
		return e.String()
	}
	return fmt.Sprintf("%s@%p", e.Type, e)
}
