package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates operation IDs "<prefix>-1", "<prefix>-2", ...
//
// Unlike engine.FixedGenerator, SequentialIDs never runs out and can be
// reset, so the same scenario can run several times with identical IDs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "op".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "op"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Reset restarts the sequence. The next Generate returns "<prefix>-1".
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
