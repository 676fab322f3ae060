package engine

// DefaultMaxDepth is the default nesting limit of a payload. It bounds
// recursion through self-referencing relations (Comment.replies) that the
// cycle guard cannot catch because every level writes a new entity.
const DefaultMaxDepth = 32

// checkDepth fails once a relation lies deeper than the configured limit.
func (op *operation) checkDepth(s site) error {
	if s.depth > op.eng.maxDepth {
		return op.fail(s, CodeMaxDepthExceeded, nil, nil, "nesting depth %d exceeds the limit of %d", s.depth, op.eng.maxDepth)
	}
	return nil
}
