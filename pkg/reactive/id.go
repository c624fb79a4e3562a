package reactive

import "sync/atomic"

// idCounter is the source of ids for roots, signals and subscribers.
// Ids are shared across roots so a link can never be confused with one
// from another graph.
var idCounter atomic.Uint64

// nextID returns the next unique id. Ids are never reused.
func nextID() uint64 {
	return idCounter.Add(1)
}
