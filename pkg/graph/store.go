package graph

import "sync"

// RelationGraph is a store of Vertex nodes connected by directed edges,
// queried by Has/Check/Expand and mutated by Insert/Remove.
//
// The zero value is not usable; construct with New.
type RelationGraph struct {
	mu       sync.RWMutex
	vertices map[vertexID]*vertex
}

// New returns an empty RelationGraph, ready for use.
func New() *RelationGraph {
	return &RelationGraph{
		vertices: make(map[vertexID]*vertex),
	}
}

// lookup returns the vertex for id if it exists, read-locking the store
// only for the duration of the map access.
func (g *RelationGraph) lookup(id vertexID) (*vertex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vertices[id]
	return v, ok
}

// getOrCreateLocked returns the vertex for id, creating it if absent.
// Callers must already hold g.mu for writing.
func (g *RelationGraph) getOrCreateLocked(id vertexID) *vertex {
	if v, ok := g.vertices[id]; ok {
		return v
	}
	v := newVertex(id)
	g.vertices[id] = v
	return v
}

// removeIfDanglingLocked deletes id from the store if it now has no edges
// in either direction. Callers must already hold g.mu for writing.
func (g *RelationGraph) removeIfDanglingLocked(v *vertex) {
	if v.outDegree() == 0 && v.inDegree() == 0 {
		delete(g.vertices, v.id)
	}
}

// VertexCount returns the current number of vertices in the store,
// including wildcard scaffolding vertices. Intended for metrics and
// tests, not for traversal logic.
func (g *RelationGraph) VertexCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vertices)
}
