package graph

// Insert idempotently installs the principal edge src -> dst along with
// the wildcard scaffolding edges described by the linkage discipline:
//
//   - if src is an Object and src.ID != "*": src -> src_wildcard
//   - if src is a Set: src_wildcard -> src
//   - always: dst_wildcard -> dst
//   - always: src -> dst
//
// where src_wildcard/dst_wildcard are src/dst with their id replaced by
// the wildcard id. Self-loops (a rule that would link a vertex to
// itself, which happens for a scaffolding rule when the relevant id is
// already the wildcard, and for the principal edge when src equals dst)
// are never created. Any vertex referenced by these edges is created on
// demand. Insert never fails and is safe for concurrent use.
func (g *RelationGraph) Insert(src ObjectOrSet, dst Set) {
	g.mu.Lock()
	defer g.mu.Unlock()

	srcID := src.vertexID()
	dstID := dst.vertexID()
	srcWildID := srcID.wildcard()
	dstWildID := dstID.wildcard()

	srcV := g.getOrCreateLocked(srcID)
	dstV := g.getOrCreateLocked(dstID)

	if srcID.isObject() && srcID.id != WildcardID {
		srcWildV := g.getOrCreateLocked(srcWildID)
		srcV.addOut(srcWildV)
	}
	if !srcID.isObject() && srcID != srcWildID {
		srcWildV := g.getOrCreateLocked(srcWildID)
		srcWildV.addOut(srcV)
	}
	if dstID != dstWildID {
		dstWildV := g.getOrCreateLocked(dstWildID)
		dstWildV.addOut(dstV)
	}
	if srcID != dstID {
		srcV.addOut(dstV)
	}
}

// Remove deletes the directed edge src -> dst if both vertices exist; it
// is a no-op otherwise. After the edge is removed, each endpoint that is
// left with empty edgesIn and edgesOut is garbage-collected from the
// store. Wildcard scaffolding vertices and edges are never torn down by
// Remove — they persist until they themselves become isolated by later
// removes. Remove never fails and is safe for concurrent use.
func (g *RelationGraph) Remove(src ObjectOrSet, dst Set) {
	g.mu.Lock()
	defer g.mu.Unlock()

	srcV, ok := g.vertices[src.vertexID()]
	if !ok {
		return
	}
	dstV, ok := g.vertices[dst.vertexID()]
	if !ok {
		return
	}

	srcV.removeOut(dstV)

	g.removeIfDanglingLocked(srcV)
	g.removeIfDanglingLocked(dstV)
}
