package graph

// ExpandResult is one entry of an Expand result: an Object principal
// together with the chain of Sets bridging it to the destination,
// ordered outward from the destination (which is itself excluded)
// toward the Object: the first element is the Set nearest the
// destination.
type ExpandResult struct {
	Object Object
	Path   []Set
}

// Has returns whether the direct edge src -> dst exists. It does not
// consider wildcards or transitive paths; a missing endpoint yields
// false.
func (g *RelationGraph) Has(src ObjectOrSet, dst Set) bool {
	srcV, ok := g.lookup(src.vertexID())
	if !ok {
		return false
	}
	dstID := dst.vertexID()
	for _, n := range srcV.snapshotOut() {
		if n.id == dstID {
			return true
		}
	}
	return false
}

func destinationMatches(id, dst vertexID) bool {
	if id == dst {
		return true
	}
	return id.namespace == dst.namespace && id.id == WildcardID && id.relation == dst.relation
}

// Check answers the transitive reachability query: is there a path of
// length >= 1 from src (or its same-namespace wildcard proxy, if the
// exact src vertex doesn't exist) to a vertex matching dst, where a
// frontier vertex matches dst if its identifier equals dst or if it
// shares dst's namespace and relation and carries the wildcard id.
//
// limit, if non-nil, bounds the search depth: Check returns false once
// the frontier would advance past *limit levels without a match.
func (g *RelationGraph) Check(src ObjectOrSet, dst Set, limit *int) bool {
	srcID := src.vertexID()
	srcV, ok := g.lookup(srcID)
	if !ok {
		srcV, ok = g.lookup(srcID.wildcard())
		if !ok {
			return false
		}
	}

	dstID := dst.vertexID()
	depth := 1
	frontier := srcV.snapshotOut()
	visited := make(map[vertexID]bool)

	for len(frontier) > 0 {
		if limit != nil && depth > *limit {
			return false
		}
		var next []*vertex
		for _, v := range frontier {
			// Visited-set semantics apply from depth 2 onward: duplicates
			// within the first level are tolerated and simply re-processed,
			// guaranteeing direct neighbors are checked even if the source
			// vertex appears in its own neighborhood.
			if depth >= 2 && visited[v.id] {
				continue
			}
			if destinationMatches(v.id, dstID) {
				return true
			}
			visited[v.id] = true
			next = append(next, v.snapshotOut()...)
		}
		frontier = next
		depth++
	}
	return false
}

// Expand enumerates every Object principal transitively related to dst,
// each with a witness path of the Set vertices traversed to reach it
// (excluding dst itself). The traversal starts at the vertex for dst, or
// its same-namespace wildcard if dst itself has no vertex; if neither
// exists, the result is empty. Every reachable Object appears exactly
// once, with the first path BFS discovers.
func (g *RelationGraph) Expand(dst Set) []ExpandResult {
	dstID := dst.vertexID()
	startV, ok := g.lookup(dstID)
	if !ok {
		startV, ok = g.lookup(dstID.wildcard())
		if !ok {
			return nil
		}
	}

	type queued struct {
		v    *vertex
		path []Set
	}

	visited := map[vertexID]bool{startV.id: true}
	var queue []queued
	for _, u := range startV.snapshotIn() {
		queue = append(queue, queued{v: u, path: nil})
	}

	var results []ExpandResult
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		v := item.v

		if visited[v.id] {
			continue
		}
		visited[v.id] = true

		if v.id.isObject() {
			results = append(results, ExpandResult{Object: v.id.asObject(), Path: item.path})
			continue
		}

		nextPath := make([]Set, len(item.path), len(item.path)+1)
		copy(nextPath, item.path)
		nextPath = append(nextPath, v.id.asSet())

		for _, u := range v.snapshotIn() {
			queue = append(queue, queued{v: u, path: nextPath})
		}
	}
	return results
}
