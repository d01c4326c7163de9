// Package graph implements the relation graph engine at the heart of
// rebacd: a Google Zanzibar-style ReBAC store that holds typed
// relationship tuples between objects and answers authorization queries
// by transitive reachability over that graph.
//
// Design Principles:
//   - Value-typed identifiers at the API boundary (Object, Set,
//     ObjectOrSet); the internal Vertex/edge representation never leaks.
//   - Wildcards ("*") are materialized as ordinary vertices with
//     scaffolding edges, so Check is a plain BFS with a one-line
//     destination-match predicate instead of special-cased rule logic.
//   - Two-tier locking: a single RWMutex guards vertex creation/removal,
//     while every vertex has its own RWMutex pair for its edge sets, so
//     long traversals never hold the store lock.
//
// Example Usage:
//
//	g := graph.New()
//
//	alice, _ := graph.NewObject("user", "alice")
//	doc, _ := graph.NewSet("document", "foo", "reader")
//	g.Insert(alice, doc)
//
//	if g.Check(alice, doc, nil) {
//		fmt.Println("alice can read document foo")
//	}
//
// Thread Safety:
//
//	Every exported method on RelationGraph is safe for concurrent use.
//	Insert and Remove are serialized against each other and against
//	vertex creation/removal; Has, Check, and Expand may run concurrently
//	with each other and with mutators, subject to the relaxed
//	linearizability described on RelationGraph.
package graph
