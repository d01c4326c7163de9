package auth

import "github.com/relationcore/rebacd/pkg/graph"

// writeRelation is the well-known relation every authorization check
// below resolves against: a principal may mutate an object only if it
// holds "write" on that exact object in the graph.
const writeRelation = "write"

// grapher is the subset of *graph.RelationGraph an Authorizer needs.
// Defined as an interface so tests can swap in a fake graph without
// pulling in the real package's concurrency machinery.
type grapher interface {
	Check(src graph.ObjectOrSet, dst graph.Set, limit *int) bool
}

// Authorizer decides whether an authenticated principal may grant,
// revoke, or expand relations on a given object. It does not maintain any
// role or permission table of its own: the answer is itself a graph
// query, mirroring the way the graph already answers every other
// access question. This keeps authorization and the data it protects
// consistent by construction — granting someone "write" on an object is
// the same kind of operation as granting them any other relation.
type Authorizer struct {
	graph grapher
}

// NewAuthorizer returns an Authorizer backed by g.
func NewAuthorizer(g grapher) *Authorizer {
	return &Authorizer{graph: g}
}

// CanWrite reports whether principal holds the "write" relation on
// (namespace, id), directly or transitively through userset rewrites,
// with no depth limit. The bootstrap operator account is exempt and
// should be special-cased by the caller (see pkg/server) rather than
// routed through CanWrite, since the very first "write" tuple cannot
// exist without someone able to create it.
func (a *Authorizer) CanWrite(principal graph.Object, namespace, id string) bool {
	writeSet, err := graph.NewSet(namespace, id, writeRelation)
	if err != nil {
		return false
	}
	return a.graph.Check(principal, writeSet, nil)
}
