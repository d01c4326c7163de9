package graph

import "errors"

// Every query and mutation operation on RelationGraph itself is total
// and never returns an error; these sentinels are only ever returned by
// the identifier constructors in identifiers.go, which run before
// anything reaches the graph.
var (
	ErrEmptyIdentifier   = errors.New("graph: identifier component must not be empty")
	ErrReservedCharacter = errors.New("graph: identifier component contains a reserved character")
)
