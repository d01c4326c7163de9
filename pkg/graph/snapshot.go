package graph

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

var snapshotHeaderPattern = regexp.MustCompile(`^\[([^:\]]+):([^:\]]+)\]$`)

// WriteSavefile serializes the graph to w in the line-oriented snapshot
// grammar: vertices are visited in total order and grouped into
// destination blocks by (namespace, id); each Set vertex in a block
// contributes one "relation = [ sources ]" line. Wildcard scaffolding
// edges (a Set's in-edge from its own same-namespace wildcard) are never
// persisted — Insert rederives them on load. Explicitly granted wildcard
// sources such as user:* are persisted like any other source, so a
// written file round-trips to an observationally equivalent graph. I/O
// errors from w are returned verbatim; WriteSavefile does not attempt
// partial-write recovery.
func (g *RelationGraph) WriteSavefile(w io.Writer) error {
	g.mu.RLock()
	all := make([]*vertex, 0, len(g.vertices))
	for _, v := range g.vertices {
		all = append(all, v)
	}
	g.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].id.less(all[j].id) })

	bw := bufio.NewWriter(w)

	var curNS, curID string
	haveBlock := false

	for _, v := range all {
		if !haveBlock || v.id.namespace != curNS || v.id.id != curID {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(bw, "[%s:%s]\n", v.id.namespace, v.id.id); err != nil {
				return err
			}
			curNS, curID = v.id.namespace, v.id.id
			haveBlock = true
		}
		if v.id.isObject() {
			continue
		}

		sources := v.snapshotIn()
		sort.Slice(sources, func(i, j int) bool { return sources[i].id.less(sources[j].id) })

		rendered := make([]string, 0, len(sources))
		for _, src := range sources {
			if src.id == v.id.wildcard() {
				continue
			}
			rendered = append(rendered, renderSource(src.id, curNS, curID))
		}
		if _, err := fmt.Fprintf(bw, "%s = [ %s ]\n", v.id.relation, strings.Join(rendered, ", ")); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func renderSource(id vertexID, blockNS, blockID string) string {
	var base string
	if id.namespace == blockNS && id.id == blockID {
		base = "self"
	} else {
		base = id.namespace + ":" + id.id
	}
	if id.relation != "" {
		base += "#" + id.relation
	}
	return base
}

// ReadSavefile parses the snapshot grammar from r and returns a new
// RelationGraph reconstructed via Insert. The parser is lenient: lines
// that are blank, that fail to match the header or relation-line shape,
// or whose tokens name invalid identifiers are silently skipped. Its
// contract is only that a file produced by WriteSavefile on a given
// graph round-trips to an observationally equivalent graph.
func ReadSavefile(r io.Reader) *RelationGraph {
	g := New()

	scanner := bufio.NewScanner(r)
	var curNS, curID string
	haveCur := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := snapshotHeaderPattern.FindStringSubmatch(line); m != nil {
			curNS, curID = m[1], m[2]
			haveCur = true
			continue
		}
		if !haveCur {
			continue
		}

		eq := strings.Index(line, "=")
		lb := strings.Index(line, "[")
		rb := strings.Index(line, "]")
		if eq < 0 || lb < 0 || rb < 0 || !(eq < lb && lb < rb) {
			continue
		}

		relation := strings.TrimSpace(line[:eq])
		if relation == "" {
			continue
		}
		dst, err := NewSet(curNS, curID, relation)
		if err != nil {
			continue
		}

		payload := strings.TrimSpace(line[lb+1 : rb])
		if payload == "" {
			continue
		}
		for _, tok := range strings.Split(payload, ", ") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			src, ok := parseSource(tok, curNS, curID)
			if !ok {
				continue
			}
			g.Insert(src, dst)
		}
	}

	return g
}

func parseSource(tok, blockNS, blockID string) (ObjectOrSet, bool) {
	base := tok
	var relation string
	if idx := strings.LastIndex(tok, "#"); idx >= 0 {
		relation = tok[idx+1:]
		base = tok[:idx]
	}

	ns, id := blockNS, blockID
	if idx := strings.Index(base, ":"); idx >= 0 {
		ns, id = base[:idx], base[idx+1:]
	}

	if relation != "" {
		s, err := NewSet(ns, id, relation)
		if err != nil {
			return nil, false
		}
		return s, true
	}
	o, err := NewObject(ns, id)
	if err != nil {
		return nil, false
	}
	return o, true
}
