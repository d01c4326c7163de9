package server

import (
	"fmt"
	"net/http"

	"github.com/relationcore/rebacd/pkg/audit"
	"github.com/relationcore/rebacd/pkg/graph"
)

// identifierJSON is the wire shape of both Object and Set identifiers,
// mirroring a gRPC service's Object/Set messages:
// {"namespace":..,"id":..} for an Object,
// {"namespace":..,"id":..,"relation":..} for a Set.
type identifierJSON struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
	Relation  string `json:"relation,omitempty"`
}

func (j identifierJSON) toObjectOrSet() (graph.ObjectOrSet, error) {
	if j.Relation == "" {
		return graph.NewObject(j.Namespace, j.ID)
	}
	return graph.NewSet(j.Namespace, j.ID, j.Relation)
}

func (j identifierJSON) toSet() (graph.Set, error) {
	if j.Relation == "" {
		return graph.Set{}, fmt.Errorf("server: destination requires a relation")
	}
	return graph.NewSet(j.Namespace, j.ID, j.Relation)
}

func setToJSON(s graph.Set) identifierJSON {
	return identifierJSON{Namespace: s.Namespace, ID: s.ID, Relation: s.Relation}
}

func objectToJSON(o graph.Object) identifierJSON {
	return identifierJSON{Namespace: o.Namespace, ID: o.ID}
}

// tupleRequest is the shape shared by grant, revoke, exists and check:
// a source (Object or Set) and a destination (always a Set).
type tupleRequest struct {
	Source      identifierJSON `json:"source"`
	Destination identifierJSON `json:"destination"`
	Limit       *int           `json:"limit,omitempty"`
}

func (s *Server) decodeTuple(w http.ResponseWriter, r *http.Request) (graph.ObjectOrSet, graph.Set, bool) {
	var req tupleRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", ErrBadRequest)
		return nil, graph.Set{}, false
	}
	src, err := req.Source.toObjectOrSet()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid source: "+err.Error(), ErrBadRequest)
		return nil, graph.Set{}, false
	}
	dst, err := req.Destination.toSet()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid destination: "+err.Error(), ErrBadRequest)
		return nil, graph.Set{}, false
	}
	return src, dst, true
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required", ErrMethodNotAllowed)
		return
	}
	src, dst, ok := s.decodeTuple(w, r)
	if !ok {
		return
	}
	s.graph.Insert(src, dst)
	s.notifySnapshot()
	s.logMutation(r, audit.EventGrant, src, dst, true, "")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required", ErrMethodNotAllowed)
		return
	}
	src, dst, ok := s.decodeTuple(w, r)
	if !ok {
		return
	}
	s.graph.Remove(src, dst)
	s.notifySnapshot()
	s.logMutation(r, audit.EventRevoke, src, dst, true, "")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required", ErrMethodNotAllowed)
		return
	}
	src, dst, ok := s.decodeTuple(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"result": s.graph.Has(src, dst)})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required", ErrMethodNotAllowed)
		return
	}
	var req tupleRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", ErrBadRequest)
		return
	}
	src, err := req.Source.toObjectOrSet()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid source: "+err.Error(), ErrBadRequest)
		return
	}
	dst, err := req.Destination.toSet()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid destination: "+err.Error(), ErrBadRequest)
		return
	}

	limit := req.Limit
	if limit == nil && s.config.DefaultCheckLimit > 0 {
		l := s.config.DefaultCheckLimit
		limit = &l
	}

	result := s.graph.Check(src, dst, limit)
	if s.audit != nil {
		s.audit.Log(audit.Event{Type: audit.EventCheck, Principal: req.Source.Namespace + ":" + req.Source.ID, Object: req.Destination.Namespace + ":" + req.Destination.ID + "#" + req.Destination.Relation, Success: result})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

type expandResponse struct {
	Results []expandEntry `json:"results"`
}

type expandEntry struct {
	Object identifierJSON   `json:"object"`
	Path   []identifierJSON `json:"path"`
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required", ErrMethodNotAllowed)
		return
	}
	var req struct {
		Destination identifierJSON `json:"destination"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", ErrBadRequest)
		return
	}
	dst, err := req.Destination.toSet()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid destination: "+err.Error(), ErrBadRequest)
		return
	}

	raw := s.graph.Expand(dst)
	resp := expandResponse{Results: make([]expandEntry, 0, len(raw))}
	for _, r := range raw {
		path := make([]identifierJSON, 0, len(r.Path))
		for _, set := range r.Path {
			path = append(path, setToJSON(set))
		}
		resp.Results = append(resp.Results, expandEntry{Object: objectToJSON(r.Object), Path: path})
	}

	if s.audit != nil {
		s.audit.Log(audit.Event{Type: audit.EventExpand, Object: req.Destination.Namespace + ":" + req.Destination.ID + "#" + req.Destination.Relation, Success: true})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSnapshot returns the engine's current textual snapshot. POST-ing
// a new one (restoring from an operator-supplied snapshot) is
// intentionally not exposed over the wire: snapshot recovery only
// happens at process bootstrap (see cmd/rebacd), never while the graph
// is serving live traffic.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required", ErrMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.graph.WriteSavefile(w); err != nil {
		s.errorCount.Add(1)
		fmt.Printf("[rebacd] snapshot write error: %v\n", err)
	}
}

func (s *Server) logMutation(r *http.Request, eventType audit.EventType, src graph.ObjectOrSet, dst graph.Set, success bool, reason string) {
	if s.audit == nil {
		return
	}
	principalStr := ""
	if p, ok := principalFromContext(r); ok {
		principalStr = p.object.String()
	}
	event := audit.Event{
		Type:      eventType,
		Principal: principalStr,
		Object:    dst.String(),
		Success:   success,
		Reason:    reason,
	}
	if stringer, ok := src.(fmt.Stringer); ok {
		event.Source = stringer.String()
	}
	s.audit.Log(event)
}
