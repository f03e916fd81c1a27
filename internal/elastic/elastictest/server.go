// Package elastictest provides an in-memory Elasticsearch stand-in for tests.
// It understands only the handful of endpoints the print backend calls.
package elastictest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Server is a fake Elasticsearch node.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	indices    map[string]json.RawMessage
	pipelines  map[string]json.RawMessage
	docs       map[string]map[string]any // "index/id" -> source
	authHeader []string
	calls      []string

	// InfoStatus overrides the handshake status when non-zero.
	InfoStatus int
	// IndexStatus overrides the document index status when non-zero.
	IndexStatus int
}

// NewServer starts a fake node. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		indices:   map[string]json.RawMessage{},
		pipelines: map[string]json.RawMessage{},
		docs:      map[string]map[string]any{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Calls returns "METHOD path" for every request received, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// AuthHeaders returns the Authorization header of every request.
func (s *Server) AuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authHeader...)
}

// Doc returns a stored document source.
func (s *Server) Doc(index, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[index+"/"+id]
	return d, ok
}

// DocCount returns the number of documents stored in index.
func (s *Server) DocCount(index string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.docs {
		if strings.HasPrefix(k, index+"/") {
			n++
		}
	}
	return n
}

// HasIndex reports whether the index was created.
func (s *Server) HasIndex(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indices[name]
	return ok
}

// Pipeline returns a stored pipeline definition.
func (s *Server) Pipeline(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.pipelines[id]
	if !ok {
		return nil, false
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out, true
}

// PutIndex seeds an existing index.
func (s *Server) PutIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[name] = json.RawMessage(`{}`)
}

// PutPipeline seeds an existing pipeline.
func (s *Server) PutPipeline(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[id] = json.RawMessage(`{"processors":[]}`)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)
	s.authHeader = append(s.authHeader, r.Header.Get("Authorization"))

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/":
		if s.InfoStatus != 0 {
			writeJSON(w, s.InfoStatus, map[string]any{"error": "handshake refused"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cluster_name": "fake",
			"version":      map[string]any{"number": "8.15.0"},
		})

	case len(parts) == 3 && parts[0] == "_ingest" && parts[1] == "pipeline":
		s.handlePipeline(w, r, parts[2], body)

	case len(parts) == 1:
		s.handleIndex(w, r, parts[0], body)

	case len(parts) == 3 && parts[1] == "_doc":
		s.handleDoc(w, r, parts[0], parts[2], body)

	case len(parts) == 2 && parts[1] == "_search":
		s.handleSearch(w, parts[0])

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no handler for " + r.URL.Path})
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, name string, body []byte) {
	_, exists := s.indices[name]
	switch r.Method {
	case http.MethodHead:
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodPut:
		if exists {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "resource_already_exists_exception"})
			return
		}
		s.indices[name] = json.RawMessage(body)
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": name})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request, id string, body []byte) {
	switch r.Method {
	case http.MethodGet:
		raw, ok := s.pipelines[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]json.RawMessage{id: raw})
	case http.MethodPut:
		s.pipelines[id] = json.RawMessage(body)
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request, index, id string, body []byte) {
	key := index + "/" + id
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		if s.IndexStatus != 0 {
			writeJSON(w, s.IndexStatus, map[string]any{"error": "index rejected"})
			return
		}
		var src map[string]any
		if err := json.Unmarshal(body, &src); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if r.URL.Query().Get("pipeline") != "" {
			applyAttachment(src)
		}
		_, existed := s.docs[key]
		s.docs[key] = src
		status, result := http.StatusCreated, "created"
		if existed {
			status, result = http.StatusOK, "updated"
		}
		writeJSON(w, status, map[string]any{"_index": index, "_id": id, "_version": 1, "result": result})
	case http.MethodGet:
		src, ok := s.docs[key]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"_index": index, "_id": id, "found": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"_index": index, "_id": id, "found": true, "_source": src})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, index string) {
	hits := []any{}
	for k, src := range s.docs {
		if strings.HasPrefix(k, index+"/") {
			hits = append(hits, map[string]any{"_id": strings.TrimPrefix(k, index+"/"), "_source": src})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hits": map[string]any{
			"total": map[string]any{"value": len(hits), "relation": "eq"},
			"hits":  hits,
		},
	})
}

// applyAttachment mimics the attachment + remove processors.
func applyAttachment(src map[string]any) {
	data, ok := src["data"].(string)
	if !ok {
		return
	}
	src["attachment"] = map[string]any{"content_length": len(data)}
	delete(src, "data")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
