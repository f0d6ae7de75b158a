// Package testutil provides helpers for integration tests: a catalog server
// serving a configurable document plus the payload files it lists.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// CatalogEntry is one line of the served catalog document.
type CatalogEntry struct {
	Path string `json:"path"`
	Time string `json:"time"`
	Size int64  `json:"size"`
}

// CatalogServer serves a catalog document under /maps.json and payload files
// under their catalog paths. Entries and payloads may be swapped between
// requests to simulate catalog updates.
type CatalogServer struct {
	mu       sync.Mutex
	entries  []CatalogEntry
	payloads map[string]string
	hits     map[string]int

	server *httptest.Server
}

// NewCatalogServer starts a catalog server. It is shut down with the test.
func NewCatalogServer(t *testing.T) *CatalogServer {
	t.Helper()

	cs := &CatalogServer{
		payloads: make(map[string]string),
		hits:     make(map[string]int),
	}
	cs.server = httptest.NewServer(http.HandlerFunc(cs.handle))
	t.Cleanup(cs.server.Close)
	return cs
}

// URL returns the base URL of the server.
func (cs *CatalogServer) URL() string {
	return cs.server.URL
}

// CatalogURL returns the URL of the catalog document.
func (cs *CatalogServer) CatalogURL() string {
	return cs.server.URL + "/maps.json"
}

// SetEntry publishes or replaces one catalog entry together with its payload.
func (cs *CatalogServer) SetEntry(entry CatalogEntry, payload string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i, e := range cs.entries {
		if e.Path == entry.Path {
			cs.entries[i] = entry
			cs.payloads[entry.Path] = payload
			return
		}
	}
	cs.entries = append(cs.entries, entry)
	cs.payloads[entry.Path] = payload
}

// RemoveEntry withdraws a catalog entry. The payload stays reachable, as on a
// real server where files outlive their catalog line.
func (cs *CatalogServer) RemoveEntry(path string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i, e := range cs.entries {
		if e.Path == path {
			cs.entries = append(cs.entries[:i], cs.entries[i+1:]...)
			return
		}
	}
}

// Hits returns how often the given request path was served.
func (cs *CatalogServer) Hits(path string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.hits[path]
}

func (cs *CatalogServer) handle(w http.ResponseWriter, r *http.Request) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.hits[r.URL.Path]++

	if r.URL.Path == "/maps.json" {
		doc := struct {
			URL  string         `json:"url"`
			Maps []CatalogEntry `json:"maps"`
		}{
			URL:  cs.server.URL,
			Maps: cs.entries,
		}
		if doc.Maps == nil {
			doc.Maps = []CatalogEntry{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
		return
	}

	payload, ok := cs.payloads[r.URL.Path[1:]]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(payload))
}
