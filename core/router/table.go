package router

import (
	"log"
	"sync"

	"github.com/searchktools/rpc-server/core/http"
	"github.com/searchktools/rpc-server/core/optimize"
)

// Handler processes a dispatched request on a worker goroutine. path is
// the remainder of the URI after the registered prefix.
type Handler func(req *http.Request, path string)

// entry pairs a registered prefix with its handler.
type entry struct {
	prefix     string
	exactMatch bool
	handler    Handler
}

// Table is an ordered handler registry. Matching walks the entries in
// registration order and the first hit wins; there is no ranking by
// specificity. Register exact paths before any prefix that covers them,
// otherwise the prefix shadows them forever.
type Table struct {
	mu      sync.RWMutex
	entries []entry
}

// NewTable creates an empty handler table.
func NewTable() *Table {
	return &Table{}
}

// Register appends a handler for prefix. With exactMatch the URI must
// equal prefix; otherwise any URI beginning with prefix matches.
func (t *Table) Register(prefix string, exactMatch bool, h Handler) {
	log.Printf("Registering HTTP handler for %s (exactmatch %v)", prefix, exactMatch)
	t.mu.Lock()
	t.entries = append(t.entries, entry{prefix: prefix, exactMatch: exactMatch, handler: h})
	t.mu.Unlock()
}

// Unregister removes the first entry registered for exactly this
// (prefix, exactMatch) pair and reports whether one was found.
func (t *Table) Unregister(prefix string, exactMatch bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].prefix == prefix && t.entries[i].exactMatch == exactMatch {
			log.Printf("Unregistering HTTP handler for %s (exactmatch %v)", prefix, exactMatch)
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Match finds the handler for uri and returns it with the path
// remainder past the matched prefix. ok is false when nothing matches.
func (t *Table) Match(uri string) (h Handler, path string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.entries {
		e := &t.entries[i]
		var match bool
		if e.exactMatch {
			match = optimize.EqualString(uri, e.prefix)
		} else {
			match = optimize.HasPrefix(uri, e.prefix)
		}
		if match {
			return e.handler, uri[len(e.prefix):], true
		}
	}
	return nil, "", false
}

// Len returns the number of registered entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
