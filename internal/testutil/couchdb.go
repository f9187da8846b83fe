package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// CouchDB is a fake CouchDB server implementing the endpoints replication
// uses. Documents keep one winning revision each.
type CouchDB struct {
	server   *httptest.Server
	dbs      map[string]*couchDB
	failing  map[string]int
	stalled  map[string]bool
	closed   chan struct{}
	auth     []string
	requests int
	holding  int
	mu       sync.Mutex
}

type couchDoc struct {
	bodies  map[string]map[string]any
	rev     string
	known   []string
	seq     int
	deleted bool
}

type couchDB struct {
	docs map[string]*couchDoc
	seq  int
}

// NewCouchDB starts a fake server that is closed when the test ends.
func NewCouchDB(t *testing.T) *CouchDB {
	t.Helper()
	c := &CouchDB{
		dbs:     make(map[string]*couchDB),
		failing: make(map[string]int),
		stalled: make(map[string]bool),
		closed:  make(chan struct{}),
	}
	c.server = httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.server.Close)
	// Runs before Close so stalled handlers let go.
	t.Cleanup(func() { close(c.closed) })
	return c
}

// URL is the server root.
func (c *CouchDB) URL() string {
	return c.server.URL
}

// Fail makes every request to db answer with status.
func (c *CouchDB) Fail(db string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[db] = status
}

// Stall makes every request to a database endpoint such as "_changes"
// hang until the client gives up.
func (c *CouchDB) Stall(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalled[endpoint] = true
}

// Stalled is the number of requests currently being held.
func (c *CouchDB) Stalled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holding
}

func (c *CouchDB) stall(r *http.Request) {
	c.mu.Lock()
	c.holding++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.holding--
		c.mu.Unlock()
	}()

	select {
	case <-r.Context().Done():
	case <-c.closed:
	}
}

func (c *CouchDB) stalls(r *http.Request) bool {
	_, endpoint, _ := strings.Cut(strings.Trim(r.URL.Path, "/"), "/")
	c.mu.Lock()
	defer c.mu.Unlock()
	return endpoint != "" && c.stalled[endpoint]
}

// Databases lists the created databases in name order.
func (c *CouchDB) Databases() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.dbs))
	for name := range c.dbs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Authorization returns the Authorization headers seen, in order.
func (c *CouchDB) Authorization() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.auth)
}

// Requests is the number of requests served.
func (c *CouchDB) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// Doc returns the winning revision of a document and its body.
func (c *CouchDB) Doc(db, id string) (string, map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.dbs[db]
	if !ok {
		return "", nil, false
	}
	doc, ok := d.docs[id]
	if !ok || doc.deleted {
		return "", nil, false
	}
	body := make(map[string]any, len(doc.bodies[doc.rev]))
	for k, v := range doc.bodies[doc.rev] {
		body[k] = v
	}
	return doc.rev, body, true
}

// Put writes a new revision of a document on the server side, as another
// device would, and returns its revision.
func (c *CouchDB) Put(db, id string, body map[string]any) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.db(db)

	gen := 1
	var history []string
	if cur, ok := d.docs[id]; ok {
		gen = revGen(cur.rev) + 1
		history = append([]string{cur.rev}, cur.known...)
	}
	encoded, _ := json.Marshal(body)
	sum := sha256.Sum256(encoded)
	rev := fmt.Sprintf("%d-%s", gen, hex.EncodeToString(sum[:16]))

	stored := make(map[string]any, len(body)+1)
	for k, v := range body {
		stored[k] = v
	}
	stored["_id"] = id
	d.store(id, rev, history, stored, false)
	return rev
}

func (c *CouchDB) db(name string) *couchDB {
	d, ok := c.dbs[name]
	if !ok {
		d = &couchDB{docs: make(map[string]*couchDoc)}
		c.dbs[name] = d
	}
	return d
}

func revGen(rev string) int {
	prefix, _, _ := strings.Cut(rev, "-")
	n, _ := strconv.Atoi(prefix)
	return n
}

// store records rev with its ancestors. A revision replaces the current one
// when it descends from it or wins the conflict.
func (d *couchDB) store(id, rev string, history []string, body map[string]any, deleted bool) {
	doc, ok := d.docs[id]
	if !ok {
		doc = &couchDoc{bodies: make(map[string]map[string]any)}
		d.docs[id] = doc
	}
	if doc.rev == rev || slices.Contains(doc.known, rev) {
		return
	}
	doc.bodies[rev] = body

	replace := doc.rev == "" || slices.Contains(history, doc.rev)
	if !replace {
		switch {
		case deleted != doc.deleted:
			replace = !deleted
		case revGen(rev) != revGen(doc.rev):
			replace = revGen(rev) > revGen(doc.rev)
		default:
			replace = rev > doc.rev
		}
	}
	for _, h := range history {
		if !slices.Contains(doc.known, h) {
			doc.known = append(doc.known, h)
		}
	}
	if !replace {
		doc.known = append(doc.known, rev)
		return
	}
	if doc.rev != "" && !slices.Contains(doc.known, doc.rev) {
		doc.known = append(doc.known, doc.rev)
	}
	doc.rev = rev
	doc.deleted = deleted
	d.seq++
	doc.seq = d.seq
}

func (c *CouchDB) serve(w http.ResponseWriter, r *http.Request) {
	if c.stalls(r) {
		c.stall(r)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.auth = append(c.auth, r.Header.Get("Authorization"))

	path := strings.Trim(r.URL.Path, "/")
	if path == "" {
		writeJSON(w, http.StatusOK, map[string]any{"couchdb": "Welcome", "version": "3.3.3"})
		return
	}

	name, endpoint, _ := strings.Cut(path, "/")
	if status, ok := c.failing[name]; ok {
		writeJSON(w, status, map[string]string{"error": "unavailable", "reason": "injected failure"})
		return
	}

	if endpoint == "" && r.Method == http.MethodPut {
		if _, ok := c.dbs[name]; ok {
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": "file_exists"})
			return
		}
		c.db(name)
		writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
		return
	}

	d, ok := c.dbs[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "Database does not exist."})
		return
	}

	switch endpoint {
	case "_changes":
		c.changes(w, r, d)
	case "_revs_diff":
		c.revsDiff(w, r, d)
	case "_bulk_docs":
		c.bulkDocs(w, r, d)
	case "_bulk_get":
		c.bulkGet(w, r, d)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	}
}

func (c *CouchDB) changes(w http.ResponseWriter, r *http.Request, d *couchDB) {
	since, _ := strconv.Atoi(r.URL.Query().Get("since"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = len(d.docs)
	}

	type entry struct {
		ID      string              `json:"id"`
		Changes []map[string]string `json:"changes"`
		Seq     int                 `json:"seq"`
		Deleted bool                `json:"deleted,omitempty"`
	}
	var results []entry
	for id, doc := range d.docs {
		if doc.seq > since && doc.rev != "" {
			results = append(results, entry{
				ID:      id,
				Seq:     doc.seq,
				Deleted: doc.deleted,
				Changes: []map[string]string{{"rev": doc.rev}},
			})
		}
	}
	slices.SortFunc(results, func(a, b entry) int { return a.Seq - b.Seq })
	if len(results) > limit {
		results = results[:limit]
	}

	last := since
	if len(results) > 0 {
		last = results[len(results)-1].Seq
	}
	if results == nil {
		results = []entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "last_seq": strconv.Itoa(last)})
}

func (c *CouchDB) revsDiff(w http.ResponseWriter, r *http.Request, d *couchDB) {
	var req map[string][]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}
	out := make(map[string]map[string][]string)
	for id, revs := range req {
		doc := d.docs[id]
		var missing []string
		for _, rev := range revs {
			if doc == nil || (doc.rev != rev && !slices.Contains(doc.known, rev)) {
				missing = append(missing, rev)
			}
		}
		if len(missing) > 0 {
			out[id] = map[string][]string{"missing": missing}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *CouchDB) bulkDocs(w http.ResponseWriter, r *http.Request, d *couchDB) {
	var req struct {
		NewEdits *bool            `json:"new_edits"`
		Docs     []map[string]any `json:"docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewEdits == nil || *req.NewEdits {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": "new_edits=false required"})
		return
	}

	for _, doc := range req.Docs {
		id, _ := doc["_id"].(string)
		rev, _ := doc["_rev"].(string)
		deleted, _ := doc["_deleted"].(bool)

		var history []string
		if raw, ok := doc["_revisions"].(map[string]any); ok {
			start, _ := raw["start"].(float64)
			ids, _ := raw["ids"].([]any)
			for i := 1; i < len(ids); i++ {
				hash, _ := ids[i].(string)
				history = append(history, fmt.Sprintf("%d-%s", int(start)-i, hash))
			}
		}
		body := make(map[string]any, len(doc))
		for k, v := range doc {
			if k != "_rev" && k != "_revisions" {
				body[k] = v
			}
		}
		d.store(id, rev, history, body, deleted)
	}
	writeJSON(w, http.StatusCreated, []any{})
}

func (c *CouchDB) bulkGet(w http.ResponseWriter, r *http.Request, d *couchDB) {
	var req struct {
		Docs []struct {
			ID  string `json:"id"`
			Rev string `json:"rev"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}

	results := make([]map[string]any, 0, len(req.Docs))
	for _, ref := range req.Docs {
		doc := d.docs[ref.ID]
		var body map[string]any
		if doc != nil {
			body = doc.bodies[ref.Rev]
		}
		if body == nil {
			results = append(results, map[string]any{
				"id":   ref.ID,
				"docs": []any{map[string]any{"error": map[string]string{"id": ref.ID, "rev": ref.Rev, "error": "not_found", "reason": "missing"}}},
			})
			continue
		}

		out := make(map[string]any, len(body)+2)
		for k, v := range body {
			out[k] = v
		}
		out["_rev"] = ref.Rev
		ids := []string{hashOf(ref.Rev)}
		gen := revGen(ref.Rev)
		for g := gen - 1; g > 0; g-- {
			i := slices.IndexFunc(doc.known, func(h string) bool { return revGen(h) == g })
			if i < 0 {
				break
			}
			ids = append(ids, hashOf(doc.known[i]))
		}
		out["_revisions"] = map[string]any{"start": gen, "ids": ids}
		results = append(results, map[string]any{"id": ref.ID, "docs": []any{map[string]any{"ok": out}}})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func hashOf(rev string) string {
	_, hash, _ := strings.Cut(rev, "-")
	return hash
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
