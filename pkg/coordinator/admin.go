package coordinator

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cuemby/pacemaker/pkg/types"
)

// AdminHandler returns the operator-facing HTTP surface cmd/pacemaker's CLI
// talks to: create/abort a root job, fetch a tree, list known nodes. It sits
// next to the Streaming API Facade's websocket handler and the Prometheus
// scrape endpoint, the way the teacher's cmd/warren mounted /metrics,
// /health, /ready, and /live as plain http.Handle routes beside its gRPC
// listener.
func (c *Coordinator) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/jobs", c.requireAuth(c.handleCreateRoot))
	mux.HandleFunc("/admin/jobs/abort", c.requireAuth(c.handleAbort))
	mux.HandleFunc("/admin/jobs/tree", c.requireAuth(c.handleTree))
	mux.HandleFunc("/admin/nodes", c.requireAuth(c.handleNodes))
	return mux
}

func (c *Coordinator) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tok == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := c.Issuer.Verify(tok); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type createRootRequest struct {
	BodyType   string        `json:"body_type"`
	Parameters types.Context `json:"parameters"`
	Title      string        `json:"title"`
}

func (c *Coordinator) handleCreateRoot(w http.ResponseWriter, r *http.Request) {
	var req createRootRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rootID, err := c.CreateRoot(req.BodyType, req.Parameters, req.Title)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"root_id": rootID})
}

func (c *Coordinator) handleAbort(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	if err := c.Abort.Abort(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"status": "aborted"})
}

func (c *Coordinator) handleTree(w http.ResponseWriter, r *http.Request) {
	rootID := r.URL.Query().Get("root_id")
	if rootID == "" {
		http.Error(w, "missing root_id", http.StatusBadRequest)
		return
	}
	tree, err := c.Store.Tree(rootID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, tree)
}

func (c *Coordinator) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.Nodes.All())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
