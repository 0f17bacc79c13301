// Package stream implements the Streaming API Facade (spec §4.8, §6): a
// long-lived framed bidirectional channel, one per client, that multiplexes
// the Status Bus (pkg/eventbus) and Log Pipe (pkg/logpipe) behind a small
// subscribe/unsubscribe request vocabulary. Framing is JSON-over-websocket,
// the pack's idiom for this shape of connection (ternarybob-quaero's
// internal/handlers/websocket.go: one upgraded *websocket.Conn per client,
// a single reader goroutine, a buffered writer goroutine per connection).
package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/cuemby/pacemaker/pkg/auth"
	"github.com/cuemby/pacemaker/pkg/eventbus"
	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/cuemby/pacemaker/pkg/logpipe"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Request is the client->server frame shape of spec §6.
type Request struct {
	Request  string          `json:"request"`
	Sequence int             `json:"sequence"`
	Data     json.RawMessage `json:"data"`
	Auth     *AuthData       `json:"auth,omitempty"`
}

// AuthData carries the method/value pair spec §6 describes for the
// envelope's auth field; the streaming channel authenticates once, on the
// first message that carries it, for the connection's lifetime.
type AuthData struct {
	Method string `json:"method"`
	Value  string `json:"value"`
}

// Response is the server->client frame shape. Type is one of
// error|status|tree|new|subscribed|lines (spec §6).
type Response struct {
	Type     string      `json:"type"`
	Sequence int         `json:"sequence,omitempty"`
	Data     interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the Streaming API Facade. One Server handles every connected
// client; pkg/coordinator mounts its HandleWS at the stream listen address.
type Server struct {
	bus    *eventbus.Bus
	pipe   *logpipe.Pipe
	store  jobstore.Store
	issuer *auth.Issuer
	logger zerolog.Logger
}

// New creates a Server over the given Status Bus, Log Pipe, Job Record
// Store, and token issuer.
func New(bus *eventbus.Bus, pipe *logpipe.Pipe, store jobstore.Store, issuer *auth.Issuer) *Server {
	return &Server{bus: bus, pipe: pipe, store: store, issuer: issuer, logger: log.WithComponent("stream")}
}

// HandleWS upgrades r into a websocket connection and services it until it
// closes. Registered directly as an http.HandlerFunc.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newConn(s, conn)
	defer c.close()
	c.serve()
}

// conn is one client's subscription state. Writes go through a single
// goroutine reading outCh, so concurrent subscription fan-in never races on
// the same *websocket.Conn.
type conn struct {
	server *Server
	ws     *websocket.Conn

	outCh chan Response
	done  chan struct{}

	mu            sync.Mutex
	authenticated bool
	authMethod    auth.Method
	rootSubs      map[string]eventbus.Subscriber
	logSubs       map[string]func()
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	c := &conn{
		server:   s,
		ws:       ws,
		outCh:    make(chan Response, 64),
		done:     make(chan struct{}),
		rootSubs: make(map[string]eventbus.Subscriber),
		logSubs:  make(map[string]func()),
	}
	go c.writeLoop()
	return c
}

func (c *conn) serve() {
	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			return
		}
		c.handle(req)
	}
}

func (c *conn) close() {
	close(c.done)
	c.mu.Lock()
	for rootID, sub := range c.rootSubs {
		c.server.bus.UnsubscribeRoot(rootID, sub)
	}
	for _, unsub := range c.logSubs {
		unsub()
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case resp := <-c.outCh:
			if err := c.ws.WriteJSON(resp); err != nil {
				return
			}
		}
	}
}

func (c *conn) send(resp Response) {
	select {
	case c.outCh <- resp:
	case <-c.done:
	default:
		// slow client: drop rather than block the fan-in goroutines, matching
		// eventbus.Bus's own best-effort delivery policy.
	}
}

func (c *conn) sendError(sequence int, msg string) {
	c.send(Response{Type: "error", Sequence: sequence, Data: map[string]string{"error": msg}})
}

// authenticate verifies req.Auth (if present) and, on first success, pins
// the connection's method for its lifetime (spec §4.8: "the first accepted
// message authenticates the connection for its lifetime").
func (c *conn) authenticate(req Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated {
		return true
	}
	if req.Auth == nil || c.server.issuer == nil {
		return false
	}
	claims, err := c.server.issuer.Verify(req.Auth.Value)
	if err != nil {
		return false
	}
	c.authenticated = true
	c.authMethod = claims.Method
	return true
}

func (c *conn) handle(req Request) {
	if !c.authenticate(req) {
		c.sendError(req.Sequence, "unauthenticated")
		return
	}

	switch req.Request {
	case "subscribe_job_status":
		c.subscribeJobStatus(req)
	case "unsubscribe_job_status":
		c.unsubscribeJobStatus(req)
	case "subscribe_log":
		c.subscribeLog(req)
	case "unsubscribe_log":
		c.unsubscribeLog(req)
	default:
		c.sendError(req.Sequence, "unknown request: "+req.Request)
	}
}

type rootIDData struct {
	RootID string `json:"root_id"`
}

func (c *conn) subscribeJobStatus(req Request) {
	var data rootIDData
	if err := json.Unmarshal(req.Data, &data); err != nil || data.RootID == "" {
		c.sendError(req.Sequence, "missing root_id")
		return
	}

	tree, err := c.server.store.Tree(data.RootID)
	if err != nil {
		c.sendError(req.Sequence, err.Error())
		return
	}

	sub := c.server.bus.SubscribeRoot(data.RootID)
	c.mu.Lock()
	c.rootSubs[data.RootID] = sub
	c.mu.Unlock()

	c.send(Response{Type: "subscribed", Sequence: req.Sequence, Data: map[string]string{"root_id": data.RootID}})
	c.send(Response{Type: "tree", Data: map[string]interface{}{"root_id": data.RootID, "tree": tree}})

	go c.pumpRoot(data.RootID, sub)
}

func (c *conn) pumpRoot(rootID string, sub eventbus.Subscriber) {
	for ev := range sub {
		switch ev.Kind {
		case eventbus.KindStatus:
			c.send(Response{Type: "status", Data: map[string]interface{}{
				"job_id": ev.JobID, "state": ev.State, "summary": ev.Summary, "time": ev.Time,
			}})
		case eventbus.KindTree:
			c.send(Response{Type: "tree", Data: map[string]interface{}{"root_id": rootID, "tree": ev.Tree}})
		case eventbus.KindNewJob:
			c.send(Response{Type: "new", Data: map[string]interface{}{"job_id": ev.JobID, "tree": ev.Tree}})
		}
	}
}

func (c *conn) unsubscribeJobStatus(req Request) {
	var data rootIDData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		c.sendError(req.Sequence, "missing root_id")
		return
	}
	c.mu.Lock()
	sub, ok := c.rootSubs[data.RootID]
	delete(c.rootSubs, data.RootID)
	c.mu.Unlock()
	if ok {
		c.server.bus.UnsubscribeRoot(data.RootID, sub)
	}
}

type logSubData struct {
	JobID    string `json:"job_id"`
	Position int64  `json:"position"`
}

func (c *conn) subscribeLog(req Request) {
	var data logSubData
	if err := json.Unmarshal(req.Data, &data); err != nil || data.JobID == "" {
		c.sendError(req.Sequence, "missing job_id")
		return
	}

	ch, unsub, backlog, err := c.server.pipe.Subscribe(data.JobID, data.Position)
	if err != nil {
		c.sendError(req.Sequence, err.Error())
		return
	}
	c.mu.Lock()
	c.logSubs[data.JobID] = unsub
	c.mu.Unlock()
	c.send(Response{Type: "subscribed", Sequence: req.Sequence, Data: map[string]string{"job_id": data.JobID}})
	if len(backlog) > 0 {
		c.send(Response{Type: "lines", Data: map[string]interface{}{
			"job_id": data.JobID, "lines": string(backlog), "new_offset": data.Position + int64(len(backlog)),
		}})
	}

	go c.pumpLog(data.JobID, ch)
}

func (c *conn) pumpLog(jobID string, ch <-chan logpipe.Chunk) {
	for chunk := range ch {
		c.send(Response{Type: "lines", Data: map[string]interface{}{
			"job_id": jobID, "lines": string(chunk.Lines), "new_offset": chunk.NewOffset,
		}})
	}
}

func (c *conn) unsubscribeLog(req Request) {
	var data logSubData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		c.sendError(req.Sequence, "missing job_id")
		return
	}
	c.mu.Lock()
	unsub, ok := c.logSubs[data.JobID]
	delete(c.logSubs, data.JobID)
	c.mu.Unlock()
	if ok {
		unsub()
	}
}
