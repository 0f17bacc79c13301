package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/pacemaker/pkg/auth"
	"github.com/cuemby/pacemaker/pkg/eventbus"
	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/logpipe"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type allowAllRegistry struct{}

func (allowAllRegistry) Exists(string) bool                   { return true }
func (allowAllRegistry) Validate(string, types.Context) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *Server, jobstore.Store) {
	t.Helper()
	store, err := jobstore.NewBoltStore(t.TempDir(), allowAllRegistry{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := eventbus.New(16)
	pipe := logpipe.New(t.TempDir())
	issuer := auth.NewIssuer("test-secret")

	s := New(bus, pipe, store, issuer)
	srv := httptest.NewServer(http.HandlerFunc(s.HandleWS))
	t.Cleanup(srv.Close)
	return srv, s, store
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func authToken(t *testing.T) string {
	t.Helper()
	issuer := auth.NewIssuer("test-secret")
	tok, err := issuer.Issue(auth.MethodSuper, "test", time.Minute)
	require.NoError(t, err)
	return tok
}

func TestSubscribeJobStatusDeliversTreeThenStatus(t *testing.T) {
	srv, server, store := newTestServer(t)

	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "root"})
	require.NoError(t, err)
	require.NoError(t, store.Arm(rootID))

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(Request{
		Request:  "subscribe_job_status",
		Sequence: 1,
		Data:     json.RawMessage(`{"root_id":"` + rootID + `"}`),
		Auth:     &AuthData{Method: "super", Value: authToken(t)},
	}))

	var subscribed, tree Response
	require.NoError(t, conn.ReadJSON(&subscribed))
	require.Equal(t, "subscribed", subscribed.Type)
	require.NoError(t, conn.ReadJSON(&tree))
	require.Equal(t, "tree", tree.Type)

	server.bus.PublishStatus(rootID, rootID, types.JobRunning, "dispatched")
	var status Response
	require.NoError(t, conn.ReadJSON(&status))
	require.Equal(t, "status", status.Type)
}

func TestUnauthenticatedRequestErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(Request{
		Request:  "subscribe_job_status",
		Sequence: 7,
		Data:     json.RawMessage(`{"root_id":"whatever"}`),
	}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "error", resp.Type)
	require.Equal(t, 7, resp.Sequence)
}

func TestSubscribeLogReplaysBacklogThenTail(t *testing.T) {
	srv, server, _ := newTestServer(t)

	jobID := "job-1"
	_, err := server.pipe.Append(jobID, []byte("hello "))
	require.NoError(t, err)

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(Request{
		Request:  "subscribe_log",
		Sequence: 2,
		Data:     json.RawMessage(`{"job_id":"` + jobID + `","position":0}`),
		Auth:     &AuthData{Method: "super", Value: authToken(t)},
	}))

	var subscribed, backlog Response
	require.NoError(t, conn.ReadJSON(&subscribed))
	require.Equal(t, "subscribed", subscribed.Type)
	require.NoError(t, conn.ReadJSON(&backlog))
	require.Equal(t, "lines", backlog.Type)

	_, err = server.pipe.Append(jobID, []byte("world"))
	require.NoError(t, err)

	var tail Response
	require.NoError(t, conn.ReadJSON(&tail))
	require.Equal(t, "lines", tail.Type)
}
