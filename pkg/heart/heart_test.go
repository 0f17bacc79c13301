package heart

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/pacemaker/pkg/bodies"
	"github.com/cuemby/pacemaker/pkg/rpc"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeStream struct {
	grpc.ClientStream
	mu   sync.Mutex
	sent []*rpc.Frame
}

func (f *fakeStream) Send(fr *rpc.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeStream) frames() []*rpc.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*rpc.Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

type echoBody struct{}

func (echoBody) Start(job *types.Job, _ zerolog.Logger, onSuccess bodies.SuccessFunc, _ bodies.FailureFunc) {
	onSuccess(types.Context{"echoed": job.Parameters["value"]}, "ok")
}

func TestStartJobReportsSuccess(t *testing.T) {
	registry := bodies.NewRegistry()
	registry.Register("leaf.echo", echoBody{})

	h := New("heart-1", registry)
	stream := &fakeStream{}

	h.startJob(stream, &rpc.Frame{
		Type:     rpc.FrameStartJob,
		JobID:    "job-1",
		BodyType: "leaf.echo",
		Params:   types.Context{"value": "hi"},
	})

	require.Eventually(t, func() bool { return len(stream.frames()) == 1 }, time.Second, 10*time.Millisecond)
	frame := stream.frames()[0]
	assert.Equal(t, rpc.FrameJobResult, frame.Type)
	assert.Equal(t, types.JobSuccess, frame.TerminalState)
	assert.Equal(t, "hi", frame.Output["echoed"])
	assert.Equal(t, 0, h.InFlight())
}

func TestStartJobUnknownBodyReportsFailure(t *testing.T) {
	h := New("heart-1", bodies.NewRegistry())
	stream := &fakeStream{}

	h.startJob(stream, &rpc.Frame{Type: rpc.FrameStartJob, JobID: "job-2", BodyType: "nope"})

	require.Len(t, stream.frames(), 1)
	assert.Equal(t, types.JobFailed, stream.frames()[0].TerminalState)
}

func TestAbortFrameIsLoggedNotActedOn(t *testing.T) {
	h := New("heart-1", bodies.NewRegistry())
	stream := &fakeStream{}
	h.handle(stream, &rpc.Frame{Type: rpc.FrameAbortJob, JobID: "job-3"})
	assert.Empty(t, stream.frames())
}
