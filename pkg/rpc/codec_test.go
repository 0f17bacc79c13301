package rpc

import (
	"testing"

	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{
			name: "start_job",
			frame: &Frame{
				Type:     FrameStartJob,
				JobID:    "job-1",
				BodyType: "heart.startup",
				// encoding/json decodes a number held in a map as float64.
				Params: types.Context{"port": float64(42601)},
			},
		},
		{
			name: "job_result",
			frame: &Frame{
				Type:          FrameJobResult,
				JobID:         "job-1",
				TerminalState: types.JobSuccess,
				Output:        types.Context{"instance-1": "RUNNING"},
			},
		},
	}

	codec := jsonCodec{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := codec.Marshal(tt.frame)
			require.NoError(t, err)

			var out Frame
			require.NoError(t, codec.Unmarshal(data, &out))
			assert.Equal(t, *tt.frame, out)
		})
	}
}
