package rpc

import "github.com/cuemby/pacemaker/pkg/types"

// FrameType tags the purpose of a Frame flowing over the Node Channel.
type FrameType string

const (
	FrameStartJob  FrameType = "start_job"
	FrameJobResult FrameType = "job_result"
	FrameAbortJob  FrameType = "abort_job"
	FrameHeartbeat FrameType = "heartbeat"
)

// Frame is the single wire message type carried by the Node Channel
// (spec §4.4, §6). Only the fields relevant to Type are populated.
type Frame struct {
	Type FrameType `json:"type"`

	JobID    string        `json:"job_id,omitempty"`
	BodyType string        `json:"body_type,omitempty"`
	Params   types.Context `json:"parameters,omitempty"`
	Context  types.Context `json:"context,omitempty"`

	TerminalState types.JobState `json:"terminal_state,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	Output        types.Context  `json:"output,omitempty"`

	NodeUUID string `json:"node_uuid,omitempty"`
}
