package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// wsResponse mirrors pkg/stream.Response's wire shape, decoded generically
// here since the CLI only needs to branch on Type.
type wsResponse struct {
	Type     string          `json:"type"`
	Sequence int             `json:"sequence"`
	Data     json.RawMessage `json:"data"`
}

func dialStream(cmd *cobra.Command) (*websocket.Conn, error) {
	remote, _ := cmd.Flags().GetString("remote")
	port, _ := cmd.Flags().GetInt("port")
	ssl, _ := cmd.Flags().GetBool("ssl")
	scheme := "ws"
	if ssl {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", remote, port), Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	return conn, err
}

func authFrame(cmd *cobra.Command) map[string]interface{} {
	key, _ := cmd.Flags().GetString("key")
	return map[string]interface{}{"method": "super", "value": key}
}

// followTree subscribes to rootID's job status and reprints the tree on
// every update until the root reaches a terminal state, implementing
// `--follow`'s "tail job tree to terminal state" (spec §6).
func followTree(cmd *cobra.Command, rootID string) error {
	conn, err := dialStream(cmd)
	if err != nil {
		return fmt.Errorf("job-tree --follow: connect: %w", err)
	}
	defer conn.Close()

	req := map[string]interface{}{
		"request":  "subscribe_job_status",
		"sequence": 1,
		"data":     map[string]string{"root_id": rootID},
		"auth":     authFrame(cmd),
	}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}

	for {
		var resp wsResponse
		if err := conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("job-tree --follow: %w", err)
		}
		switch resp.Type {
		case "error":
			var e struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(resp.Data, &e)
			return fmt.Errorf("job-tree --follow: %s", e.Error)
		case "tree", "new":
			var payload struct {
				RootID string    `json:"root_id"`
				Tree   []treeJob `json:"tree"`
			}
			if err := json.Unmarshal(resp.Data, &payload); err != nil {
				continue
			}
			fmt.Print("\033[H\033[2J")
			renderTree(payload.Tree, rootID)
			for _, j := range payload.Tree {
				if j.JobID == rootID && isTerminal(j.State) {
					return nil
				}
			}
		case "status":
			var s struct {
				JobID   string `json:"job_id"`
				State   string `json:"state"`
				Summary string `json:"summary"`
			}
			if err := json.Unmarshal(resp.Data, &s); err != nil {
				continue
			}
			if s.JobID == rootID && isTerminal(s.State) {
				fmt.Println(stateStyle(s.State).Render(s.State) + ": " + s.Summary)
				return nil
			}
		}
	}
}

var logStreamCmd = &cobra.Command{
	Use:   "log-stream JOB_ID",
	Short: "Tail a job's log output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]
		position, _ := cmd.Flags().GetInt64("position")

		conn, err := dialStream(cmd)
		if err != nil {
			return fmt.Errorf("log-stream: connect: %w", err)
		}
		defer conn.Close()

		req := map[string]interface{}{
			"request":  "subscribe_log",
			"sequence": 1,
			"data":     map[string]interface{}{"job_id": jobID, "position": position},
			"auth":     authFrame(cmd),
		}
		if err := conn.WriteJSON(req); err != nil {
			return err
		}

		for {
			var resp wsResponse
			if err := conn.ReadJSON(&resp); err != nil {
				return fmt.Errorf("log-stream: %w", err)
			}
			switch resp.Type {
			case "error":
				var e struct {
					Error string `json:"error"`
				}
				_ = json.Unmarshal(resp.Data, &e)
				return fmt.Errorf("log-stream: %s", e.Error)
			case "lines":
				var l struct {
					Lines string `json:"lines"`
				}
				if err := json.Unmarshal(resp.Data, &l); err == nil {
					fmt.Print(l.Lines)
				}
			}
		}
	},
}

func init() {
	logStreamCmd.Flags().Int64("position", 0, "Log offset to resume from")
}
