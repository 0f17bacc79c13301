package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	styleRoot      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleSuccess   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleAborted   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stylePending   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleBodyType  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("250"))
)

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "SUCCESS":
		return styleSuccess
	case "FAILED":
		return styleFailed
	case "ABORTED":
		return styleAborted
	case "RUNNING":
		return styleRunning
	default:
		return stylePending
	}
}

func isTerminal(state string) bool {
	switch state {
	case "SUCCESS", "FAILED", "ABORTED":
		return true
	default:
		return false
	}
}

type treeJob struct {
	JobID    string `json:"job_id"`
	RootID   string `json:"root_id"`
	ParentID string `json:"parent_id"`
	BodyType string `json:"body_type"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	State    string `json:"state"`
}

// renderTree prints jobs as an indented, colorized tree rooted at rootID,
// the way `job-tree`/`--follow` renders the job tree's current shape to the
// terminal.
func renderTree(jobs []treeJob, rootID string) {
	children := map[string][]treeJob{}
	var root *treeJob
	for _, j := range jobs {
		if j.JobID == rootID {
			jj := j
			root = &jj
			continue
		}
		children[j.ParentID] = append(children[j.ParentID], j)
	}
	if root == nil {
		fmt.Println(stylePending.Render("(root job not found in tree)"))
		return
	}
	printNode(*root, children, 0)
}

func printNode(j treeJob, children map[string][]treeJob, depth int) {
	indent := strings.Repeat("  ", depth)
	label := styleRoot.Render(j.Title)
	if depth > 0 {
		label = j.Title
	}
	line := fmt.Sprintf("%s%s [%s] %s", indent, label, styleBodyType.Render(j.BodyType), stateStyle(j.State).Render(j.State))
	if j.Summary != "" {
		line += " — " + j.Summary
	}
	fmt.Println(line)
	for _, c := range children[j.JobID] {
		printNode(c, children, depth+1)
	}
}

var jobCreateCmd = &cobra.Command{
	Use:   "job-create",
	Short: "Create and arm a root job of the given body type",
	RunE: func(cmd *cobra.Command, args []string) error {
		bodyType, _ := cmd.Flags().GetString("body-type")
		title, _ := cmd.Flags().GetString("title")
		paramPairs, _ := cmd.Flags().GetStringSlice("param")
		follow, _ := cmd.Flags().GetBool("follow")
		if bodyType == "" {
			return fmt.Errorf("--body-type is required")
		}

		params := map[string]interface{}{}
		for _, p := range paramPairs {
			k, v, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("invalid --param %q, expected key=value", p)
			}
			params[k] = coerceParam(v)
		}

		client := newAdminClient(cmd)
		data, err := client.do("POST", "/admin/jobs", map[string]interface{}{
			"body_type":  bodyType,
			"parameters": params,
			"title":      title,
		})
		if err != nil {
			return err
		}
		var resp struct {
			RootID string `json:"root_id"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		fmt.Printf("job_id: %s\n", resp.RootID)
		if follow {
			return followTree(cmd, resp.RootID)
		}
		return nil
	},
}

// coerceParam parses a CLI --param value as a number or bool when it looks
// like one, falling back to the literal string (spec §4.2's Context values
// are dynamically typed, same as the job bodies expect).
func coerceParam(v string) interface{} {
	if v == "true" {
		return true
	}
	if v == "false" {
		return false
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	return v
}

var jobAbortCmd = &cobra.Command{
	Use:   "job-abort JOB_ID",
	Short: "Abort a job and every in-flight descendant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAdminClient(cmd)
		data, err := client.do("POST", "/admin/jobs/abort?job_id="+args[0], nil)
		if err != nil {
			return err
		}
		return prettyPrint(data)
	},
}

var jobTreeCmd = &cobra.Command{
	Use:   "job-tree ROOT_ID",
	Short: "Print a job tree, optionally following it to a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		if follow {
			return followTree(cmd, args[0])
		}
		client := newAdminClient(cmd)
		data, err := client.do("GET", "/admin/jobs/tree?root_id="+args[0], nil)
		if err != nil {
			return err
		}
		var jobs []treeJob
		if err := json.Unmarshal(data, &jobs); err != nil {
			return prettyPrint(data)
		}
		renderTree(jobs, args[0])
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "node-list",
	Short: "List every node known to the coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAdminClient(cmd)
		data, err := client.do("GET", "/admin/nodes", nil)
		if err != nil {
			return err
		}
		return prettyPrint(data)
	},
}

func init() {
	jobCreateCmd.Flags().String("body-type", "", "Registered body type to root the new tree on (required)")
	jobCreateCmd.Flags().String("title", "", "Human-readable title for the root job")
	jobCreateCmd.Flags().StringSlice("param", nil, "key=value parameter, repeatable")
	jobCreateCmd.Flags().Bool("follow", false, "Tail the job tree to a terminal state after creating it")

	jobTreeCmd.Flags().Bool("follow", false, "Tail the job tree to a terminal state")
}
