// Command pacemaker is the single executable for both process roles (the
// coordinator daemon and a heart daemon) and the operator CLI surface of
// spec.md §6: verbs grouped by noun (job-*, log-stream, node-list, plus
// stub user-*/role-*/workspace-*/application-*/version-*/file-upload verbs
// whose backing relational entity store lives outside this module), talking
// to a running coordinator over its admin HTTP and streaming websocket
// endpoints. Grounded on cmd/warren/main.go's cobra command-tree shape: one
// root command, cobra.OnInitialize for logging, persistent flags shared by
// every leaf.
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pacemaker",
	Short: "Pacemaker - distributed job tree coordinator",
	Long: `Pacemaker schedules and dispatches job trees across a coordinator and
any number of heart nodes. One binary runs either process role, or drives a
running coordinator as an operator CLI.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Pacemaker version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("loglevel", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("remote", "127.0.0.1", "Coordinator host")
	rootCmd.PersistentFlags().Int("port", 42501, "Coordinator stream/admin port")
	rootCmd.PersistentFlags().String("key", "", "Super or API bearer token")
	rootCmd.PersistentFlags().Bool("ssl", false, "Use https/wss against --remote")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(heartCmd)
	rootCmd.AddCommand(jobAbortCmd)
	rootCmd.AddCommand(jobCreateCmd)
	rootCmd.AddCommand(jobTreeCmd)
	rootCmd.AddCommand(logStreamCmd)
	rootCmd.AddCommand(nodeListCmd)
	addStubCommands(rootCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("loglevel")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
