package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/pacemaker/pkg/bodies"
	"github.com/cuemby/pacemaker/pkg/config"
	"github.com/cuemby/pacemaker/pkg/coordinator"
	"github.com/cuemby/pacemaker/pkg/heart"
	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/spf13/cobra"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the coordinator daemon",
}

var coordinatorRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the Node Channel, Streaming API Facade, and admin HTTP surface until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("node-uuid"); v != "" {
			cfg.NodeUUID = v
		}
		if v, _ := cmd.Flags().GetString("bind-addr"); v != "" {
			cfg.BindAddr = v
		}
		if v, _ := cmd.Flags().GetString("stream-addr"); v != "" {
			cfg.StreamAddr = v
		}

		shellCommands, _ := cmd.Flags().GetStringToString("runtime-cmd")

		c, err := coordinator.New(cfg, shellCommands, nil)
		if err != nil {
			return fmt.Errorf("coordinator: %w", err)
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.Info("shutdown signal received")
			cancel()
		}()

		log.Logger.Info().Str("bind_addr", cfg.BindAddr).Str("stream_addr", cfg.StreamAddr).Msg("coordinator starting")
		return c.Run(ctx)
	},
}

var heartCmd = &cobra.Command{
	Use:   "heart",
	Short: "Run a heart node daemon",
}

var heartRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to a coordinator and execute dispatched job bodies until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeUUID, _ := cmd.Flags().GetString("node-uuid")
		coordinatorAddr, _ := cmd.Flags().GetString("coordinator")
		if nodeUUID == "" {
			return fmt.Errorf("--node-uuid is required")
		}
		if coordinatorAddr == "" {
			return fmt.Errorf("--coordinator is required")
		}

		// A heart's Job Body Registry only needs to carry leaf body types
		// (bodies.RequiresCoordinator bodies always run on the coordinator
		// itself, never here); a deployment with node-local leaf bodies
		// registers them here before calling Run.
		registry := bodies.NewRegistry()

		h := heart.New(nodeUUID, registry)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.Info("shutdown signal received")
			cancel()
		}()

		log.Logger.Info().Str("node_uuid", nodeUUID).Str("coordinator", coordinatorAddr).Msg("heart starting")
		return h.Run(ctx, coordinatorAddr)
	},
}

func init() {
	coordinatorCmd.AddCommand(coordinatorRunCmd)
	coordinatorRunCmd.Flags().String("config", "", "Path to a YAML config file")
	coordinatorRunCmd.Flags().String("node-uuid", "", "Override Config.NodeUUID")
	coordinatorRunCmd.Flags().String("bind-addr", "", "Override Config.BindAddr")
	coordinatorRunCmd.Flags().String("stream-addr", "", "Override Config.StreamAddr")
	coordinatorRunCmd.Flags().StringToString("runtime-cmd", map[string]string{}, "instance_type_id=shell command template for the reference ShellRuntime plugin")

	heartCmd.AddCommand(heartRunCmd)
	heartRunCmd.Flags().String("node-uuid", "", "This heart's node UUID (required)")
	heartRunCmd.Flags().String("coordinator", "127.0.0.1:42500", "Coordinator Node Channel address")
}
