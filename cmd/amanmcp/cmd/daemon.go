package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmcp/internal/config"
	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/output"
)

// newDaemonCmd wires spec.md §6.4's optional out-of-process embedding
// daemon into the CLI, following the teacher's daemon start/stop/status
// command shape (cmd/amanmcp/cmd/daemon.go) but targeting the embedding
// daemon (internal/embed) rather than the teacher's own compaction
// daemon (internal/daemon).
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background embedding daemon",
		Long: `The embedding daemon keeps a lazily-loaded embedder warm across CLI
invocations, serving "embed" and "health" requests over a Unix socket
with length-prefixed JSON framing (spec.md §6.4).`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start [path]",
		Short: "Start the background embedding daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runDaemonStart(cmd.Context(), cmd, path, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [path]",
		Short: "Stop the running embedding daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runDaemonStop(cmd, path)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show embedding daemon status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runDaemonStatus(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func daemonConfigFor(path string) (embed.DaemonConfig, string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return embed.DaemonConfig{}, "", fmt.Errorf("failed to resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}
	dataDir := filepath.Join(root, ".amanmcp")
	return embed.DefaultDaemonConfig(dataDir), root, nil
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, path string, foreground bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, root, err := daemonConfigFor(path)
	if err != nil {
		return err
	}

	client := embed.NewDaemonClient(cfg.SocketPath, "", 0)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if foreground {
		out.Status("", "Starting embedding daemon in foreground...")
		out.Status("", fmt.Sprintf("Socket: %s", cfg.SocketPath))
		out.Status("", "Press Ctrl+C to stop")

		appConfig, err := config.Load(root)
		if err != nil {
			appConfig = config.NewConfig()
		}

		factory := func(ctx context.Context) (embed.Embedder, error) {
			embed.SetMLXConfig(embed.MLXServerConfig{
				Endpoint: appConfig.Embeddings.MLXEndpoint,
				Model:    appConfig.Embeddings.MLXModel,
			})
			provider := embed.ParseProvider(appConfig.Embeddings.Provider)
			return embed.NewEmbedder(ctx, provider, appConfig.Embeddings.Model)
		}

		d := embed.NewDaemon(cfg, factory)
		return d.Serve(ctx)
	}

	out.Status("", "Starting embedding daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", root, "--foreground")
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Success(fmt.Sprintf("Daemon started (pid: %d)", bgCmd.Process.Pid))
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runDaemonStop(cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, _, err := daemonConfigFor(path)
	if err != nil {
		return err
	}

	if !embed.DaemonPIDRunning(cfg) {
		out.Status("", "Daemon is not running")
		return nil
	}

	pid, err := embed.StopDaemon(cfg)
	if err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !embed.DaemonPIDRunning(cfg) {
			out.Success(fmt.Sprintf("Daemon stopped (was pid: %d)", pid))
			return nil
		}
	}

	out.Status("", "Daemon not responding to SIGTERM")
	return fmt.Errorf("daemon did not stop within timeout (pid: %d)", pid)
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	cfg, _, err := daemonConfigFor(path)
	if err != nil {
		return err
	}

	client := embed.NewDaemonClient(cfg.SocketPath, "", 0)
	running := client.IsRunning()

	if jsonOutput {
		status := map[string]any{"running": running, "socket": cfg.SocketPath}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out := output.New(cmd.OutOrStdout())
	if !running {
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'amanmcp daemon start' to start it")
		return nil
	}

	available := client.Available(ctx)
	out.Status("", "Daemon is running")
	out.Status("", fmt.Sprintf("  Socket:    %s", cfg.SocketPath))
	out.Status("", fmt.Sprintf("  Available: %v", available))
	return nil
}
