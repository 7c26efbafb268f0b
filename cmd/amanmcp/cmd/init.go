package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmcp/configs"
	"github.com/Aman-CERP/amanmcp/internal/output"
)

func newInitCmd() *cobra.Command {
	var (
		force   bool
		offline bool
		noIndex bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a project index directory",
		Long: `Initialize the project with a default configuration and index directory.

Creates .amanmcp.yaml with sensible defaults, adds .amanmcp/ (the index data
directory) to .gitignore, and runs an initial index unless --no-index is given.`,
		Example: `  amanmcp init
  amanmcp init --offline
  amanmcp init --force --no-index`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runInit(ctx, cmd, path, force, offline, noIndex)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing .amanmcp.yaml")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (no embedding daemon required)")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "Only write configuration, skip initial indexing")

	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command, path string, force, offline, noIndex bool) error {
	out := output.New(cmd.OutOrStdout())

	absRoot, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	out.Statusf("📁", "Project: %s", absRoot)

	dataDir := filepath.Join(absRoot, ".amanmcp")
	configPath := filepath.Join(absRoot, ".amanmcp.yaml")

	if !force {
		if _, err := os.Stat(configPath); err == nil {
			out.Warning("Project already initialized (.amanmcp.yaml exists)")
			out.Status("💡", "Use --force to reinitialize")
			return nil
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create .amanmcp directory: %w", err)
	}

	out.Status("⚙️ ", "Writing configuration...")
	if err := writeDefaultConfig(configPath, force); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	out.Statusf("📝", "Created %s", configPath)

	if added, err := ensureGitignore(absRoot); err == nil && added {
		out.Status("📝", "Added .amanmcp to .gitignore")
	}

	if noIndex {
		out.Newline()
		out.Success("Initialization complete (config only)")
		return nil
	}

	out.Newline()
	out.Status("📊", "Indexing project...")
	startTime := time.Now()
	if err := runIndexWithResume(ctx, cmd, absRoot, offline, false, false, force); err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	out.Statusf("⏱️ ", "Completed in %.1fs", time.Since(startTime).Seconds())

	out.Newline()
	out.Success("Initialization complete!")
	return nil
}

// writeDefaultConfig writes configs.ProjectConfigTemplate to path; the
// parent directory must already exist. When force is false and the file already
// exists the caller is expected to have checked first; this always writes.
func writeDefaultConfig(path string, _ bool) error {
	return os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0644)
}

// ensureGitignore adds .amanmcp to .gitignore if not present.
func ensureGitignore(projectRoot string) (bool, error) {
	gitignorePath := filepath.Join(projectRoot, ".gitignore")

	content, err := os.ReadFile(gitignorePath)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading .gitignore: %w", err)
	}

	if hasIndexDirIgnored(string(content)) {
		return false, nil
	}

	entry := "# amanmcp index data (auto-generated)\n.amanmcp/\n"
	if len(content) > 0 {
		if content[len(content)-1] != '\n' {
			content = append(content, '\n')
		}
		entry = "\n" + entry
	}
	content = append(content, []byte(entry)...)

	if err := os.WriteFile(gitignorePath, content, 0644); err != nil {
		return false, fmt.Errorf("writing .gitignore: %w", err)
	}
	return true, nil
}

func hasIndexDirIgnored(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case ".amanmcp", ".amanmcp/", "/.amanmcp", "/.amanmcp/":
			return true
		}
	}
	return false
}
