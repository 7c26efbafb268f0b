package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmcp/internal/config"
	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/memory"
	"github.com/Aman-CERP/amanmcp/internal/output"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and sync project memory (decisions, timeline, changelogs)",
	}

	cmd.AddCommand(newMemorySyncCmd())
	cmd.AddCommand(newMemoryContextCmd())

	return cmd
}

func newMemorySyncCmd() *cobra.Command {
	var limit int
	var tagsOnly, mergesOnly bool

	cmd := &cobra.Command{
		Use:   "sync [path]",
		Short: "Mirror git tags and merge commits into project memory",
		Long: `Sync walks the repository's tags (recorded as changelogs) and merge
commits (recorded as timeline events) and upserts them into the memory
store. Re-running sync is idempotent: entries are upserted by their
natural key, so nothing is duplicated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runMemorySync(cmd.Context(), cmd, path, memory.SyncOptions{
				Limit:      limit,
				TagsOnly:   tagsOnly,
				MergesOnly: mergesOnly,
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of tags and merge commits to process")
	cmd.Flags().BoolVar(&tagsOnly, "tags-only", false, "Only sync tags (changelogs), skip merge commits")
	cmd.Flags().BoolVar(&mergesOnly, "merges-only", false, "Only sync merge commits (timeline), skip tags")

	return cmd
}

func runMemorySync(ctx context.Context, cmd *cobra.Command, path string, opts memory.SyncOptions) error {
	out := output.New(cmd.OutOrStdout())

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	metadataPath := filepath.Join(root, ".amanmcp", "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found at %s - run 'amanmcp index' first", root)
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	stats, err := memory.SyncGitHistory(ctx, metadata, root, opts)
	if err != nil {
		return fmt.Errorf("git sync failed: %w", err)
	}

	out.Statusf("", "changelogs: %d added, %d skipped", stats.ChangelogsAdded, stats.ChangelogsSkipped)
	out.Statusf("", "timeline events: %d added, %d skipped", stats.TimelineAdded, stats.TimelineSkipped)
	for _, e := range stats.Errors {
		out.Statusf("⚠️", "%s", e)
	}

	return nil
}

func newMemoryContextCmd() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "context [path]",
		Short: "Generate a provenance-aware context blob for LLM consumption",
		Long: `Context assembles recent decisions, timeline events, and changelogs
from project memory, plus (with --query) relevant code from the hybrid
search engine, and prints it as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runMemoryContext(cmd.Context(), cmd, path, query)
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Include code relevant to this query")

	return cmd
}

func runMemoryContext(ctx context.Context, cmd *cobra.Command, path, query string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	dataDir := filepath.Join(root, ".amanmcp")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found at %s - run 'amanmcp index' first", root)
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	opts := memory.DefaultContextOptions()
	opts.Query = query

	var engine search.SearchEngine
	if query != "" {
		engine, err = buildMemorySearchEngine(ctx, root, dataDir, metadata)
		if err != nil {
			return err
		}
	}

	result, err := memory.GenerateContext(ctx, metadata, engine, opts)
	if err != nil {
		return fmt.Errorf("failed to generate context: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// buildMemorySearchEngine constructs a read-only search engine for
// memory context's optional --query section, reusing the same on-disk
// stores the search/research/serve commands open.
func buildMemorySearchEngine(ctx context.Context, root, dataDir string, metadata *store.SQLiteStore) (search.SearchEngine, error) {
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to open BM25 index: %w", err)
	}

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vectorConfig := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		_ = vector.Load(vectorPath)
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	return search.New(bm25, vector, embedder, metadata, engineConfig), nil
}
