package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmcp/internal/config"
	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/output"
	"github.com/Aman-CERP/amanmcp/internal/research"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// researchOptions holds CLI flags for research.
type researchOptions struct {
	hops     int
	limit    int
	graph    bool
	noFilter bool
	bm25Only bool
}

func newResearchCmd() *cobra.Command {
	var opts researchOptions

	cmd := &cobra.Command{
		Use:   "research <question>",
		Short: "Multi-hop research over the indexed codebase",
		Long: `Research expands a single query into a bounded chain of follow-up
searches: each hop extracts candidate identifiers from the previous hop's
results and re-queries for them, building a relationship graph as it goes.

Examples:
  amanmcp research "how does authentication work"
  amanmcp research "validateToken" --hops 3 --graph`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return runResearch(cmd.Context(), cmd, question, opts)
		},
	}

	cmd.Flags().IntVar(&opts.hops, "hops", 2, "Maximum number of expansion hops")
	cmd.Flags().IntVarP(&opts.limit, "limit", "k", 10, "Maximum results per hop")
	cmd.Flags().BoolVar(&opts.graph, "graph", false, "Print the derived call graph and entry points")
	cmd.Flags().BoolVar(&opts.noFilter, "no-filter", false, "Search every content type, not just code")
	cmd.Flags().BoolVar(&opts.bm25Only, "bm25-only", false, "Use keyword search only (skip semantic search)")

	return cmd
}

func runResearch(ctx context.Context, cmd *cobra.Command, question string, opts researchOptions) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".amanmcp")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'amanmcp index' first")
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25Config := store.DefaultBM25Config()
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, bm25Config, cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")

	var embedder embed.Embedder
	var dimensions int
	if opts.bm25Only {
		embedder = embed.NewStaticEmbedder768()
		dimensions = embedder.Dimensions()
	} else {
		embed.SetMLXConfig(embed.MLXServerConfig{
			Endpoint: cfg.Embeddings.MLXEndpoint,
			Model:    cfg.Embeddings.MLXModel,
		})
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err = embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		dimensions = embedder.Dimensions()
	}
	defer func() { _ = embedder.Close() }()

	vectorConfig := store.DefaultVectorStoreConfig(dimensions)
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()

	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	engine := search.New(bm25, vector, embedder, metadata, engineConfig)

	researcher := research.New(engine)
	result, err := researcher.Research(ctx, question, research.Options{
		MaxHops:          opts.hops,
		MaxResultsPerHop: opts.limit,
		MaxTotalChunks:   research.DefaultOptions().MaxTotalChunks,
		NoFilter:         opts.noFilter,
	})
	if err != nil {
		return fmt.Errorf("research failed: %w", err)
	}

	return formatResearch(out, result, opts.graph)
}

func formatResearch(out *output.Writer, result *research.Result, graph bool) error {
	out.Statusf("🔎", "Research: %q", result.Question)
	out.Statusf("", "Hops executed: %d | Entities found: %d | Chunks: %d",
		result.HopsExecuted, result.TotalEntitiesFound, len(result.Chunks))
	out.Newline()

	for i, c := range result.Chunks {
		location := c.FilePath
		if c.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", c.FilePath, c.StartLine)
		}
		out.Statusf("", "%d. %s", i+1, location)
	}

	if !graph {
		return nil
	}

	out.Newline()
	out.Status("", "Call graph:")
	callGraph := research.BuildCallGraph(result.Relationships)
	for from, edges := range callGraph {
		for _, edge := range edges {
			out.Statusf("", "  %s --%s--> %s", from, edge.Type, edge.Target)
		}
	}

	entryPoints := research.GetEntryPoints(result.Relationships)
	out.Newline()
	if len(entryPoints) == 0 {
		out.Status("", "Entry points: (none — purely cyclic)")
	} else {
		out.Statusf("", "Entry points: %s", strings.Join(entryPoints, ", "))
	}

	return nil
}
