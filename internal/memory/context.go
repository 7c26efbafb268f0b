package memory

import (
	"context"
	"time"

	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/store"
)

// recentContextLimit bounds how many decisions/timeline events/changelogs
// and code results are folded into a generated context, matching the
// Python original's generate_context (sqlite_vec_backend.py).
const recentContextLimit = 10
const recentChangelogLimit = 5
const recentCodeLimit = 5

// Context is a provenance-aware snapshot assembled for LLM consumption:
// recent decisions, timeline events, changelogs, and (optionally) code
// relevant to a query.
type Context struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	RecentDecisions []*store.Decision      `json:"recent_decisions,omitempty"`
	RecentChanges   []*store.TimelineEvent `json:"recent_changes,omitempty"`
	Changelogs      []*store.Changelog     `json:"changelogs,omitempty"`
	RelevantCode    []*search.SearchResult `json:"relevant_code,omitempty"`
}

// ContextOptions toggles which sections GenerateContext assembles.
type ContextOptions struct {
	Query             string // non-empty enables RelevantCode via engine.Search
	IncludeDecisions  bool
	IncludeTimeline   bool
	IncludeChangelogs bool
}

// DefaultContextOptions enables every section except code (which needs a query).
func DefaultContextOptions() ContextOptions {
	return ContextOptions{IncludeDecisions: true, IncludeTimeline: true, IncludeChangelogs: true}
}

// GenerateContext assembles a provenance-aware context blob from the
// memory store and, when opts.Query is set, the hybrid search engine —
// grounded on sqlite_vec_backend.py's generate_context.
func GenerateContext(ctx context.Context, metadata *store.SQLiteStore, engine search.SearchEngine, opts ContextOptions) (*Context, error) {
	out := &Context{GeneratedAt: time.Now()}

	if opts.IncludeDecisions {
		decisions, err := metadata.ListPendingDecisions(ctx)
		if err != nil {
			return nil, err
		}
		if len(decisions) > recentContextLimit {
			decisions = decisions[:recentContextLimit]
		}
		out.RecentDecisions = decisions
	}

	if opts.IncludeTimeline {
		events, err := metadata.GetTimelineEvents(ctx, recentContextLimit)
		if err != nil {
			return nil, err
		}
		out.RecentChanges = events
	}

	if opts.IncludeChangelogs {
		changelogs, err := metadata.GetChangelogs(ctx, recentChangelogLimit)
		if err != nil {
			return nil, err
		}
		out.Changelogs = changelogs
	}

	if opts.Query != "" && engine != nil {
		results, err := engine.Search(ctx, opts.Query, search.SearchOptions{Limit: recentCodeLimit})
		if err != nil {
			return nil, err
		}
		out.RelevantCode = results
	}

	return out, nil
}
