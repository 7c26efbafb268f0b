// Package memory assembles provenance-aware context from the memory store
// (internal/store decisions/timeline/changelogs) and mirrors git history
// into it, supplementing the indexed codebase with project narrative.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/Aman-CERP/amanmcp/internal/store"
)

// SyncOptions configures a git history sync.
type SyncOptions struct {
	// Limit caps the number of tags and the number of merge commits
	// processed in a single sync call.
	Limit int

	// TagsOnly restricts the sync to tags (changelogs), skipping merges.
	TagsOnly bool

	// MergesOnly restricts the sync to merge commits (timeline), skipping tags.
	MergesOnly bool
}

// DefaultSyncOptions mirrors the Python original's defaults (git_sync.py).
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{Limit: 50}
}

// SyncStats reports what a SyncGitHistory call did.
type SyncStats struct {
	ChangelogsAdded   int
	ChangelogsSkipped int
	TimelineAdded     int
	TimelineSkipped   int
	Errors            []string
}

// SyncGitHistory mirrors a repository's tags (as Changelogs) and merge
// commits (as TimelineEvents) into the memory store. It is idempotent:
// both AddChangelog and AddTimelineEvent upsert by natural key, so a
// re-sync of the same history is a no-op past the first run. Grounded on
// sia_code/memory/git_sync.py's GitSyncService.sync.
func SyncGitHistory(ctx context.Context, metadata *store.SQLiteStore, repoPath string, opts SyncOptions) (*SyncStats, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSyncOptions().Limit
	}

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	stats := &SyncStats{}

	if !opts.MergesOnly {
		syncTags(ctx, metadata, repo, opts.Limit, stats)
	}
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	if !opts.TagsOnly {
		syncMerges(ctx, metadata, repo, opts.Limit, stats)
	}

	return stats, nil
}

// syncTags walks repository tags and upserts one Changelog per tag,
// resolving both lightweight and annotated tags to their target commit.
func syncTags(ctx context.Context, metadata *store.SQLiteStore, repo *git.Repository, limit int, stats *SyncStats) {
	tagIter, err := repo.Tags()
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("error listing tags: %v", err))
		return
	}

	added := 0
	_ = tagIter.ForEach(func(ref *plumbing.Reference) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if added >= limit {
			return storerErrStop
		}

		commit, summary, when, err := resolveTagCommit(repo, ref)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("error resolving tag %s: %v", ref.Name().Short(), err))
			return nil
		}

		cl := &store.Changelog{
			Tag:        ref.Name().Short(),
			Summary:    summary,
			CommitHash: commit.Hash.String(),
			CommitTime: when,
		}
		if err := metadata.AddChangelog(ctx, cl); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("error adding changelog for tag %s: %v", cl.Tag, err))
			return nil
		}
		added++
		stats.ChangelogsAdded++
		return nil
	})
}

// resolveTagCommit returns the commit a tag reference points at, along
// with its annotation message (or commit message, for lightweight tags).
func resolveTagCommit(repo *git.Repository, ref *plumbing.Reference) (*object.Commit, string, time.Time, error) {
	if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
		commit, err := tagObj.Commit()
		if err != nil {
			return nil, "", time.Time{}, err
		}
		return commit, strings.TrimSpace(tagObj.Message), tagObj.Tagger.When, nil
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return commit, strings.TrimSpace(commit.Message), commit.Author.When, nil
}

// syncMerges walks commit history and upserts one TimelineEvent per merge
// commit, recording its two parents as from_ref/to_ref.
func syncMerges(ctx context.Context, metadata *store.SQLiteStore, repo *git.Repository, limit int, stats *SyncStats) {
	commitIter, err := repo.Log(&git.LogOptions{Order: git.LogOrderCommitterTime})
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("error reading commit log: %v", err))
		return
	}

	added := 0
	_ = commitIter.ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if added >= limit {
			return storerErrStop
		}
		if c.NumParents() < 2 {
			return nil
		}

		parents := c.ParentHashes
		ev := &store.TimelineEvent{
			FromRef:     parents[0].String()[:12],
			ToRef:       c.Hash.String()[:12],
			EventType:   "merge",
			Description: strings.TrimSpace(c.Message),
			CommitHash:  c.Hash.String(),
			CommitTime:  c.Author.When,
		}
		if err := metadata.AddTimelineEvent(ctx, ev); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("error adding timeline event for %s: %v", ev.CommitHash, err))
			return nil
		}
		added++
		stats.TimelineAdded++
		return nil
	})
}

// storerErrStop is a sentinel used to break out of a ForEach loop once the
// per-sync limit is reached, the same pattern the pack's git_helper.go
// uses ("reached max commits") to stop iteration early.
var storerErrStop = fmt.Errorf("sync limit reached")
