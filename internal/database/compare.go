package database

import (
	"context"
	"fmt"

	"github.com/nao1215/postcrawl/internal/model"
)

// PostDiff is the difference between the unique posts of two runs.
type PostDiff struct {
	OldRunID int64
	NewRunID int64

	// Added holds posts only present in the new run, in new-run order.
	Added []model.Post

	// Removed holds posts only present in the old run, in old-run order.
	Removed []model.Post

	// Changed holds posts present in both runs whose votes changed.
	Changed []VoteChange
}

// VoteChange records the vote movement of one post between two runs.
type VoteChange struct {
	// Post is the post as seen in the new run.
	Post model.Post

	OldUpvotes   int
	OldDownvotes int
}

// UpvoteDelta returns the upvote change from the old run to the new run.
func (c VoteChange) UpvoteDelta() int {
	return c.Post.Upvotes - c.OldUpvotes
}

// HasChanges reports whether the two runs differ at all.
func (d *PostDiff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Changed) > 0
}

// ComparePosts compares the unique posts of two stored runs by post ID.
func (cdb *CrawlDB) ComparePosts(ctx context.Context, oldRunID, newRunID int64) (*PostDiff, error) {
	oldPosts, err := cdb.RunPosts(ctx, oldRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", oldRunID, err)
	}
	newPosts, err := cdb.RunPosts(ctx, newRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", newRunID, err)
	}

	return DiffPosts(oldRunID, newRunID, oldPosts, newPosts), nil
}

// DiffPosts compares two post lists by ID.
func DiffPosts(oldRunID, newRunID int64, oldPosts, newPosts []model.Post) *PostDiff {
	diff := &PostDiff{
		OldRunID: oldRunID,
		NewRunID: newRunID,
	}

	oldByID := make(map[string]model.Post, len(oldPosts))
	for _, p := range oldPosts {
		if _, ok := oldByID[p.ID]; !ok {
			oldByID[p.ID] = p
		}
	}
	newIDs := make(map[string]struct{}, len(newPosts))

	for _, p := range newPosts {
		if _, seen := newIDs[p.ID]; seen {
			continue
		}
		newIDs[p.ID] = struct{}{}

		old, ok := oldByID[p.ID]
		switch {
		case !ok:
			diff.Added = append(diff.Added, p)
		case old.Upvotes != p.Upvotes || old.Downvotes != p.Downvotes:
			diff.Changed = append(diff.Changed, VoteChange{
				Post:         p,
				OldUpvotes:   old.Upvotes,
				OldDownvotes: old.Downvotes,
			})
		}
	}

	removed := make(map[string]struct{})
	for _, p := range oldPosts {
		if _, ok := newIDs[p.ID]; ok {
			continue
		}
		if _, dup := removed[p.ID]; dup {
			continue
		}
		removed[p.ID] = struct{}{}
		diff.Removed = append(diff.Removed, p)
	}

	return diff
}
