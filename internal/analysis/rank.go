package analysis

import (
	"cmp"
	"slices"

	"github.com/nao1215/postcrawl/internal/model"
)

// Predicate selects posts.
type Predicate func(model.Post) bool

// HasImage selects posts with at least one attached image.
func HasImage(p model.Post) bool {
	return p.HasImage()
}

// Deduplicate returns the posts with duplicate IDs removed. The first post
// seen with a given ID wins, later copies are dropped even if their payload
// differs. Order of first appearance is preserved, so applying Deduplicate
// to its own output changes nothing.
func Deduplicate(posts []model.Post) []model.Post {
	seen := make(map[string]struct{}, len(posts))
	unique := make([]model.Post, 0, len(posts))

	for _, p := range posts {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		unique = append(unique, p)
	}

	return unique
}

// Filter returns the posts for which keep returns true, in input order.
// A nil predicate keeps every post.
func Filter(posts []model.Post, keep Predicate) []model.Post {
	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if keep == nil || keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// Rank returns the posts ordered by upvotes descending, then downvotes
// ascending, then image count descending. The sort is stable: posts equal
// on all three keys keep their input order.
func Rank(posts []model.Post) []model.Post {
	ranked := slices.Clone(posts)
	if ranked == nil {
		ranked = []model.Post{}
	}
	slices.SortStableFunc(ranked, compareRank)
	return ranked
}

// compareRank orders a before b when a ranks higher.
func compareRank(a, b model.Post) int {
	if c := cmp.Compare(b.Upvotes, a.Upvotes); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Downvotes, b.Downvotes); c != 0 {
		return c
	}
	return cmp.Compare(b.ImageCount(), a.ImageCount())
}

// Top returns the n highest ranked posts with images. n <= 0 returns all of
// them.
func Top(posts []model.Post, n int) []model.Post {
	ranked := Rank(Filter(posts, HasImage))
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
