package analysis

import (
	"cmp"
	"fmt"
	"slices"

	"golang.org/x/text/cases"

	"github.com/nao1215/postcrawl/internal/model"
)

// MaxTopAuthors is the number of authors kept in Stats.TopAuthors.
const MaxTopAuthors = 10

// upvoteRanges are the distribution buckets, highest first.
var upvoteRanges = []struct {
	label string
	min   int
}{
	{"8+ upvotes", 8},
	{"6-7 upvotes", 6},
	{"4-5 upvotes", 4},
	{"2-3 upvotes", 2},
	{"0-1 upvotes", 0},
}

// Summarize computes statistics over a crawl. all is the raw crawl output
// and unique its deduplicated form; the per-post figures only consider
// unique posts with images.
func Summarize(all, unique []model.Post) *model.Stats {
	images := Filter(unique, HasImage)

	stats := &model.Stats{
		TotalScraped: len(all),
		Unique:       len(unique),
		WithImages:   len(images),
		Distribution: distribution(images),
		Histogram:    histogram(images),
		TopAuthors:   topAuthors(images, MaxTopAuthors),
	}
	if len(unique) > 0 {
		stats.DuplicationRatio = float64(len(all)) / float64(len(unique))
	}

	for _, p := range images {
		stats.HighestUpvotes = max(stats.HighestUpvotes, p.Upvotes)
		stats.TotalImages += p.ImageCount()
		stats.MaxImages = max(stats.MaxImages, p.ImageCount())
		if p.ImageCount() > 1 {
			stats.MultiImagePosts++
		}
	}
	if len(images) > 0 {
		stats.AverageImages = float64(stats.TotalImages) / float64(len(images))
	}

	return stats
}

func distribution(posts []model.Post) []model.Bucket {
	buckets := make([]model.Bucket, len(upvoteRanges))
	for i, r := range upvoteRanges {
		buckets[i].Label = r.label
	}

	for _, p := range posts {
		for i, r := range upvoteRanges {
			if p.Upvotes >= r.min {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

// histogram counts posts per exact upvote value, highest value first.
func histogram(posts []model.Post) []model.Bucket {
	counts := make(map[int]int)
	for _, p := range posts {
		counts[p.Upvotes]++
	}

	values := make([]int, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	slices.SortFunc(values, func(a, b int) int { return cmp.Compare(b, a) })

	buckets := make([]model.Bucket, 0, len(values))
	for _, v := range values {
		buckets = append(buckets, model.Bucket{
			Label: fmt.Sprintf("%d upvotes", v),
			Count: counts[v],
		})
	}
	return buckets
}

// topAuthors groups posts by case-folded author name and ranks the groups
// by total upvotes. Each group is shown with its first-seen spelling.
func topAuthors(posts []model.Post, limit int) []model.AuthorStats {
	fold := cases.Fold()
	index := make(map[string]int)
	authors := make([]model.AuthorStats, 0)

	for _, p := range posts {
		key := fold.String(p.Author)
		i, ok := index[key]
		if !ok {
			i = len(authors)
			index[key] = i
			authors = append(authors, model.AuthorStats{Author: p.Author})
		}
		a := &authors[i]
		a.Posts++
		a.TotalUpvotes += p.Upvotes
		a.MaxUpvotes = max(a.MaxUpvotes, p.Upvotes)
	}

	for i := range authors {
		authors[i].Average = float64(authors[i].TotalUpvotes) / float64(authors[i].Posts)
	}

	slices.SortStableFunc(authors, func(a, b model.AuthorStats) int {
		if c := cmp.Compare(b.TotalUpvotes, a.TotalUpvotes); c != 0 {
			return c
		}
		return cmp.Compare(b.Posts, a.Posts)
	})

	if limit > 0 && len(authors) > limit {
		authors = authors[:limit]
	}
	return authors
}
