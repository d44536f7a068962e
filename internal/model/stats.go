package model

// Stats summarizes a set of crawled posts.
type Stats struct {
	// TotalScraped is the number of posts before deduplication.
	TotalScraped int `json:"total_scraped"`

	// Unique is the number of posts after deduplication.
	Unique int `json:"unique"`

	// WithImages is the number of unique posts with at least one image.
	WithImages int `json:"with_images"`

	// DuplicationRatio is TotalScraped / Unique, 0 when there are no posts.
	// A healthy pagination chain stays close to 1.0.
	DuplicationRatio float64 `json:"duplication_ratio"`

	// HighestUpvotes is the largest upvote count among image posts.
	HighestUpvotes int `json:"highest_upvotes"`

	// TotalImages is the sum of image counts over image posts.
	TotalImages int `json:"total_images"`

	// AverageImages is TotalImages / WithImages.
	AverageImages float64 `json:"average_images"`

	// MultiImagePosts counts image posts with more than one image.
	MultiImagePosts int `json:"multi_image_posts"`

	// MaxImages is the largest image count on a single post.
	MaxImages int `json:"max_images"`

	// Distribution buckets image posts by upvote range.
	Distribution []Bucket `json:"distribution"`

	// Histogram counts image posts per exact upvote value, highest first.
	Histogram []Bucket `json:"histogram"`

	// TopAuthors ranks authors of image posts by total upvotes.
	TopAuthors []AuthorStats `json:"top_authors"`
}

// Bucket is one labeled count in a distribution.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Percent returns the bucket's share of total as a percentage.
func (b Bucket) Percent(total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(b.Count) / float64(total) * 100
}

// AuthorStats aggregates upvotes for one author.
type AuthorStats struct {
	Author       string  `json:"author"`
	Posts        int     `json:"posts"`
	TotalUpvotes int     `json:"total_upvotes"`
	Average      float64 `json:"average_upvotes"`
	MaxUpvotes   int     `json:"max_upvotes"`
}
