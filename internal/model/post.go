package model

// Post is one community post discovered while crawling a board.
//
// ID is the only deduplication key. Boards do not guarantee its uniqueness
// across pages, so two posts with the same ID are treated as the same entity
// even when their payloads differ.
type Post struct {
	// ID is the stable identifier taken from the post element (e.g. "post-1234").
	ID string `json:"post_id"`

	// Page is the page number the post was discovered on, starting at 1.
	Page int `json:"page_num"`

	// Author is the display name of the poster, "Anonymous" when unknown.
	Author string `json:"author"`

	// Content is the normalized text body of the post.
	Content string `json:"content"`

	// Upvotes is the positive vote count.
	Upvotes int `json:"upvotes"`

	// Downvotes is the absolute negative vote count.
	Downvotes int `json:"downvotes"`

	// Timestamp is the relative time string shown by the board ("3 days ago").
	Timestamp string `json:"timestamp"`

	// ImageURLs are the absolute URLs of images attached to the post, in
	// document order without duplicates.
	ImageURLs []string `json:"image_urls"`
}

// AnonymousAuthor is used when a post has no resolvable author profile.
const AnonymousAuthor = "Anonymous"

// UnknownPostID is used when a post element carries no id attribute.
const UnknownPostID = "unknown"

// HasImage reports whether the post has at least one attached image.
func (p Post) HasImage() bool {
	return len(p.ImageURLs) > 0
}

// ImageCount returns the number of attached images.
func (p Post) ImageCount() int {
	return len(p.ImageURLs)
}

// Score returns upvotes minus downvotes.
func (p Post) Score() int {
	return p.Upvotes - p.Downvotes
}
