package config

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// DefaultMaxPages bounds the pages fetched per board. Boards with long
	// histories reach it before the cursor chain ends.
	DefaultMaxPages = 100

	// DefaultDelay is the pause between two page fetches of the same board.
	DefaultDelay = 1500 * time.Millisecond

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 15 * time.Second

	// DefaultRetries is the number of fetch attempts per page. 1 disables retry.
	DefaultRetries = 1

	// DefaultTop is the number of ranked posts exported.
	DefaultTop = 100

	// DefaultBatchSize is the number of boards crawled concurrently.
	DefaultBatchSize = 4

	// DefaultFormat is the report output format.
	DefaultFormat = "table"

	// AppName is the application name used for XDG directory paths.
	AppName = "postcrawl"
)

// Config holds all configuration options for a postcrawl run.
// It is populated from CLI flags and passed down explicitly.
type Config struct {
	// Boards are the seed URLs of the boards to crawl.
	Boards []string

	// MaxPages is the page ceiling per board.
	MaxPages int

	// Delay is the pause between page fetches of one board.
	Delay time.Duration

	// MaxPagesExplicit and DelayExplicit mark values given on the command
	// line. They win over the config file.
	MaxPagesExplicit bool
	DelayExplicit    bool

	// StopOnEmptyPage ends a crawl at the first page without posts.
	StopOnEmptyPage bool

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// Retries is the number of fetch attempts per page.
	Retries int

	// RateLimit is the minimum interval between requests of one client.
	// Zero disables the limiter.
	RateLimit time.Duration

	// UserAgent overrides the fetcher's User-Agent when set.
	UserAgent string

	// MaxBodySize caps response bodies in bytes. Zero keeps the fetcher default.
	MaxBodySize int64

	// Top is the number of ranked posts to export. Zero exports every
	// ranked post.
	Top int

	// BatchSize is the number of boards crawled concurrently.
	BatchSize int

	// Format is the report output format name.
	Format string

	// ReportFile is the output file path. Empty means stdout.
	ReportFile string

	// Tee also prints a table report on stdout when ReportFile is set.
	Tee bool

	// AllPosts exports every unique post instead of the ranked top list.
	AllPosts bool

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is an explicit config file path. When empty, .postcrawl
	// is searched in the working directory and then the home directory.
	ConfigFilePath string

	// BoardConfigs holds per-board settings loaded from the config file.
	BoardConfigs *File

	// DBDir is the directory of the crawl store.
	DBDir string

	// SaveToDB stores every crawl in the crawl store.
	SaveToDB bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxPages:        DefaultMaxPages,
		Delay:           DefaultDelay,
		StopOnEmptyPage: true,
		Timeout:         DefaultTimeout,
		Retries:         DefaultRetries,
		Top:             DefaultTop,
		BatchSize:       DefaultBatchSize,
		Format:          DefaultFormat,
		DBDir:           XDGDataDir(),
		SaveToDB:        true,
	}
}

// XDGDataDir returns the XDG data directory for postcrawl, where the crawl
// store lives.
// On Linux: ~/.local/share/postcrawl
// On macOS: ~/Library/Application Support/postcrawl
// On Windows: %LOCALAPPDATA%\postcrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Validate checks if the configuration is valid and returns the first
// problem found.
func (c *Config) Validate() error {
	if len(c.Boards) == 0 {
		return ErrNoBoard
	}
	for _, board := range c.Boards {
		if !isBoardURL(board) {
			return &BoardURLError{URL: board}
		}
	}

	if c.MaxPages < 1 {
		return ErrInvalidMaxPages
	}
	if c.Delay < 0 {
		return ErrInvalidDelay
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Retries < 1 {
		return ErrInvalidRetries
	}
	if c.RateLimit < 0 {
		return ErrInvalidRateLimit
	}
	if c.Top < 0 {
		return ErrInvalidTop
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	return nil
}

// BoardConfig returns the file settings for board merged with the file
// defaults, or the zero BoardConfig when no file was loaded.
func (c *Config) BoardConfig(board string) BoardConfig {
	if c.BoardConfigs == nil {
		return BoardConfig{}
	}
	return c.BoardConfigs.GetBoardConfig(board)
}

// PageSettings returns the page ceiling and the delay used for board.
func (c *Config) PageSettings(board string) (int, time.Duration) {
	bc := c.BoardConfig(board)

	maxPages := c.MaxPages
	if bc.MaxPages > 0 && !c.MaxPagesExplicit {
		maxPages = bc.MaxPages
	}
	delay := c.Delay
	if bc.Delay != nil && !c.DelayExplicit {
		delay = *bc.Delay
	}
	return maxPages, delay
}

// UserAgentFor returns the User-Agent for board, or "" for the fetcher
// default. A --user-agent flag wins over the config file.
func (c *Config) UserAgentFor(board string) string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return c.BoardConfig(board).UserAgent
}

// isBoardURL reports whether s is an absolute http(s) URL.
func isBoardURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
