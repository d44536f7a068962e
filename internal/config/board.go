package config

import (
	"maps"
	"net/url"
	"strings"
	"time"
)

// BoardConfig holds board-specific settings from the config file.
// Zero values mean "not set". Delay is a pointer so that "delay: 0s" can
// turn the pause off.
type BoardConfig struct {
	// Cookie is sent with every request to the board.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra HTTP headers sent with every request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// UserAgent overrides the User-Agent header.
	UserAgent string `yaml:"userAgent,omitempty"`

	// MaxPages overrides the page ceiling.
	MaxPages int `yaml:"maxPages,omitempty"`

	// Delay overrides the pause between page fetches ("2s", "500ms", "0s").
	Delay *time.Duration `yaml:"delay,omitempty"`

	// ImageHost is the host substring identifying post images.
	ImageHost string `yaml:"imageHost,omitempty"`

	// NextLabel is the link text of the next-page link.
	NextLabel string `yaml:"nextLabel,omitempty"`

	// CursorParam is the query fragment carried by next-page links.
	CursorParam string `yaml:"cursorParam,omitempty"`
}

// File represents the structure of the .postcrawl configuration file.
type File struct {
	// Boards maps board URLs or hosts to their settings. A key may be a
	// full board URL ("https://example.itch.io/game") or a bare host
	// ("example.itch.io") applying to every board on it.
	Boards map[string]BoardConfig `yaml:"boards,omitempty"`

	// Defaults apply to all boards unless overridden.
	Defaults BoardConfig `yaml:"defaults,omitempty"`
}

// GetBoardConfig returns the configuration for board. Defaults are
// overridden by the host entry, which is overridden by the exact URL entry.
func (cf *File) GetBoardConfig(board string) BoardConfig {
	result := cf.Defaults
	result.Headers = maps.Clone(cf.Defaults.Headers)

	if host := boardHost(board); host != "" {
		if hostConfig, ok := cf.Boards[host]; ok {
			result = merge(result, hostConfig)
		}
	}

	exact := strings.TrimRight(board, "/")
	for key, boardConfig := range cf.Boards {
		if strings.Contains(key, "://") && strings.TrimRight(key, "/") == exact {
			result = merge(result, boardConfig)
			break
		}
	}

	return result
}

// merge overlays the set fields of override onto base.
func merge(base, override BoardConfig) BoardConfig {
	if override.Cookie != "" {
		base.Cookie = override.Cookie
	}
	if override.UserAgent != "" {
		base.UserAgent = override.UserAgent
	}
	if override.MaxPages != 0 {
		base.MaxPages = override.MaxPages
	}
	if override.Delay != nil {
		d := *override.Delay
		base.Delay = &d
	}
	if override.ImageHost != "" {
		base.ImageHost = override.ImageHost
	}
	if override.NextLabel != "" {
		base.NextLabel = override.NextLabel
	}
	if override.CursorParam != "" {
		base.CursorParam = override.CursorParam
	}
	if len(override.Headers) > 0 {
		if base.Headers == nil {
			base.Headers = make(map[string]string, len(override.Headers))
		}
		maps.Copy(base.Headers, override.Headers)
	}
	return base
}

func boardHost(board string) string {
	u, err := url.Parse(board)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
