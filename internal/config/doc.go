// Package config holds the run configuration of postcrawl: crawl limits,
// fetch settings and output options from CLI flags, plus per-board
// overrides from an optional .postcrawl YAML file.
package config
