package models

// ScrapeDefinition is a user-authored scrape loaded from a YAML file in
// the definitions directory. Definitions with a schedule run on cron;
// the rest run on demand via the rerun endpoint.
//
// MaxDepth is a pointer so an explicit `max_depth: 0` (seed-only crawl)
// survives YAML decoding; an absent key takes the server default.
type ScrapeDefinition struct {
	ID              string   `yaml:"id"`       // Defaults to the file name without extension
	Name            string   `yaml:"name"`     // Display name
	Schedule        string   `yaml:"schedule"` // Cron expression, empty = manual only
	Enabled         bool     `yaml:"enabled"`
	URL             string   `yaml:"url"` // Seed URL
	MaxPages        int      `yaml:"max_pages"`
	MaxDepth        *int     `yaml:"max_depth"`
	Scope           string   `yaml:"scope"`
	FetchMode       string   `yaml:"fetch_mode"`
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	Cookies         string   `yaml:"cookies"`
	ForceRescrape   bool     `yaml:"force_rescrape"`
}
