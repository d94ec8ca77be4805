package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment     string            `toml:"environment"`       // "development" or "production" - controls test URL validation
	DeleteOnStartup []string          `toml:"delete_on_startup"` // Delete data categories on startup. Valid values: jobs, queue, documents, dedup (default: empty = delete nothing)
	Server          ServerConfig      `toml:"server"`
	Queue           QueueConfig       `toml:"queue"`
	Storage         StorageConfig     `toml:"storage"`
	Scraper         ScraperConfig     `toml:"scraper"`
	Indexer         IndexerConfig     `toml:"indexer"`
	Definitions     DefinitionsConfig `toml:"definitions"`
	Scheduler       SchedulerConfig   `toml:"scheduler"`
	Logging         LoggingConfig     `toml:"logging"`
	WebSocket       WebSocketConfig   `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval       string `toml:"poll_interval"`       // e.g., "1s" - how often workers poll for tasks
	DiscoveryWorkers   int    `toml:"discovery_workers"`   // Number of concurrent frontier workers
	IngestWorkers      int    `toml:"ingest_workers"`      // Number of concurrent ingest workers
	VisibilityTimeout  string `toml:"visibility_timeout"`  // e.g., "5m" - task visibility timeout for redelivery
	MaxReceive         int    `toml:"max_receive"`         // Max times a task can be received before dead-letter
	DiscoveryQueueName string `toml:"discovery_queue_name"` // Frontier queue name prefix in Badger
	IngestQueueName    string `toml:"ingest_queue_name"`    // Ingest queue name prefix in Badger
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string  `toml:"path"`             // Database directory path
	ResetOnStartup bool    `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	GCInterval     string  `toml:"gc_interval"`      // Value log garbage collection interval (e.g., "5m")
	GCDiscardRatio float64 `toml:"gc_discard_ratio"` // Value log GC discard ratio (0..1)
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs (default: "15:04:05.000")
	MinEventLevel string   `toml:"min_event_level"` // Minimum log level to publish as events ("debug", "info", "warn", "error")
}

// ScraperConfig contains page fetching and content extraction configuration
type ScraperConfig struct {
	UserAgent           string        `toml:"user_agent"`            // Default user agent string
	UserAgentRotation   bool          `toml:"user_agent_rotation"`   // Enable random user agent rotation
	DefaultStrategy     string        `toml:"default_strategy"`      // Fetch strategy when a job does not set one: "fast", "full", or "auto"
	RequestTimeout      time.Duration `toml:"request_timeout"`       // HTTP request timeout
	RequestDelay        time.Duration `toml:"request_delay"`         // Minimum delay between requests to same host
	RandomDelay         time.Duration `toml:"random_delay"`          // Random delay jitter to add
	MaxBodySize         int           `toml:"max_body_size"`         // Maximum response body size in bytes
	PerHostRPS          float64       `toml:"per_host_rps"`          // Requests per second per host
	PerHostBurst        int           `toml:"per_host_burst"`        // Burst allowance per host
	FollowRobotsTxt     bool          `toml:"follow_robots_txt"`     // Respect robots.txt rules
	AllowedContentTypes []string      `toml:"allowed_content_types"` // Whitelist of allowed content types
	BrowserPoolSize     int           `toml:"browser_pool_size"`     // Number of pooled headless browser contexts
	BrowserWaitTime     time.Duration `toml:"browser_wait_time"`     // Time to wait for JavaScript to render
	MaxRetries          int           `toml:"max_retries"`           // Retry attempts for network-level fetch failures
	RetryBackoff        time.Duration `toml:"retry_backoff"`         // Initial retry backoff
	RetryMaxBackoff     time.Duration `toml:"retry_max_backoff"`     // Backoff ceiling
	AutoPromoteMinBytes int           `toml:"auto_promote_min_bytes"` // Auto strategy: bodies smaller than this are candidates for browser rendering
	DefaultMaxDepth     int           `toml:"default_max_depth"`     // Max depth when a scrape definition omits one
	DefaultMaxPages     int           `toml:"default_max_pages"`     // Max pages when a scrape definition omits one
}

// IndexerConfig contains configuration for the downstream indexing handoff
type IndexerConfig struct {
	Timeout      string `toml:"timeout"`       // Per-call timeout as duration string (default: "30s")
	MaxRetries   int    `toml:"max_retries"`   // Retry attempts before a page is marked failed
	RetryBackoff string `toml:"retry_backoff"` // Initial backoff between retries (default: "500ms")
}

// DefinitionsConfig contains configuration for scheduled scrape definitions
type DefinitionsConfig struct {
	Dir string `toml:"dir"` // Directory containing scrape definition files (YAML)
}

// SchedulerConfig contains configuration for cron scheduling and stale job recovery
type SchedulerConfig struct {
	Enabled            bool   `toml:"enabled"`              // Enable cron-driven scrape definitions
	StaleCheckInterval string `toml:"stale_check_interval"` // How often to sweep for stalled jobs (e.g., "1m")
	StaleTimeout       string `toml:"stale_timeout"`        // Running jobs without progress for this long are failed (e.g., "30m")
}

// WebSocketConfig contains configuration for progress event streaming
type WebSocketConfig struct {
	MinLevel        string   `toml:"min_level"`        // Minimum log level to broadcast ("debug", "info", "warn", "error")
	ExcludePatterns []string `toml:"exclude_patterns"` // Log message patterns to exclude from broadcasting
	// Whitelist of event types to broadcast via WebSocket. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in colligo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode - allows test URLs
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:       "1s",
			DiscoveryWorkers:   4,
			IngestWorkers:      4,
			VisibilityTimeout:  "5m",
			MaxReceive:         3,
			DiscoveryQueueName: "colligo_frontier",
			IngestQueueName:    "colligo_ingest",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data",
				GCInterval:     "5m",
				GCDiscardRatio: 0.5,
			},
		},
		Scraper: ScraperConfig{
			UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			UserAgentRotation:   true,
			DefaultStrategy:     "auto",
			RequestTimeout:      30 * time.Second,
			RequestDelay:        1 * time.Second,
			RandomDelay:         500 * time.Millisecond,
			MaxBodySize:         10 * 1024 * 1024, // 10MB
			PerHostRPS:          2,
			PerHostBurst:        4,
			FollowRobotsTxt:     true,
			AllowedContentTypes: []string{"text/html", "application/xhtml+xml"},
			BrowserPoolSize:     2,
			BrowserWaitTime:     3 * time.Second,
			MaxRetries:          3,
			RetryBackoff:        1 * time.Second,
			RetryMaxBackoff:     30 * time.Second,
			AutoPromoteMinBytes: 2048, // Below this, script-heavy pages are re-fetched with the browser
			DefaultMaxDepth:     2,
			DefaultMaxPages:     100,
		},
		Indexer: IndexerConfig{
			Timeout:      "30s",
			MaxRetries:   3,
			RetryBackoff: "500ms",
		},
		Definitions: DefinitionsConfig{
			Dir: "./scrape-definitions",
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			StaleCheckInterval: "1m",
			StaleTimeout:       "30m",
		},
		Logging: LoggingConfig{
			Level:         "info",                     // Info level for production (debug|info|warn|error)
			Format:        "text",                     // Human-readable text format (text|json)
			Output:        []string{"stdout", "file"}, // Log to both console and file
			MinEventLevel: "info",                     // Publish info and above as events (debug logs only to console/file)
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info",
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
			},
			// Empty AllowedEvents allows all events
			AllowedEvents: []string{},
			// Throttle high-frequency events to prevent WebSocket flooding during large scrapes
			ThrottleIntervals: map[string]string{
				"scrape_progress": "1s", // Max 1 progress update per second per job
			},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// Priority system: CLI flags > Environment variables > Config file > Defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: COLLIGO_ENV, fallback: GO_ENV)
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("COLLIGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COLLIGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("COLLIGO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if workers := os.Getenv("COLLIGO_QUEUE_DISCOVERY_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Queue.DiscoveryWorkers = w
		}
	}
	if workers := os.Getenv("COLLIGO_QUEUE_INGEST_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Queue.IngestWorkers = w
		}
	}
	if visibilityTimeout := os.Getenv("COLLIGO_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("COLLIGO_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("COLLIGO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("COLLIGO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if minEventLevel := os.Getenv("COLLIGO_LOG_MIN_EVENT_LEVEL"); minEventLevel != "" {
		config.Logging.MinEventLevel = minEventLevel
	}

	// Scraper configuration
	if userAgent := os.Getenv("COLLIGO_SCRAPER_USER_AGENT"); userAgent != "" {
		config.Scraper.UserAgent = userAgent
	}
	if userAgentRotation := os.Getenv("COLLIGO_SCRAPER_USER_AGENT_ROTATION"); userAgentRotation != "" {
		if uar, err := strconv.ParseBool(userAgentRotation); err == nil {
			config.Scraper.UserAgentRotation = uar
		}
	}
	if strategy := os.Getenv("COLLIGO_SCRAPER_DEFAULT_STRATEGY"); strategy != "" {
		config.Scraper.DefaultStrategy = strategy
	}
	if requestTimeout := os.Getenv("COLLIGO_SCRAPER_REQUEST_TIMEOUT"); requestTimeout != "" {
		if rt, err := time.ParseDuration(requestTimeout); err == nil {
			config.Scraper.RequestTimeout = rt
		}
	}
	if requestDelay := os.Getenv("COLLIGO_SCRAPER_REQUEST_DELAY"); requestDelay != "" {
		if rd, err := time.ParseDuration(requestDelay); err == nil {
			config.Scraper.RequestDelay = rd
		}
	}
	if randomDelay := os.Getenv("COLLIGO_SCRAPER_RANDOM_DELAY"); randomDelay != "" {
		if rd, err := time.ParseDuration(randomDelay); err == nil {
			config.Scraper.RandomDelay = rd
		}
	}
	if maxBodySize := os.Getenv("COLLIGO_SCRAPER_MAX_BODY_SIZE"); maxBodySize != "" {
		if mbs, err := strconv.Atoi(maxBodySize); err == nil {
			config.Scraper.MaxBodySize = mbs
		}
	}
	if followRobotsTxt := os.Getenv("COLLIGO_SCRAPER_FOLLOW_ROBOTS_TXT"); followRobotsTxt != "" {
		if frt, err := strconv.ParseBool(followRobotsTxt); err == nil {
			config.Scraper.FollowRobotsTxt = frt
		}
	}
	if poolSize := os.Getenv("COLLIGO_SCRAPER_BROWSER_POOL_SIZE"); poolSize != "" {
		if ps, err := strconv.Atoi(poolSize); err == nil {
			config.Scraper.BrowserPoolSize = ps
		}
	}
	if waitTime := os.Getenv("COLLIGO_SCRAPER_BROWSER_WAIT_TIME"); waitTime != "" {
		if wt, err := time.ParseDuration(waitTime); err == nil {
			config.Scraper.BrowserWaitTime = wt
		}
	}
	if maxRetries := os.Getenv("COLLIGO_SCRAPER_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Scraper.MaxRetries = mr
		}
	}

	// Indexer configuration
	if timeout := os.Getenv("COLLIGO_INDEXER_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.Indexer.Timeout = timeout
		}
	}
	if maxRetries := os.Getenv("COLLIGO_INDEXER_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Indexer.MaxRetries = mr
		}
	}

	// Definitions configuration
	if definitionsDir := os.Getenv("COLLIGO_DEFINITIONS_DIR"); definitionsDir != "" {
		config.Definitions.Dir = definitionsDir
	}

	// Scheduler configuration
	if enabled := os.Getenv("COLLIGO_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if staleTimeout := os.Getenv("COLLIGO_SCHEDULER_STALE_TIMEOUT"); staleTimeout != "" {
		if _, err := time.ParseDuration(staleTimeout); err == nil {
			config.Scheduler.StaleTimeout = staleTimeout
		}
	}

	// WebSocket configuration
	if minLevel := os.Getenv("COLLIGO_WEBSOCKET_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}
	if excludePatterns := os.Getenv("COLLIGO_WEBSOCKET_EXCLUDE_PATTERNS"); excludePatterns != "" {
		// Split comma-separated patterns
		patterns := []string{}
		for _, p := range splitString(excludePatterns, ",") {
			trimmed := trimSpace(p)
			if trimmed != "" {
				patterns = append(patterns, trimmed)
			}
		}
		if len(patterns) > 0 {
			config.WebSocket.ExcludePatterns = patterns
		}
	}
	if allowedEvents := os.Getenv("COLLIGO_WEBSOCKET_ALLOWED_EVENTS"); allowedEvents != "" {
		// Split comma-separated event types
		events := []string{}
		for _, e := range splitString(allowedEvents, ",") {
			trimmed := trimSpace(e)
			if trimmed != "" {
				events = append(events, trimmed)
			}
		}
		if len(events) > 0 {
			config.WebSocket.AllowedEvents = events
		}
	}
	if progressThrottle := os.Getenv("COLLIGO_WEBSOCKET_THROTTLE_SCRAPE_PROGRESS"); progressThrottle != "" {
		// Parse duration string (e.g., "2s", "1500ms")
		if _, err := time.ParseDuration(progressThrottle); err == nil {
			if config.WebSocket.ThrottleIntervals == nil {
				config.WebSocket.ThrottleIntervals = make(map[string]string)
			}
			config.WebSocket.ThrottleIntervals["scrape_progress"] = progressThrottle
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Helper functions for string manipulation
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// ValidateSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateSchedule(schedule string) error {
	// Parse the cron expression
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	// Check for minimum 5-minute interval
	// Validate minute field (first field in standard cron)
	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	// Check for patterns that violate 5-minute minimum
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	// Check for */n patterns where n < 5
	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are allowed
// Test URLs are only allowed in development mode
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}

// DeepCloneConfig creates a deep copy of the Config struct
// This is used by ConfigService to prevent mutations of the original config
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	// Clone the config struct (shallow copy first)
	clone := *c

	// Deep clone slice fields to prevent shared memory
	if len(c.DeleteOnStartup) > 0 {
		clone.DeleteOnStartup = make([]string, len(c.DeleteOnStartup))
		copy(clone.DeleteOnStartup, c.DeleteOnStartup)
	}

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	if len(c.Scraper.AllowedContentTypes) > 0 {
		clone.Scraper.AllowedContentTypes = make([]string, len(c.Scraper.AllowedContentTypes))
		copy(clone.Scraper.AllowedContentTypes, c.Scraper.AllowedContentTypes)
	}

	if len(c.WebSocket.ExcludePatterns) > 0 {
		clone.WebSocket.ExcludePatterns = make([]string, len(c.WebSocket.ExcludePatterns))
		copy(clone.WebSocket.ExcludePatterns, c.WebSocket.ExcludePatterns)
	}

	if len(c.WebSocket.AllowedEvents) > 0 {
		clone.WebSocket.AllowedEvents = make([]string, len(c.WebSocket.AllowedEvents))
		copy(clone.WebSocket.AllowedEvents, c.WebSocket.AllowedEvents)
	}

	if len(c.WebSocket.ThrottleIntervals) > 0 {
		clone.WebSocket.ThrottleIntervals = make(map[string]string, len(c.WebSocket.ThrottleIntervals))
		for k, v := range c.WebSocket.ThrottleIntervals {
			clone.WebSocket.ThrottleIntervals[k] = v
		}
	}

	return &clone
}
