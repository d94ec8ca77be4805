package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service coordinates scrape jobs: admission and validation, the worker
// pools for the discovery and ingest queues, and the read API behind the
// HTTP handlers. All crawl state lives in the store and the queues; the
// service keeps no per-job state in memory, so concurrent workers and
// process restarts pick up exactly where the queues left off.
type Service struct {
	jobStorage     interfaces.JobStorage
	dedupStorage   interfaces.DedupStorage
	docStorage     interfaces.DocumentStorage
	discoveryQueue interfaces.QueueManager
	ingestQueue    interfaces.QueueManager
	events         interfaces.EventService
	fetchers       interfaces.FetcherFactory
	indexer        interfaces.Indexer
	processor      *ContentProcessor
	extractor      *LinkExtractor
	gate           *HostGate
	retry          *RetryPolicy
	config         *common.Config
	logger         arbor.ILogger
	validate       *validator.Validate

	pollInterval time.Duration
	extendBy     time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// ScrapeRequest is the input to StartScrape. DefinitionID is set when a
// scheduled definition starts the job, empty for API-started jobs.
type ScrapeRequest struct {
	BaseURL      string               `json:"url"`
	Config       *ScrapeConfigRequest `json:"config,omitempty"`
	DefinitionID string               `json:"-"`
}

// ScrapeConfigRequest mirrors models.ScrapeConfig at the request boundary.
// MaxDepth is a pointer because its zero value is meaningful: an explicit 0
// requests a seed-only crawl, while an absent field takes the server default.
type ScrapeConfigRequest struct {
	MaxPages        int                `json:"max_pages,omitempty"`
	MaxDepth        *int               `json:"max_depth,omitempty"`
	Scope           models.ScrapeScope `json:"scope,omitempty"`
	IncludePatterns []string           `json:"include_patterns,omitempty"`
	ExcludePatterns []string           `json:"exclude_patterns,omitempty"`
	FetchMode       models.FetchMode   `json:"fetch_mode,omitempty"`
	Cookies         string             `json:"cookies,omitempty"`
	ForceRescrape   bool               `json:"force_rescrape,omitempty"`
}

// configRequestFrom turns a stored config snapshot back into a request,
// preserving the job's resolved max_depth.
func configRequestFrom(cfg models.ScrapeConfig) *ScrapeConfigRequest {
	depth := cfg.MaxDepth
	return &ScrapeConfigRequest{
		MaxPages:        cfg.MaxPages,
		MaxDepth:        &depth,
		Scope:           cfg.Scope,
		IncludePatterns: cfg.IncludePatterns,
		ExcludePatterns: cfg.ExcludePatterns,
		FetchMode:       cfg.FetchMode,
		Cookies:         cfg.Cookies,
		ForceRescrape:   cfg.ForceRescrape,
	}
}

// CheckResult reports whether a URL is scrapeable without creating a job
type CheckResult struct {
	URL           string `json:"url"`
	NormalizedURL string `json:"normalized_url"`
	Reachable     bool   `json:"reachable"`
	StatusCode    int    `json:"status_code,omitempty"`
	Title         string `json:"title,omitempty"`
	LinksFound    int    `json:"links_found"`
	RobotsAllowed bool   `json:"robots_allowed"`
	Rendered      bool   `json:"rendered,omitempty"`
	Error         string `json:"error,omitempty"`
}

// NewService creates the scrape coordinator
func NewService(
	storage interfaces.StorageManager,
	discoveryQueue interfaces.QueueManager,
	ingestQueue interfaces.QueueManager,
	events interfaces.EventService,
	fetchers interfaces.FetcherFactory,
	indexer interfaces.Indexer,
	config *common.Config,
	logger arbor.ILogger,
) *Service {
	return &Service{
		jobStorage:     storage.JobStorage(),
		dedupStorage:   storage.DedupStorage(),
		docStorage:     storage.DocumentStorage(),
		discoveryQueue: discoveryQueue,
		ingestQueue:    ingestQueue,
		events:         events,
		fetchers:       fetchers,
		indexer:        indexer,
		processor:      NewContentProcessor(logger),
		extractor:      NewLinkExtractor(logger),
		gate:           NewHostGate(&config.Scraper, logger),
		retry:          NewRetryPolicy(&config.Scraper),
		config:         config,
		logger:         logger,
		validate:       validator.New(),
		pollInterval:   parseDurationOr(config.Queue.PollInterval, time.Second),
		extendBy:       config.Scraper.RequestTimeout + config.Scraper.BrowserWaitTime + 30*time.Second,
	}
}

// Start launches the discovery and ingest worker pools
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scraper service already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	discoveryWorkers := s.config.Queue.DiscoveryWorkers
	if discoveryWorkers < 1 {
		discoveryWorkers = 4
	}
	ingestWorkers := s.config.Queue.IngestWorkers
	if ingestWorkers < 1 {
		ingestWorkers = 2
	}

	for i := 0; i < discoveryWorkers; i++ {
		s.wg.Add(1)
		go s.discoveryLoop(i)
	}
	for i := 0; i < ingestWorkers; i++ {
		s.wg.Add(1)
		go s.ingestLoop(i)
	}

	s.started = true
	s.logger.Info().
		Int("discovery_workers", discoveryWorkers).
		Int("ingest_workers", ingestWorkers).
		Dur("poll_interval", s.pollInterval).
		Msg("Scraper service started")
	return nil
}

// Stop drains the workers and shuts down the fetchers. In-flight tasks
// that cannot finish return to their queues via the visibility timeout.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	err := s.fetchers.Close()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	s.logger.Info().Msg("Scraper service stopped")
	return err
}

// StartScrape validates the request, creates the job, and admits the
// seed URL. The seed's frontier task is enqueued in the same store
// transaction that moves the job to discovering, so a started job always
// has work in the queue.
func (s *Service) StartScrape(ctx context.Context, req *ScrapeRequest) (*models.ScrapeJob, error) {
	if req == nil {
		return nil, common.NewValidationError("url", "request body is required")
	}

	normalized, err := s.validateScrapeURL(req.BaseURL)
	if err != nil {
		return nil, err
	}

	config := s.applyConfigDefaults(req.Config)
	if err := s.validate.Struct(config); err != nil {
		return nil, common.NewValidationError("config", err.Error())
	}
	if err := validatePatterns(config); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.ScrapeJob{
		ID:           common.NewJobID(),
		BaseURL:      normalized,
		Status:       models.JobStatusPending,
		Config:       *config,
		DefinitionID: req.DefinitionID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.jobStorage.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.events.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobCreated,
		Payload: models.ProgressFromJob(job),
	})

	seedMsg, err := models.NewFrontierMessage(&models.FrontierTask{
		JobID: job.ID,
		URL:   normalized,
		Depth: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build seed task: %w", err)
	}

	started, err := s.jobStorage.StartJob(ctx, job.ID, normalized, func(txn *badgerdb.Txn) error {
		return s.discoveryQueue.EnqueueTxn(txn, seedMsg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start job: %w", err)
	}

	s.logger.Info().
		Str("job_id", started.ID).
		Str("base_url", started.BaseURL).
		Str("scope", string(started.Config.Scope)).
		Str("fetch_mode", string(started.Config.FetchMode)).
		Int("max_depth", started.Config.MaxDepth).
		Int("max_pages", started.Config.MaxPages).
		Msg("Scrape job started")

	s.publishJobProgress(job, started)
	return started, nil
}

// CancelScrape moves a job to cancelled. Already-terminal jobs come back
// unchanged; queued tasks for the job drain without fetching.
func (s *Service) CancelScrape(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	pre, err := s.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job, err := s.jobStorage.CancelJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !pre.Status.IsTerminal() {
		s.logger.Info().
			Str("job_id", jobID).
			Str("previous_status", string(pre.Status)).
			Msg("Scrape job cancelled")
	}
	s.publishJobProgress(pre, job)
	return job, nil
}

// GetScrapeJob returns the job and its page records
func (s *Service) GetScrapeJob(ctx context.Context, jobID string) (*models.ScrapeJob, []*models.ScrapePage, error) {
	job, err := s.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	pages, err := s.jobStorage.GetPages(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, pages, nil
}

// ListScrapeJobs returns jobs newest-first with cursor pagination
func (s *Service) ListScrapeJobs(ctx context.Context, limit int, cursor string) ([]*models.ScrapeJob, string, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.jobStorage.ListJobs(ctx, limit, cursor)
}

// RerunScrape starts a fresh job against the same base URL as a prior
// job. A nil override reuses the prior job's config snapshot; a non-nil
// override replaces it wholesale.
func (s *Service) RerunScrape(ctx context.Context, jobID string, override *ScrapeConfigRequest) (*models.ScrapeJob, error) {
	prior, err := s.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	config := configRequestFrom(prior.Config)
	if override != nil {
		config = override
	}

	job, err := s.StartScrape(ctx, &ScrapeRequest{
		BaseURL:      prior.BaseURL,
		Config:       config,
		DefinitionID: prior.DefinitionID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("prior_job_id", prior.ID).
		Msg("Scrape job rerun")
	return job, nil
}

// URLStatus reports prior-crawl state for a URL, read from the dedup
// index without any network traffic
type URLStatus struct {
	URL           string     `json:"url"`
	NormalizedURL string     `json:"normalized_url"`
	Exists        bool       `json:"exists"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	JobID         string     `json:"job_id,omitempty"`
	Title         string     `json:"title,omitempty"`
	ContentRef    string     `json:"content_ref,omitempty"`
}

// CheckScrapeURL looks a URL up in the dedup index: whether it was ever
// scraped, when, by which job, and under what title. Read-only.
func (s *Service) CheckScrapeURL(ctx context.Context, rawURL string) (*URLStatus, error) {
	normalized, err := s.validateScrapeURL(rawURL)
	if err != nil {
		return nil, err
	}

	status := &URLStatus{
		URL:           rawURL,
		NormalizedURL: normalized,
	}

	entry, err := s.dedupStorage.Get(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if entry != nil {
		scrapedAt := entry.ScrapedAt
		status.Exists = true
		status.LastScrapedAt = &scrapedAt
		status.JobID = entry.JobID
		status.Title = entry.Title
		status.ContentRef = entry.ContentRef
	}
	return status, nil
}

// CheckURL probes a URL without creating a job: fetches it once, reports
// status, title, link count, and the robots verdict
func (s *Service) CheckURL(ctx context.Context, rawURL string, mode models.FetchMode) (*CheckResult, error) {
	normalized, err := s.validateScrapeURL(rawURL)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{
		URL:           rawURL,
		NormalizedURL: normalized,
		RobotsAllowed: s.gate.Allowed(ctx, normalized),
	}

	if mode == "" {
		mode = s.defaultFetchMode()
	}

	fetched, err := s.fetchers.ForMode(mode).Fetch(ctx, normalized, nil)
	if err != nil {
		result.Error = err.Error()
		var statusErr *common.HTTPStatusError
		if errors.As(err, &statusErr) {
			result.StatusCode = statusErr.StatusCode
		}
		return result, nil
	}

	result.Reachable = true
	result.StatusCode = fetched.StatusCode
	result.Rendered = fetched.Rendered

	baseForLinks := fetched.FinalURL
	if baseForLinks == "" {
		baseForLinks = normalized
	}
	if processed, err := s.processor.Process(fetched.HTML, baseForLinks); err == nil {
		result.Title = processed.Title
	}
	if links, err := s.extractor.ExtractLinks(fetched.HTML, baseForLinks); err == nil {
		result.LinksFound = len(links)
	}

	return result, nil
}

// validateScrapeURL normalizes and vets a requested base URL
func (s *Service) validateScrapeURL(rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", common.NewValidationError("url", "url is required")
	}
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", common.NewValidationError("url", err.Error())
	}
	if !s.config.AllowTestURLs() && isTestURL(normalized) {
		return "", common.NewValidationError("url", "test URLs are not allowed in production")
	}
	return normalized, nil
}

// applyConfigDefaults resolves a request config into the job's config
// snapshot. Unset fields take the server defaults; an explicit max_depth
// of 0 is kept as-is and means a seed-only crawl.
func (s *Service) applyConfigDefaults(req *ScrapeConfigRequest) *models.ScrapeConfig {
	if req == nil {
		req = &ScrapeConfigRequest{}
	}

	config := models.ScrapeConfig{
		MaxPages:        req.MaxPages,
		MaxDepth:        s.config.Scraper.DefaultMaxDepth,
		Scope:           req.Scope,
		IncludePatterns: req.IncludePatterns,
		ExcludePatterns: req.ExcludePatterns,
		FetchMode:       req.FetchMode,
		Cookies:         req.Cookies,
		ForceRescrape:   req.ForceRescrape,
	}
	if req.MaxDepth != nil {
		config.MaxDepth = *req.MaxDepth
	}
	if config.MaxPages <= 0 {
		config.MaxPages = s.config.Scraper.DefaultMaxPages
	}
	if config.Scope == "" {
		config.Scope = models.ScopeSubpages
	}
	if config.FetchMode == "" {
		config.FetchMode = s.defaultFetchMode()
	}
	return &config
}

func (s *Service) defaultFetchMode() models.FetchMode {
	switch models.FetchMode(s.config.Scraper.DefaultStrategy) {
	case models.FetchModeFast:
		return models.FetchModeFast
	case models.FetchModeFull:
		return models.FetchModeFull
	default:
		return models.FetchModeAuto
	}
}

// validatePatterns compiles the include/exclude patterns so a bad regex
// fails the request instead of silently weakening the crawl's filters
func validatePatterns(config *models.ScrapeConfig) error {
	for _, pattern := range config.IncludePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return common.NewValidationError("include_patterns", fmt.Sprintf("invalid pattern %q: %v", pattern, err))
		}
	}
	for _, pattern := range config.ExcludePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return common.NewValidationError("exclude_patterns", fmt.Sprintf("invalid pattern %q: %v", pattern, err))
		}
	}
	return nil
}

// publishJobProgress emits a progress event for the post-mutation job
// state, plus a completion event when this mutation took the job from a
// running state to a terminal one
func (s *Service) publishJobProgress(pre, post *models.ScrapeJob) {
	if post == nil {
		return
	}

	s.events.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventScrapeProgress,
		Payload: models.ProgressFromJob(post),
	})

	if pre != nil && !pre.Status.IsTerminal() && post.Status.IsTerminal() {
		s.events.Publish(context.Background(), interfaces.Event{
			Type:    interfaces.EventJobCompleted,
			Payload: models.ProgressFromJob(post),
		})
		s.logger.Info().
			Str("job_id", post.ID).
			Str("status", string(post.Status)).
			Int("total_urls", post.TotalURLs).
			Int("processed", post.ProcessedCount).
			Int("failed", post.FailedCount).
			Msg("Scrape job reached terminal state")
	}
}

func isTestURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		host == "0.0.0.0" ||
		strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".test")
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
