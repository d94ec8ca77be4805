// -----------------------------------------------------------------------
// Last Modified: Wednesday, 19th August 2026 4:32:17 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/scraper"
)

// ScrapeStarter starts crawls on behalf of scheduled definitions
type ScrapeStarter interface {
	StartScrape(ctx context.Context, req *scraper.ScrapeRequest) (*models.ScrapeJob, error)
}

// Service owns the cron runner: scheduled scrape definitions, the stale
// job sweep, and Badger value-log garbage collection all hang off it.
type Service struct {
	config  *common.Config
	starter ScrapeStarter
	storage interfaces.StorageManager
	logger  arbor.ILogger

	cron *cron.Cron

	mu          sync.RWMutex
	definitions map[string]*models.ScrapeDefinition
	started     bool
}

// NewService loads definitions from the configured directory and prepares
// the cron runner. Invalid definition files are logged and skipped so one
// bad file never blocks startup.
func NewService(config *common.Config, starter ScrapeStarter, storage interfaces.StorageManager, logger arbor.ILogger) (*Service, error) {
	s := &Service{
		config:      config,
		starter:     starter,
		storage:     storage,
		logger:      logger,
		cron:        cron.New(),
		definitions: make(map[string]*models.ScrapeDefinition),
	}

	if err := s.loadDefinitions(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadDefinitions reads every .yaml/.yml file in the definitions
// directory. A missing directory is not an error, it just means no
// definitions are configured.
func (s *Service) loadDefinitions() error {
	dir := s.config.Definitions.Dir
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug().Str("dir", dir).Msg("Definitions directory not found, skipping")
			return nil
		}
		return fmt.Errorf("failed to read definitions directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		def, err := s.loadDefinitionFile(path)
		if err != nil {
			s.logger.Warn().Str("file", path).Err(err).Msg("Skipping invalid scrape definition")
			continue
		}

		if _, exists := s.definitions[def.ID]; exists {
			s.logger.Warn().Str("id", def.ID).Str("file", path).Msg("Duplicate definition id, keeping first")
			continue
		}

		s.definitions[def.ID] = def
		s.logger.Info().
			Str("id", def.ID).
			Str("url", def.URL).
			Str("schedule", def.Schedule).
			Bool("enabled", def.Enabled).
			Msg("Loaded scrape definition")
	}

	return nil
}

func (s *Service) loadDefinitionFile(path string) (*models.ScrapeDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var def models.ScrapeDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("yaml parse failed: %w", err)
	}

	if def.ID == "" {
		base := filepath.Base(path)
		def.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if def.URL == "" {
		return nil, fmt.Errorf("definition %s has no url", def.ID)
	}
	if def.Schedule != "" {
		if err := common.ValidateSchedule(def.Schedule); err != nil {
			return nil, fmt.Errorf("definition %s: %w", def.ID, err)
		}
	}

	return &def, nil
}

// Start registers cron entries and begins the scheduler loop
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.config.Scheduler.Enabled {
		for _, def := range s.definitions {
			if !def.Enabled || def.Schedule == "" {
				continue
			}
			def := def
			if _, err := s.cron.AddFunc(def.Schedule, func() { s.runDefinition(def) }); err != nil {
				s.logger.Error().Str("id", def.ID).Err(err).Msg("Failed to schedule definition")
			}
		}
	}

	if interval := s.config.Scheduler.StaleCheckInterval; interval != "" {
		if _, err := s.cron.AddFunc("@every "+interval, s.sweepStaleJobs); err != nil {
			return fmt.Errorf("failed to schedule stale job sweep: %w", err)
		}
	}

	if interval := s.config.Storage.Badger.GCInterval; interval != "" {
		if _, err := s.cron.AddFunc("@every "+interval, s.runValueLogGC); err != nil {
			return fmt.Errorf("failed to schedule value log GC: %w", err)
		}
	}

	s.cron.Start()
	s.started = true

	s.logger.Info().
		Int("definitions", len(s.definitions)).
		Bool("scheduling", s.config.Scheduler.Enabled).
		Msg("Scheduler started")
	return nil
}

// Stop halts the cron runner and waits for in-flight entries to finish
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.started = false
	s.logger.Info().Msg("Scheduler stopped")
}

// Definitions returns the loaded definitions sorted by id
func (s *Service) Definitions() []*models.ScrapeDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*models.ScrapeDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// GetDefinition returns one definition by id
func (s *Service) GetDefinition(id string) (*models.ScrapeDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[id]
	return def, ok
}

// RunDefinition starts a scrape for a definition on demand, ignoring its
// enabled flag and schedule. Used by the manual run endpoint.
func (s *Service) RunDefinition(ctx context.Context, id string) (*models.ScrapeJob, error) {
	s.mu.RLock()
	def, ok := s.definitions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, common.NewValidationError("id", fmt.Sprintf("unknown scrape definition: %s", id))
	}
	return s.startFromDefinition(ctx, def)
}

// runDefinition is the cron entry wrapper for a scheduled definition
func (s *Service) runDefinition(def *models.ScrapeDefinition) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job, err := s.startFromDefinition(ctx, def)
	if err != nil {
		s.logger.Warn().Str("definition", def.ID).Err(err).Msg("Scheduled scrape failed to start")
		return
	}
	s.logger.Info().
		Str("definition", def.ID).
		Str("job_id", job.ID).
		Str("url", def.URL).
		Msg("Scheduled scrape started")
}

func (s *Service) startFromDefinition(ctx context.Context, def *models.ScrapeDefinition) (*models.ScrapeJob, error) {
	return s.starter.StartScrape(ctx, &scraper.ScrapeRequest{
		BaseURL: def.URL,
		Config: &scraper.ScrapeConfigRequest{
			MaxPages:        def.MaxPages,
			MaxDepth:        def.MaxDepth,
			Scope:           models.ScrapeScope(def.Scope),
			FetchMode:       models.FetchMode(def.FetchMode),
			IncludePatterns: def.IncludePatterns,
			ExcludePatterns: def.ExcludePatterns,
			Cookies:         def.Cookies,
			ForceRescrape:   def.ForceRescrape,
		},
		DefinitionID: def.ID,
	})
}

// sweepStaleJobs fails active jobs that have made no progress within the
// stale timeout. Tasks for a failed job drain harmlessly because workers
// re-check job status before acting.
func (s *Service) sweepStaleJobs() {
	timeout, err := time.ParseDuration(s.config.Scheduler.StaleTimeout)
	if err != nil || timeout <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobs, err := s.storage.JobStorage().GetActiveJobs(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stale job sweep failed to list active jobs")
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if now.Sub(job.UpdatedAt) < timeout {
			continue
		}
		reason := fmt.Sprintf("no progress for %s, marked stale", now.Sub(job.UpdatedAt).Round(time.Second))
		if _, err := s.storage.JobStorage().FailJob(ctx, job.ID, reason, false); err != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to mark stale job")
			continue
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("url", job.BaseURL).
			Str("last_update", job.UpdatedAt.Format(time.RFC3339)).
			Msg("Stale job failed by sweep")
	}
}

// runValueLogGC triggers one Badger value-log GC cycle
func (s *Service) runValueLogGC() {
	ratio := s.config.Storage.Badger.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	if err := s.storage.RunGC(ratio); err != nil {
		s.logger.Warn().Err(err).Msg("Badger value log GC failed")
		return
	}
	s.logger.Debug().Msg("Badger value log GC cycle completed")
}
