package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/scraper"
	badgerstore "github.com/ternarybob/colligo/internal/storage/badger"
)

// fakeStarter records scrape requests instead of crawling
type fakeStarter struct {
	mu       sync.Mutex
	requests []*scraper.ScrapeRequest
}

func (f *fakeStarter) StartScrape(ctx context.Context, req *scraper.ScrapeRequest) (*models.ScrapeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &models.ScrapeJob{
		ID:      "job-fake",
		BaseURL: req.BaseURL,
		Status:  models.JobStatusPending,
	}, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestConfig(t *testing.T, definitionsDir string) *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Definitions.Dir = definitionsDir
	cfg.Scheduler.Enabled = false
	return cfg
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "blog.yaml", `
id: blog
name: Blog crawl
schedule: "0 6 * * *"
enabled: true
url: https://example.com/blog/
max_pages: 50
scope: subpages
fetch_mode: fast
`)
	writeDefinition(t, dir, "docs.yml", `
url: https://example.com/docs/
max_depth: 2
`)
	writeDefinition(t, dir, "notes.txt", "not a definition")

	cfg := newTestConfig(t, dir)
	storage, err := badgerstore.NewManager(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	svc, err := NewService(cfg, &fakeStarter{}, storage, arbor.NewLogger())
	require.NoError(t, err)

	defs := svc.Definitions()
	require.Len(t, defs, 2)

	// Sorted by id; "blog" before "docs"
	assert.Equal(t, "blog", defs[0].ID)
	assert.Equal(t, "Blog crawl", defs[0].Name)
	assert.Equal(t, 50, defs[0].MaxPages)
	assert.True(t, defs[0].Enabled)
	// Absent max_depth stays nil so the coordinator applies its default
	assert.Nil(t, defs[0].MaxDepth)

	// ID defaults to the file name without extension
	assert.Equal(t, "docs", defs[1].ID)
	require.NotNil(t, defs[1].MaxDepth)
	assert.Equal(t, 2, *defs[1].MaxDepth)
	assert.False(t, defs[1].Enabled)

	got, ok := svc.GetDefinition("blog")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/blog/", got.URL)

	_, ok = svc.GetDefinition("notes")
	assert.False(t, ok)
}

func TestLoadDefinitions_InvalidFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "good.yaml", `
url: https://example.com/
`)
	// Missing url
	writeDefinition(t, dir, "no-url.yaml", `
id: no-url
schedule: "0 6 * * *"
`)
	// Sub-minute schedules are rejected
	writeDefinition(t, dir, "too-frequent.yaml", `
url: https://example.com/
schedule: "*/1 * * * *"
`)
	// Not YAML at all
	writeDefinition(t, dir, "broken.yaml", "{{{ not yaml")

	cfg := newTestConfig(t, dir)
	storage, err := badgerstore.NewManager(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	svc, err := NewService(cfg, &fakeStarter{}, storage, arbor.NewLogger())
	require.NoError(t, err)

	defs := svc.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "good", defs[0].ID)
}

func TestLoadDefinitions_MissingDirectory(t *testing.T) {
	cfg := newTestConfig(t, filepath.Join(t.TempDir(), "does-not-exist"))
	storage, err := badgerstore.NewManager(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	svc, err := NewService(cfg, &fakeStarter{}, storage, arbor.NewLogger())
	require.NoError(t, err)
	assert.Empty(t, svc.Definitions())
}

func TestLoadDefinitions_DuplicateIDKeepsFirst(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "a.yaml", `
id: shared
url: https://example.com/first/
`)
	writeDefinition(t, dir, "b.yaml", `
id: shared
url: https://example.com/second/
`)

	cfg := newTestConfig(t, dir)
	storage, err := badgerstore.NewManager(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	svc, err := NewService(cfg, &fakeStarter{}, storage, arbor.NewLogger())
	require.NoError(t, err)

	defs := svc.Definitions()
	require.Len(t, defs, 1)
	// Directory entries are read in lexical order, so a.yaml wins
	assert.Equal(t, "https://example.com/first/", defs[0].URL)
}

func TestRunDefinition(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "manual.yaml", `
url: https://example.com/manual/
max_pages: 5
max_depth: 0
enabled: false
force_rescrape: true
`)

	cfg := newTestConfig(t, dir)
	storage, err := badgerstore.NewManager(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	starter := &fakeStarter{}
	svc, err := NewService(cfg, starter, storage, arbor.NewLogger())
	require.NoError(t, err)

	// Manual runs ignore the enabled flag
	job, err := svc.RunDefinition(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/manual/", job.BaseURL)
	require.Equal(t, 1, starter.count())

	req := starter.requests[0]
	assert.Equal(t, "manual", req.DefinitionID)
	assert.Equal(t, 5, req.Config.MaxPages)
	assert.True(t, req.Config.ForceRescrape)
	// An explicit max_depth of 0 travels as a set value, not "use default"
	require.NotNil(t, req.Config.MaxDepth)
	assert.Equal(t, 0, *req.Config.MaxDepth)

	// Unknown ids surface a validation error
	_, err = svc.RunDefinition(context.Background(), "nope")
	require.Error(t, err)
	var vErr *common.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestSweepStaleJobs(t *testing.T) {
	cfg := newTestConfig(t, "")
	cfg.Scheduler.StaleTimeout = "10m"

	storage, err := badgerstore.NewManager(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	svc, err := NewService(cfg, &fakeStarter{}, storage, arbor.NewLogger())
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC()

	stale := &models.ScrapeJob{
		ID:        "job-stale",
		BaseURL:   "https://example.com/",
		Status:    models.JobStatusProcessing,
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
	fresh := &models.ScrapeJob{
		ID:        "job-fresh",
		BaseURL:   "https://example.com/",
		Status:    models.JobStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	done := &models.ScrapeJob{
		ID:          "job-done",
		BaseURL:     "https://example.com/",
		Status:      models.JobStatusCompleted,
		CreatedAt:   now.Add(-2 * time.Hour),
		UpdatedAt:   now.Add(-2 * time.Hour),
		CompletedAt: now.Add(-2 * time.Hour),
	}
	require.NoError(t, storage.JobStorage().CreateJob(ctx, stale))
	require.NoError(t, storage.JobStorage().CreateJob(ctx, fresh))
	require.NoError(t, storage.JobStorage().CreateJob(ctx, done))

	svc.sweepStaleJobs()

	got, err := storage.JobStorage().GetJob(ctx, "job-stale")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "marked stale")

	got, err = storage.JobStorage().GetJob(ctx, "job-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)

	got, err = storage.JobStorage().GetJob(ctx, "job-done")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestSweepStaleJobs_DisabledWithoutTimeout(t *testing.T) {
	cfg := newTestConfig(t, "")
	cfg.Scheduler.StaleTimeout = ""

	storage, err := badgerstore.NewManager(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	svc, err := NewService(cfg, &fakeStarter{}, storage, arbor.NewLogger())
	require.NoError(t, err)

	ctx := context.Background()
	job := &models.ScrapeJob{
		ID:        "job-old",
		BaseURL:   "https://example.com/",
		Status:    models.JobStatusProcessing,
		CreatedAt: time.Now().Add(-24 * time.Hour),
		UpdatedAt: time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, storage.JobStorage().CreateJob(ctx, job))

	svc.sweepStaleJobs()

	got, err := storage.JobStorage().GetJob(ctx, "job-old")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func TestStartAndStop(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "scheduled.yaml", `
url: https://example.com/
schedule: "0 6 * * *"
enabled: true
`)

	cfg := newTestConfig(t, dir)
	cfg.Scheduler.Enabled = true

	storage, err := badgerstore.NewManager(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	svc, err := NewService(cfg, &fakeStarter{}, storage, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, svc.Start())
	// Starting twice is a no-op
	require.NoError(t, svc.Start())

	svc.Stop()
	// Stopping twice is a no-op
	svc.Stop()
}
