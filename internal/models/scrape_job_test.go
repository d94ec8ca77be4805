package models

import "testing"

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	active := []JobStatus{JobStatusPending, JobStatusDiscovering, JobStatusProcessing}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestTerminationDue(t *testing.T) {
	tests := []struct {
		name string
		job  ScrapeJob
		want bool
	}{
		{
			name: "fresh job with no work is vacuously done",
			job:  ScrapeJob{},
			want: true,
		},
		{
			name: "discovery still in flight",
			job:  ScrapeJob{TotalURLs: 3, InFlightDiscovery: 1, ProcessedCount: 3},
			want: false,
		},
		{
			name: "pages still unresolved",
			job:  ScrapeJob{TotalURLs: 5, InFlightDiscovery: 0, ProcessedCount: 3, FailedCount: 1},
			want: false,
		},
		{
			name: "all processed",
			job:  ScrapeJob{TotalURLs: 5, InFlightDiscovery: 0, ProcessedCount: 5},
			want: true,
		},
		{
			name: "failures count toward resolution",
			job:  ScrapeJob{TotalURLs: 5, InFlightDiscovery: 0, ProcessedCount: 3, FailedCount: 2},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.TerminationDue(); got != tt.want {
				t.Errorf("TerminationDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTerminalStatus(t *testing.T) {
	clean := ScrapeJob{TotalURLs: 2, ProcessedCount: 2}
	if got := clean.TerminalStatus(); got != JobStatusCompleted {
		t.Errorf("TerminalStatus() = %s, want completed", got)
	}

	dirty := ScrapeJob{TotalURLs: 2, ProcessedCount: 1, FailedCount: 1}
	if got := dirty.TerminalStatus(); got != JobStatusCompletedWithErrors {
		t.Errorf("TerminalStatus() = %s, want completed_with_errors", got)
	}
}

func TestScrapeJobJSONRoundTrip(t *testing.T) {
	job := &ScrapeJob{
		ID:      "job-1",
		BaseURL: "https://example.com/",
		Status:  JobStatusProcessing,
		Config: ScrapeConfig{
			MaxPages:  10,
			MaxDepth:  2,
			Scope:     ScopeSubpages,
			FetchMode: FetchModeAuto,
		},
		TotalURLs:      4,
		ProcessedCount: 2,
	}

	data, err := job.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	got, err := ScrapeJobFromJSON(data)
	if err != nil {
		t.Fatalf("ScrapeJobFromJSON failed: %v", err)
	}
	if got.ID != job.ID || got.Status != job.Status || got.Config.Scope != job.Config.Scope {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
