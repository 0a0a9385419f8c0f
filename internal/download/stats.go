package download

import (
	"sync"

	"github.com/ajitpratap0/sg-archive/internal/metrics"
)

// Failure describes one transfer that did not complete.
type Failure struct {
	URL  string `json:"url"`
	Dest string `json:"dest"`
	Err  string `json:"error"`
}

// Stats accumulates download outcomes across every entity type of a run.
// It is shared by all schedulers and their workers.
type Stats struct {
	mu         sync.Mutex
	queued     int
	downloaded int
	skipped    []string
	failed     []Failure
}

// NewStats returns empty stats.
func NewStats() *Stats { return &Stats{} }

func (s *Stats) addQueued() {
	s.mu.Lock()
	s.queued++
	s.mu.Unlock()
	metrics.DownloadsQueued.Inc()
}

func (s *Stats) addDownloaded() {
	s.mu.Lock()
	s.downloaded++
	s.mu.Unlock()
	metrics.DownloadsCompleted.Inc()
}

func (s *Stats) addFailure(f Failure) {
	s.mu.Lock()
	s.failed = append(s.failed, f)
	s.mu.Unlock()
	metrics.DownloadsFailed.Inc()
}

// AddSkipped records a file left out by an extension rule.
func (s *Stats) AddSkipped(path string) {
	s.mu.Lock()
	s.skipped = append(s.skipped, path)
	s.mu.Unlock()
	metrics.DownloadsSkipped.Inc()
}

// Queued returns the number of transfers started.
func (s *Stats) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Downloaded returns the number of completed transfers.
func (s *Stats) Downloaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloaded
}

// Skipped returns the paths skipped by extension rules.
func (s *Stats) Skipped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.skipped...)
}

// Failures returns a copy of the failed transfers.
func (s *Stats) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure(nil), s.failed...)
}

// Summary is the end-of-run download report.
type Summary struct {
	Downloaded int       `json:"downloaded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures,omitempty"`
	// Omitted counts failures beyond the display cap.
	Omitted int `json:"omitted,omitempty"`
}

// Summary reports totals and at most maxFailures individual failures.
// A negative maxFailures lists every failure.
func (s *Stats) Summary(maxFailures int) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		Downloaded: s.downloaded,
		Skipped:    len(s.skipped),
		Failed:     len(s.failed),
	}
	shown := s.failed
	if maxFailures >= 0 && len(shown) > maxFailures {
		shown = shown[:maxFailures]
		sum.Omitted = len(s.failed) - maxFailures
	}
	sum.Failures = append([]Failure(nil), shown...)
	return sum
}
