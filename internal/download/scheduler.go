// Package download runs file transfers next to the page loop with bounded concurrency.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/sg-archive/internal/metrics"
)

// ErrDestinationCollision is returned when two different owners compute the same local path.
var ErrDestinationCollision = errors.New("destination already claimed by another record")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("scheduler closed")

// Mode decides whether files are fetched.
type Mode string

const (
	// ModeAll fetches every file not already present.
	ModeAll Mode = "all"
	// ModeMissing fetches files not already present. It behaves like ModeAll.
	ModeMissing Mode = "missing"
	// ModeNo never fetches; callers still record local paths.
	ModeNo Mode = "no"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAll, ModeMissing, ModeNo:
		return m, nil
	}
	return "", fmt.Errorf("invalid download mode %q (want all, missing or no)", s)
}

// Status is the outcome of Submit.
type Status int

const (
	// StatusQueued means a transfer was started.
	StatusQueued Status = iota
	// StatusPresent means the destination already exists.
	StatusPresent
	// StatusPending means the destination is already queued in this run.
	StatusPending
	// StatusDisabled means downloads are off.
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusPresent:
		return "present"
	case StatusPending:
		return "pending"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Task is one file to fetch. Owner identifies the record field the file belongs to,
// e.g. "Shot:12:image"; two owners may not share a destination within one run.
type Task struct {
	URL   string
	Dest  string
	Owner string
}

// Options configures a Scheduler.
type Options struct {
	Mode Mode
	// Workers bounds concurrent transfers. Zero means 4 per CPU.
	Workers    int
	HTTPClient *http.Client
}

// Scheduler is the worker pool of one entity type's archival run. Submit and Drain are
// called from the page loop; transfers run on a fixed set of Workers goroutines that
// take tasks from an unbounded backlog, so Submit never waits for a free worker.
type Scheduler struct {
	opts    Options
	client  *http.Client
	stats   *Stats
	logger  *slog.Logger
	tasks   sync.WaitGroup
	workers sync.WaitGroup

	mu      sync.Mutex
	ready   *sync.Cond
	backlog []transfer
	started bool
	stopped bool
	claims  map[string]string
	queued  map[string]bool
	pending int
	closed  bool
}

// transfer is a queued Task with the context it was submitted under.
type transfer struct {
	ctx  context.Context
	url  string
	dest string
}

// NewScheduler creates a scheduler that reports into stats.
func NewScheduler(opts Options, stats *Stats, logger *slog.Logger) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 4 * runtime.NumCPU()
	}
	if opts.Mode == "" {
		opts.Mode = ModeMissing
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	if stats == nil {
		stats = NewStats()
	}
	s := &Scheduler{
		opts:   opts,
		client: client,
		stats:  stats,
		logger: logger,
		claims: make(map[string]string),
		queued: make(map[string]bool),
	}
	s.ready = sync.NewCond(&s.mu)
	return s
}

// Mode returns the configured download mode.
func (s *Scheduler) Mode() Mode { return s.opts.Mode }

// Stats returns the shared stats.
func (s *Scheduler) Stats() *Stats { return s.stats }

// Submit schedules t. It never blocks on network I/O. A destination that already exists
// is left alone and reported as StatusPresent.
func (s *Scheduler) Submit(ctx context.Context, t Task) (Status, error) {
	dest := filepath.Clean(t.Dest)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if owner, ok := s.claims[dest]; ok && owner != t.Owner {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s (claimed by %s, requested by %s)", ErrDestinationCollision, dest, owner, t.Owner)
	}
	s.claims[dest] = t.Owner
	s.mu.Unlock()

	if s.opts.Mode == ModeNo {
		return StatusDisabled, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("creating directory for %s: %w", dest, err)
	}
	if _, err := os.Stat(dest); err == nil {
		return StatusPresent, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued[dest] {
		return StatusPending, nil
	}
	s.queued[dest] = true
	s.pending++
	s.tasks.Add(1)
	s.stats.addQueued()
	s.logger.Debug("queued download", "dest", dest)

	if !s.started {
		s.started = true
		s.workers.Add(s.opts.Workers)
		for range s.opts.Workers {
			go s.work()
		}
	}
	s.backlog = append(s.backlog, transfer{ctx: ctx, url: t.URL, dest: dest})
	s.ready.Signal()
	return StatusQueued, nil
}

// Pending returns the number of transfers queued since the last Drain.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Drain blocks until every transfer submitted so far has finished.
func (s *Scheduler) Drain() {
	s.tasks.Wait()
	s.mu.Lock()
	s.pending = 0
	s.mu.Unlock()
}

// Close drains outstanding transfers, stops the workers and rejects further
// submissions. It is safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Drain()

	s.mu.Lock()
	s.stopped = true
	s.ready.Broadcast()
	s.mu.Unlock()
	s.workers.Wait()
}

// work runs transfers from the backlog until Close.
func (s *Scheduler) work() {
	defer s.workers.Done()
	for {
		s.mu.Lock()
		for len(s.backlog) == 0 && !s.stopped {
			s.ready.Wait()
		}
		if len(s.backlog) == 0 {
			s.mu.Unlock()
			return
		}
		t := s.backlog[0]
		s.backlog[0] = transfer{}
		s.backlog = s.backlog[1:]
		s.mu.Unlock()

		s.run(t.ctx, t.url, t.dest)
	}
}

func (s *Scheduler) run(ctx context.Context, url, dest string) {
	defer s.tasks.Done()
	if err := ctx.Err(); err != nil {
		s.fail(url, dest, err)
		return
	}

	start := time.Now()
	if err := s.fetch(ctx, url, dest); err != nil {
		s.fail(url, dest, err)
		return
	}
	metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	s.stats.addDownloaded()
	s.logger.Debug("download finished", "dest", filepath.Base(dest))
}

func (s *Scheduler) fail(url, dest string, err error) {
	s.stats.addFailure(Failure{URL: url, Dest: dest, Err: err.Error()})
	s.logger.Warn("download failed", "dest", dest, "error", err)
}

// fetch streams url into a temporary sibling of dest and renames it into place, so an
// interrupted transfer never leaves a file that looks present.
func (s *Scheduler) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := dest + "." + uuid.NewString() + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
