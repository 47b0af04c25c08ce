package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const prefix = "[stitch]"

// Options configures the progress reporter.
type Options struct {
	TotalSize   int64 // bytes in the file being uploaded
	TotalShards int
	ShardSize   int64 // length of every shard but possibly the last
	Workers     int   // concurrent shard uploads

	// Source and Destination are shown in the header.
	Source      string
	Destination string

	// Output defaults to os.Stdout.
	Output io.Writer

	// UpdateInterval defaults to 500ms.
	UpdateInterval time.Duration
}

// Snapshot is the state of an upload at one point in time.
type Snapshot struct {
	Bytes     int64
	Completed int
	Failed    int
	Active    int
	Pending   int
	Elapsed   time.Duration
}

// Reporter prints upload progress. It implements sharded.Progress and is
// safe for use by concurrent shard uploads.
type Reporter struct {
	opts Options

	bytes     atomic.Int64
	completed atomic.Int32
	failed    atomic.Int32
	active    atomic.Int32

	mu      sync.Mutex
	start   time.Time
	state   int // 0 new, 1 running, 2 stopped
	stop    chan struct{}
	stopped chan struct{}

	// Used by the update loop only.
	lastTick  time.Time
	lastBytes int64
}

// NewReporter creates a reporter. Nothing is printed before Start.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	return &Reporter{
		opts:    opts,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != 0 {
		return
	}
	r.state = 1
	r.start = time.Now()
	r.lastTick = r.start

	r.printf("%s Uploading: %s -> %s\n", prefix, r.opts.Source, r.opts.Destination)
	r.printf("%s Total size: %s | Shards: %d x %s | Workers: %d\n", prefix,
		FormatBytes(r.opts.TotalSize), r.opts.TotalShards, FormatBytes(r.opts.ShardSize), r.opts.Workers)

	go r.loop()
}

// Stop ends the updates and prints a summary. It blocks until the summary is
// written; calling it again, or without Start, does nothing.
func (r *Reporter) Stop() {
	r.mu.Lock()
	prev := r.state
	r.state = 2
	r.mu.Unlock()

	switch prev {
	case 0:
		close(r.stop)
	case 1:
		close(r.stop)
		<-r.stopped
	}
}

func (r *Reporter) ShardStarted() { r.active.Add(1) }

func (r *Reporter) BytesWritten(n int64) { r.bytes.Add(n) }

func (r *Reporter) ShardCompleted() {
	r.completed.Add(1)
	r.active.Add(-1)
}

func (r *Reporter) ShardFailed() {
	r.failed.Add(1)
	r.active.Add(-1)
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		Bytes:     r.bytes.Load(),
		Completed: int(r.completed.Load()),
		Failed:    int(r.failed.Load()),
		Active:    int(r.active.Load()),
	}
	s.Pending = max(r.opts.TotalShards-s.Completed-s.Failed-s.Active, 0)
	r.mu.Lock()
	if !r.start.IsZero() {
		s.Elapsed = time.Since(r.start)
	}
	r.mu.Unlock()
	return s
}

func (r *Reporter) loop() {
	defer close(r.stopped)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.printSummary(r.Snapshot())
			return
		case now := <-ticker.C:
			s := r.Snapshot()
			speed := rate(s.Bytes-r.lastBytes, now.Sub(r.lastTick))
			r.lastTick, r.lastBytes = now, s.Bytes
			r.printUpdate(s, speed)
		}
	}
}

// printUpdate redraws the two status lines in place.
func (r *Reporter) printUpdate(s Snapshot, speed float64) {
	percent := 0.0
	eta := "calculating..."
	if r.opts.TotalSize > 0 {
		percent = float64(s.Bytes) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			left := float64(r.opts.TotalSize - s.Bytes)
			eta = formatDuration(time.Duration(left / speed * float64(time.Second)))
		}
	}
	r.printf("\r%s Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ", prefix,
		percent, FormatBytes(s.Bytes), FormatBytes(r.opts.TotalSize), FormatBytes(int64(speed)), eta)
	r.printf("\n%s Shards: %d completed | %d failed | %d in-progress | %d pending    \033[A", prefix,
		s.Completed, s.Failed, s.Active, s.Pending)
}

func (r *Reporter) printSummary(s Snapshot) {
	speed := rate(s.Bytes, s.Elapsed)
	status := "Complete!"
	if s.Failed > 0 {
		status = "Failed"
	}
	r.printf("\r%s Progress: %s / %s | Speed: %s/s | %s    \n", prefix,
		FormatBytes(s.Bytes), FormatBytes(r.opts.TotalSize), FormatBytes(int64(speed)), status)
	r.printf("%s Shards: %d completed | %d failed    \n", prefix, s.Completed, s.Failed)
	r.printf("%s Total time: %s | Average speed: %s/s\n", prefix, formatDuration(s.Elapsed), FormatBytes(int64(speed)))
}

func (r *Reporter) printf(format string, args ...any) {
	fmt.Fprintf(r.opts.Output, format, args...)
}

// rate returns bytes per second, treating very short intervals as 100ms.
func rate(n int64, d time.Duration) float64 {
	return float64(n) / max(d.Seconds(), 0.1)
}
