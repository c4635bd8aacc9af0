package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// Outcome classifies the result of one batch item
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomePartial
	OutcomeSkipped
)

// ProgressTracker displays progress of a batch of share operations
type ProgressTracker struct {
	bar       *pb.ProgressBar
	quiet     bool
	out       io.Writer
	startTime time.Time
	total     int
	mutex     sync.Mutex

	succeeded int
	failed    int
	partial   int
	skipped   int
}

// BatchSummary contains final batch statistics
type BatchSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Partial   int
	Skipped   int
	TotalTime time.Duration
}

// NewProgressTracker creates a tracker for total items
func NewProgressTracker(total int, quiet bool) *ProgressTracker {
	tracker := &ProgressTracker{
		quiet:     quiet,
		out:       os.Stderr,
		startTime: time.Now(),
		total:     total,
	}

	if !quiet {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{string . "status"}} {{etime . }}`
		bar := pb.ProgressBarTemplate(tmpl).New(total)
		bar.SetWriter(tracker.out)
		bar.Set("prefix", "Refreshing: ")
		bar.Start()
		tracker.bar = bar
	}

	return tracker
}

// Record counts one finished item; safe for concurrent use
func (p *ProgressTracker) Record(o Outcome) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	switch o {
	case OutcomeSucceeded:
		p.succeeded++
	case OutcomeFailed:
		p.failed++
	case OutcomePartial:
		p.partial++
	default:
		p.skipped++
	}

	if p.bar != nil {
		p.bar.Increment()
		p.bar.Set("status", fmt.Sprintf("ok:%d fail:%d partial:%d", p.succeeded, p.failed, p.partial))
	}
}

// Finish completes the progress bar and returns the batch summary
func (p *ProgressTracker) Finish() *BatchSummary {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.bar != nil {
		p.bar.Finish()
	}

	summary := &BatchSummary{
		Total:     p.total,
		Succeeded: p.succeeded,
		Failed:    p.failed,
		Partial:   p.partial,
		Skipped:   p.skipped,
		TotalTime: time.Since(p.startTime),
	}

	if !p.quiet {
		p.displaySummary(summary)
	}

	return summary
}

// displaySummary prints the batch summary statistics
func (p *ProgressTracker) displaySummary(summary *BatchSummary) {
	fmt.Fprintf(p.out, "\n")
	fmt.Fprintf(p.out, "Refresh finished in %v\n", summary.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(p.out, "Succeeded: %d  Failed: %d  Needs review: %d  Skipped: %d  (of %d)\n",
		summary.Succeeded, summary.Failed, summary.Partial, summary.Skipped, summary.Total)
}
