package utils

import (
	"sync"
	"testing"
)

func TestProgressTracker_Summary(t *testing.T) {
	tracker := NewProgressTracker(5, true)
	if tracker.bar != nil {
		t.Error("Expected quiet tracker to have no progress bar")
	}

	tracker.Record(OutcomeSucceeded)
	tracker.Record(OutcomeSucceeded)
	tracker.Record(OutcomeFailed)
	tracker.Record(OutcomePartial)
	tracker.Record(OutcomeSkipped)

	summary := tracker.Finish()
	if summary.Total != 5 || summary.Succeeded != 2 || summary.Failed != 1 || summary.Partial != 1 || summary.Skipped != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestProgressTracker_ConcurrentRecord(t *testing.T) {
	tracker := NewProgressTracker(100, true)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Record(OutcomeSucceeded)
		}()
	}
	wg.Wait()

	if summary := tracker.Finish(); summary.Succeeded != 100 {
		t.Errorf("Succeeded = %d, want 100", summary.Succeeded)
	}
}
