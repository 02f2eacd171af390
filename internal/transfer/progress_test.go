package transfer

import (
	"testing"
	"time"
)

func TestFileProgressBounds(t *testing.T) {
	tests := []struct {
		done, size int64
		want       int
	}{
		{0, 100, 0},
		{1, 100, 1},
		{50, 100, 50},
		{995, 1000, 99},
		{999, 1000, 99},
		{1000, 1000, 100},
		{0, 0, 100},
	}
	for _, tt := range tests {
		if got := FileProgress(tt.done, tt.size); got != tt.want {
			t.Errorf("FileProgress(%d, %d) = %d, want %d", tt.done, tt.size, got, tt.want)
		}
	}
}

func TestAggregateProgressMonotonicWithinFile(t *testing.T) {
	const size = 40000

	for _, total := range []int{1, 2, 3, 7} {
		for completed := 0; completed < total; completed++ {
			last := -1
			for done := int64(0); done <= size; done += 1000 {
				p := AggregateProgress(completed, total, FileProgress(done, size))
				if p < last {
					t.Fatalf("total=%d completed=%d done=%d: progress fell from %d to %d", total, completed, done, last, p)
				}
				if p > 100 {
					t.Fatalf("progress %d above 100", p)
				}
				if p == 100 && (completed != total-1 || done != size) {
					t.Fatalf("total=%d completed=%d done=%d: reached 100 early", total, completed, done)
				}
				last = p
			}
		}
	}
}

func TestAggregateProgressAcrossFiles(t *testing.T) {
	if got := AggregateProgress(1, 2, 0); got != 50 {
		t.Errorf("AggregateProgress(1, 2, 0) = %d", got)
	}
	if got := AggregateProgress(1, 2, 100); got != 100 {
		t.Errorf("AggregateProgress(1, 2, 100) = %d", got)
	}
	if got := AggregateProgress(2, 2, 0); got != 100 {
		t.Errorf("AggregateProgress(2, 2, 0) = %d", got)
	}
	if got := AggregateProgress(0, 0, 50); got != 0 {
		t.Errorf("AggregateProgress with no files = %d", got)
	}
}

func TestETA(t *testing.T) {
	if _, ok := ETA(1000, 0); ok {
		t.Error("ETA reported with zero throughput")
	}
	eta, ok := ETA(1000, 500)
	if !ok || eta != 2*time.Second {
		t.Errorf("ETA = %v, %v", eta, ok)
	}
}

func TestTrackerSnapshots(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var seen []Snapshot
	tr := newTracker(2, 3000, func(s Snapshot) { seen = append(seen, s) }, clock)

	tr.StartFile(1, 2, "a", 1000)
	now = now.Add(time.Second)
	s := tr.Add(500)
	if s.FileProgress != 50 || s.Progress != 25 {
		t.Fatalf("after 500/1000: %+v", s)
	}
	if s.Throughput != 500 || !s.HasETA || s.ETA != 5*time.Second {
		t.Fatalf("rate: throughput=%v eta=%v ok=%v", s.Throughput, s.ETA, s.HasETA)
	}

	tr.Add(500)
	s = tr.FinishFile()
	if s.Progress != 50 || s.Done {
		t.Fatalf("after first file: %+v", s)
	}

	tr.StartFile(2, 2, "b", 2000)
	tr.Add(2000)
	s = tr.FinishFile()
	if s.Progress != 100 || !s.Done {
		t.Fatalf("after batch: %+v", s)
	}

	stats := tr.Stats()
	if stats.BytesTransferred != 3000 || stats.FilesTransferred != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	last := 0
	for _, s := range seen {
		if s.Progress < last {
			t.Fatalf("aggregate progress decreased: %d -> %d", last, s.Progress)
		}
		last = s.Progress
	}
}
