package transfer

import (
	"math"
	"time"
)

// FileProgress is the percentage of a file transferred. It reports 100 only
// once every byte is accounted for.
func FileProgress(done, size int64) int {
	if size <= 0 || done >= size {
		return 100
	}
	if done <= 0 {
		return 0
	}
	p := int(math.Round(float64(done) / float64(size) * 100))
	return min(p, 99)
}

// AggregateProgress combines the files already completed with the progress
// of the current one.
func AggregateProgress(completed, total, fileProgress int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(completed)/float64(total)*100 + float64(fileProgress)/float64(total)))

	finished := completed >= total || (completed == total-1 && fileProgress >= 100)
	if !finished {
		p = min(p, 99)
	}
	return max(0, min(p, 100))
}

// ETA estimates the time left. ok is false when no throughput has been
// measured yet.
func ETA(remaining int64, throughput float64) (eta time.Duration, ok bool) {
	if throughput <= 0 {
		return 0, false
	}
	if remaining <= 0 {
		return 0, true
	}
	return time.Duration(float64(remaining) / throughput * float64(time.Second)), true
}

// Stats are the cumulative counters of one batch.
type Stats struct {
	StartTime        time.Time
	BytesTransferred int64
	FilesTransferred int
}

// Throughput is bytes per second since StartTime.
func (s Stats) Throughput(now time.Time) float64 {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.BytesTransferred) / elapsed
}

// Snapshot is the progress of a batch at one moment.
type Snapshot struct {
	FileName   string
	FileIndex  int
	TotalFiles int
	FileBytes  int64
	FileSize   int64

	FileProgress int
	Progress     int

	BytesTransferred int64
	TotalBytes       int64
	Throughput       float64
	ETA              time.Duration
	HasETA           bool
	Done             bool
}

// Tracker derives snapshots from byte counters. It is driven by a single
// goroutine.
type Tracker struct {
	now        func() time.Time
	observer   func(Snapshot)
	stats      Stats
	totalFiles int
	totalBytes int64

	fileName  string
	fileIndex int
	fileSize  int64
	fileBytes int64
	completed int
}

// NewTracker starts tracking a batch. totalBytes may be zero when the
// receiver does not know it yet.
func NewTracker(totalFiles int, totalBytes int64, observer func(Snapshot)) *Tracker {
	return newTracker(totalFiles, totalBytes, observer, time.Now)
}

func newTracker(totalFiles int, totalBytes int64, observer func(Snapshot), now func() time.Time) *Tracker {
	return &Tracker{
		now:        now,
		observer:   observer,
		stats:      Stats{StartTime: now()},
		totalFiles: totalFiles,
		totalBytes: totalBytes,
	}
}

// StartFile begins the file at 1-based index.
func (t *Tracker) StartFile(index, totalFiles int, name string, size int64) Snapshot {
	if totalFiles > 0 {
		t.totalFiles = totalFiles
	}
	t.fileIndex = index
	t.fileName = name
	t.fileSize = size
	t.fileBytes = 0
	t.completed = index - 1
	return t.emit()
}

// Add records n more bytes of the current file.
func (t *Tracker) Add(n int64) Snapshot {
	t.fileBytes += n
	t.stats.BytesTransferred += n
	return t.emit()
}

// FinishFile marks the current file complete.
func (t *Tracker) FinishFile() Snapshot {
	t.completed = t.fileIndex
	t.stats.FilesTransferred++
	return t.emit()
}

func (t *Tracker) Stats() Stats {
	return t.stats
}

func (t *Tracker) Snapshot() Snapshot {
	now := t.now()
	fp := 0
	if t.fileIndex > 0 {
		fp = FileProgress(t.fileBytes, t.fileSize)
	}
	if t.completed >= t.fileIndex && t.fileIndex > 0 {
		fp = 100
	}

	throughput := t.stats.Throughput(now)
	remaining := t.fileSize - t.fileBytes
	if t.totalBytes > 0 {
		remaining = t.totalBytes - t.stats.BytesTransferred
	}
	eta, ok := ETA(remaining, throughput)

	completed := t.completed
	if t.fileIndex > 0 && completed >= t.fileIndex {
		completed = t.fileIndex - 1
	}

	return Snapshot{
		FileName:         t.fileName,
		FileIndex:        t.fileIndex,
		TotalFiles:       t.totalFiles,
		FileBytes:        t.fileBytes,
		FileSize:         t.fileSize,
		FileProgress:     fp,
		Progress:         AggregateProgress(completed, t.totalFiles, fp),
		BytesTransferred: t.stats.BytesTransferred,
		TotalBytes:       t.totalBytes,
		Throughput:       throughput,
		ETA:              eta,
		HasETA:           ok,
		Done:             t.totalFiles > 0 && t.completed >= t.totalFiles,
	}
}

func (t *Tracker) emit() Snapshot {
	s := t.Snapshot()
	if t.observer != nil {
		t.observer(s)
	}
	return s
}
