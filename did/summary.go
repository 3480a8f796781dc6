package did

import (
	"fmt"
	"time"
)

// Summary accumulates counters over one resolution run.
type Summary struct {
	DID          string
	Files        int
	FilesSkipped int
	TotalBytes   int64
	TotalEvents  int64
}

// NewSummary starts an empty summary for did.
func NewSummary(did string) *Summary {
	return &Summary{DID: did}
}

// Add counts a file that was reported to ServiceX.
func (s *Summary) Add(rec FileRecord) {
	s.Files++
	s.TotalBytes += rec.FileSize
	s.TotalEvents += rec.FileEvents
}

// Skip counts a file that was dropped before reporting.
func (s *Summary) Skip() {
	s.FilesSkipped++
}

// String renders a one-line human summary.
func (s *Summary) String() string {
	return fmt.Sprintf("DID %s - %.0f Mb %d Events in %d files (%d skipped)",
		s.DID, float64(s.TotalBytes)/1e6, s.TotalEvents, s.Files, s.FilesSkipped)
}

// CompletionReport is the body of PUT /complete.
type CompletionReport struct {
	Files        int   `json:"files"`
	FilesSkipped int   `json:"files-skipped"`
	TotalEvents  int64 `json:"total-events"`
	TotalBytes   int64 `json:"total-bytes"`
	ElapsedTime  int64 `json:"elapsed-time"`
}

// Report builds the completion document. Elapsed time is truncated to whole
// seconds.
func (s *Summary) Report(elapsed time.Duration) CompletionReport {
	return CompletionReport{
		Files:        s.Files,
		FilesSkipped: s.FilesSkipped,
		TotalEvents:  s.TotalEvents,
		TotalBytes:   s.TotalBytes,
		ElapsedTime:  int64(elapsed / time.Second),
	}
}
