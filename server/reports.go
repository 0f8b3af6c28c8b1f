package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/sqdis/pipeline"
)

// entry is a server-side reference to an analysed report.
type entry struct {
	report   *pipeline.Report
	created  time.Time
	lastUsed time.Time
}

// ReportStore maps opaque string IDs to reports from earlier Analyze calls
// so ListFunctions can refer to them without resending the file.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]*entry
	nextID  atomic.Uint64
}

// NewReportStore creates an empty store.
func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]*entry)}
}

// Create registers a report and returns its handle.
func (s *ReportStore) Create(r *pipeline.Report) string {
	id := fmt.Sprintf("r-%d", s.nextID.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.reports[id] = &entry{report: r, created: now, lastUsed: now}
	return id
}

// Lookup retrieves the report for a handle.
func (s *ReportStore) Lookup(id string) (*pipeline.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.reports[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.report, true
}

// Release removes a handle.
func (s *ReportStore) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reports, id)
}

// Len returns the number of stored reports.
func (s *ReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// Sweep removes reports that haven't been accessed within the TTL.
func (s *ReportStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, e := range s.reports {
		if e.lastUsed.Before(cutoff) {
			delete(s.reports, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("swept %d reports", removed)
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *ReportStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
