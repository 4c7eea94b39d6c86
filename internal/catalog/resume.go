package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// ResumeState records which ids have been enriched with at least one
// location, so later runs can skip completed work. An id in the state
// implies the catalog holds a record with a non-empty location list.
type ResumeState struct {
	path string

	mu  sync.Mutex
	ids map[string]struct{}
}

type resumeFile struct {
	ProcessedIDs []string `json:"processedIds"`
	LastRunDate  string   `json:"lastRunDate"`
}

// LoadResumeState reads resume state from disk; a missing file yields an
// empty state.
func LoadResumeState(path string) (*ResumeState, error) {
	state := &ResumeState{path: path, ids: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("read resume state: %w", err)
	}
	var file resumeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse resume state: %w", err)
	}
	for _, id := range file.ProcessedIDs {
		state.ids[id] = struct{}{}
	}
	return state, nil
}

// Contains reports whether id has already been processed.
func (s *ResumeState) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of processed ids.
func (s *ResumeState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// MarkProcessed adds ids to the state. Callers must only pass ids whose
// catalog record ended up with a non-empty location list.
func (s *ResumeState) MarkProcessed(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Reset clears all processed ids.
func (s *ResumeState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}

// Save persists the state. A failure here is fatal to the run.
func (s *ResumeState) Save(now time.Time) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	data, err := json.MarshalIndent(resumeFile{
		ProcessedIDs: ids,
		LastRunDate:  now.UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode resume state: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write resume state: %w", err)
	}
	return nil
}
